package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm-server/internal/auth"
	"github.com/vovakirdan/wiredm-server/internal/config"
	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/metrics"
	"github.com/vovakirdan/wiredm-server/internal/proto"
	"github.com/vovakirdan/wiredm-server/internal/store"
	"github.com/vovakirdan/wiredm-server/internal/store/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server   *httptest.Server
	store    store.Store
	auth     *auth.Service
	presence *core.Presence
	metrics  *metrics.Metrics
	deps     Deps
	cfg      config.Config
}

type envOption func(*config.Config, *Deps)

func withLimiter(l Limiter) envOption {
	return func(_ *config.Config, d *Deps) { d.Limiter = l }
}

func withWSRate(perSecond float64, burst int) envOption {
	return func(c *config.Config, _ *Deps) {
		c.WS.RatePerSecond = perSecond
		c.WS.Burst = burst
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	presence := core.NewPresence()
	dir := core.NewDirectory(st)
	messenger := core.NewMessenger(st, dir, core.NewFanout(presence, m, &disabledLogger), m, &disabledLogger)

	cfg := config.Default()
	deps := Deps{
		Auth:      authService,
		Users:     st,
		Directory: dir,
		Messenger: messenger,
		Presence:  presence,
		Metrics:   m,
		Gatherer:  reg,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	ts := httptest.NewServer(NewHandler(deps, &cfg, &disabledLogger))
	t.Cleanup(ts.Close)

	return &testEnv{
		server:   ts,
		store:    st,
		auth:     authService,
		presence: presence,
		metrics:  m,
		deps:     deps,
		cfg:      cfg,
	}
}

// register creates a user and returns its token and id.
func (e *testEnv) register(t *testing.T, username string) (string, int64) {
	t.Helper()
	token, user, err := e.auth.Register(context.Background(), auth.Registration{
		Username: username,
		Password: "password123",
	})
	require.NoError(t, err)
	return token, user.ID
}

// do performs a JSON request and decodes the response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := stdhttp.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
}

// testFrame mirrors proto.Outbound with raw data for typed decoding.
type testFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// dial connects with token and completes a hello so the connection is
// registered for fan-out before returning.
func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	sendFrame(t, ctx, conn, proto.InboundTypeHello, "hello-1", proto.HelloData{Protocol: proto.ProtocolVersion})
	ack := readFrame(t, ctx, conn)
	require.Equal(t, proto.OutboundTypeAck, ack.Type)
	require.Equal(t, "hello-1", ack.ID)
	return conn
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ, id string, data any) {
	t.Helper()

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: raw}))
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) testFrame {
	t.Helper()

	var frame testFrame
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	return frame
}

// readEvent reads frames until an event named name arrives.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, name string) testFrame {
	t.Helper()

	for {
		frame := readFrame(t, ctx, conn)
		if frame.Type == proto.OutboundTypeEvent && frame.Event == name {
			return frame
		}
	}
}

// readReply reads frames until the ack or error answering id arrives.
func readReply(t *testing.T, ctx context.Context, conn *websocket.Conn, id string) testFrame {
	t.Helper()

	for {
		frame := readFrame(t, ctx, conn)
		if frame.ID == id && frame.Type != proto.OutboundTypeEvent {
			return frame
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
