package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/auth"
	"github.com/vovakirdan/wiredm-server/internal/config"
	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/metrics"
	"github.com/vovakirdan/wiredm-server/internal/proto"
)

const (
	writeTimeout  = 10 * time.Second
	replyBuffer   = 8
	reasonReplace = "replaced by a newer connection"
)

var errReplaced = errors.New(reasonReplace)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	auth      *auth.Service
	messenger *core.Messenger
	presence  *core.Presence
	metrics   *metrics.Metrics
	cfg       config.WSConfig
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(
	authService *auth.Service,
	messenger *core.Messenger,
	presence *core.Presence,
	m *metrics.Metrics,
	cfg config.WSConfig,
	logger *zerolog.Logger,
) *WSHandler {
	return &WSHandler{
		auth:      authService,
		messenger: messenger,
		presence:  presence,
		metrics:   m,
		cfg:       cfg,
		log:       logger,
	}
}

// authenticate accepts the token from the Authorization header or, for
// browsers that cannot set headers on upgrade, the token query parameter.
func (h *WSHandler) authenticate(r *stdhttp.Request) (*auth.Claims, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return h.auth.ValidateToken(token)
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws unauthorized")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(claims.UserID, claims.Username, h.cfg.SendBuffer)
	if prev := h.presence.Register(client); prev != nil {
		h.log.Info().Int64("user_id", client.UserID).Str("client_id", prev.ID).Msg("replacing previous connection")
		prev.Kick()
	}
	h.metrics.SetConnections(h.presence.Count())
	defer func() {
		h.presence.Unregister(client)
		h.metrics.SetConnections(h.presence.Count())
	}()

	log := h.log.With().Int64("user_id", client.UserID).Str("client_id", client.ID).Logger()
	log.Debug().Msg("ws connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan proto.Outbound, replyBuffer)
	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, replies, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, replies, &log)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errReplaced):
		status = websocket.StatusPolicyViolation
		reason = reasonReplace
	case err != nil && !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	log.Debug().Int("status", int(status)).Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	client *core.Client,
	replies chan<- proto.Outbound,
	log *zerolog.Logger,
) error {
	limiter := newConnLimiter(h.cfg)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		var out proto.Outbound
		if !limiter.Allow() {
			h.metrics.IncRateLimited("ws")
			out = errorFrame(inbound.ID, proto.CodeRateLimited, "too many messages")
		} else {
			out = h.dispatch(ctx, client, inbound, log)
		}

		select {
		case replies <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	client *core.Client,
	replies <-chan proto.Outbound,
	log *zerolog.Logger,
) error {
	for {
		var out proto.Outbound
		select {
		case event := <-client.Events:
			out = outboundFromEvent(event)
		case out = <-replies:
		case <-client.Done():
			// close before the read loop is cancelled so the peer sees the reason
			conn.Close(websocket.StatusPolicyViolation, reasonReplace)
			return errReplaced
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := writeFrame(ctx, conn, out); err != nil {
			log.Error().Err(err).Msg("write ws frame")
			return err
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}

func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, in proto.Inbound, log *zerolog.Logger) proto.Outbound {
	switch in.Type {
	case proto.InboundTypeHello:
		var hello proto.HelloData
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &hello); err != nil {
				return errorFrame(in.ID, proto.CodeBadRequest, "invalid hello payload")
			}
		}
		if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
			return errorFrame(in.ID, proto.CodeUnsupportedVersion,
				fmt.Sprintf("unsupported protocol %d, server speaks %d", hello.Protocol, proto.ProtocolVersion))
		}
		return ackFrame(in.ID, proto.HelloAck{Protocol: proto.ProtocolVersion, UserID: client.UserID})

	case proto.InboundTypePing:
		return proto.Outbound{Type: proto.OutboundTypePong, ID: in.ID}

	case proto.InboundTypeSend:
		var data proto.SendData
		if err := decodeData(in, &data); err != nil || data.To <= 0 {
			return errorFrame(in.ID, proto.CodeBadRequest, "send requires a recipient")
		}
		view, err := h.messenger.Send(ctx, client.UserID, data.To, data.Body, data.Image)
		if err != nil {
			return failure(in.ID, err, log)
		}
		return ackFrame(in.ID, proto.NewMessageData{Message: messageFromView(view)})

	case proto.InboundTypeReact:
		var data proto.ReactData
		if err := decodeData(in, &data); err != nil || data.MessageID == "" {
			return errorFrame(in.ID, proto.CodeBadRequest, "react requires a message id")
		}
		reactions, err := h.messenger.React(ctx, data.MessageID, client.UserID, data.Emoji)
		if err != nil {
			return failure(in.ID, err, log)
		}
		return ackFrame(in.ID, proto.ReactionsData{
			MessageID: data.MessageID,
			Reactions: reactionsFromViews(reactions),
		})

	case proto.InboundTypeDelete:
		var data proto.DeleteData
		if err := decodeData(in, &data); err != nil || data.MessageID == "" {
			return errorFrame(in.ID, proto.CodeBadRequest, "delete requires a message id")
		}
		scope, err := core.ParseDeleteScope(data.Scope)
		if err != nil {
			return failure(in.ID, err, log)
		}
		if err := h.messenger.Delete(ctx, data.MessageID, client.UserID, scope); err != nil {
			return failure(in.ID, err, log)
		}
		return ackFrame(in.ID, proto.DeleteMessageData{MessageID: data.MessageID})

	default:
		return errorFrame(in.ID, proto.CodeUnknownType, "unknown message type")
	}
}

func decodeData(in proto.Inbound, v any) error {
	if len(in.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(in.Data, v)
}

func ackFrame(id string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeAck, ID: id, Data: data}
}

func errorFrame(id, code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, ID: id, Error: &proto.Error{Code: code, Msg: msg}}
}

func failure(id string, err error, log *zerolog.Logger) proto.Outbound {
	if core.KindOf(err) == core.KindStore {
		log.Error().Err(err).Msg("ws action failed")
	}
	return proto.Outbound{Type: proto.OutboundTypeError, ID: id, Error: protoError(err)}
}
