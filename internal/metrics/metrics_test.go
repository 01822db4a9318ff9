package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetConnections(3)
	m.ObserveFanout("newMessage", OutcomeDelivered)
	m.ObserveFanout("newMessage", OutcomeDelivered)
	m.ObserveFanout("newMessage", OutcomeOffline)
	m.IncMessageOp("send")
	m.IncRateLimited("ws")
	m.ObserveRequest("GET", "/api/conversations", 200, 15*time.Millisecond)

	require.Equal(t, 3.0, testutil.ToFloat64(m.Connections))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Fanout.WithLabelValues("newMessage", OutcomeDelivered)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Fanout.WithLabelValues("newMessage", OutcomeOffline)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("send")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("ws")))
	require.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetConnections(1)
	m.ObserveFanout("deleteMessage", OutcomeDropped)
	m.IncMessageOp("react")
	m.IncRateLimited("http")
	m.ObserveRequest("POST", "/api/login", 401, time.Millisecond)
}
