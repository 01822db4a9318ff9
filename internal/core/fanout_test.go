package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm-server/internal/metrics"
)

func TestFanoutDelivers(t *testing.T) {
	p := NewPresence()
	m := metrics.New(prometheus.NewRegistry())
	f := NewFanout(p, m, nil)

	bob := NewClient(2, "bob", 4)
	p.Register(bob)

	f.Notify(2, &Event{Name: EventDeleteMessage, MessageID: "m1"})

	ev := mustEvent(t, bob.Events, EventDeleteMessage)
	require.Equal(t, "m1", ev.MessageID)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Fanout.WithLabelValues("deleteMessage", metrics.OutcomeDelivered)))
}

func TestFanoutOfflineIsSilent(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := NewFanout(NewPresence(), m, nil)

	f.Notify(42, &Event{Name: EventNewMessage})

	require.Equal(t, 1.0, testutil.ToFloat64(m.Fanout.WithLabelValues("newMessage", metrics.OutcomeOffline)))
}

func TestFanoutDropsForSlowConsumer(t *testing.T) {
	p := NewPresence()
	m := metrics.New(prometheus.NewRegistry())
	f := NewFanout(p, m, nil)

	bob := NewClient(2, "bob", 1)
	p.Register(bob)

	f.Notify(2, &Event{Name: EventMessageReaction, MessageID: "first"})
	f.Notify(2, &Event{Name: EventMessageReaction, MessageID: "second"})

	require.Len(t, bob.Events, 1)
	ev := <-bob.Events
	require.Equal(t, "first", ev.MessageID)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Fanout.WithLabelValues("messageReaction", metrics.OutcomeDropped)))
}
