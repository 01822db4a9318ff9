package core

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/metrics"
)

// Notifier pushes an event to one user's live connection.
type Notifier interface {
	Notify(userID int64, ev *Event)
}

// Fanout delivers events at most once through the presence registry. An
// absent or slow connection is not an error; the event is dropped.
type Fanout struct {
	presence *Presence
	metrics  *metrics.Metrics
	log      *zerolog.Logger
}

// NewFanout creates a notifier over presence. m may be nil.
func NewFanout(presence *Presence, m *metrics.Metrics, logger *zerolog.Logger) *Fanout {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Fanout{presence: presence, metrics: m, log: logger}
}

// Notify enqueues ev on the user's connection without blocking.
func (f *Fanout) Notify(userID int64, ev *Event) {
	name := string(ev.Name)

	client, ok := f.presence.Lookup(userID)
	if !ok {
		f.metrics.ObserveFanout(name, metrics.OutcomeOffline)
		return
	}

	select {
	case client.Events <- ev:
		f.metrics.ObserveFanout(name, metrics.OutcomeDelivered)
	default:
		// Drop if slow consumer.
		f.metrics.ObserveFanout(name, metrics.OutcomeDropped)
		f.log.Debug().
			Int64("user_id", userID).
			Str("event", name).
			Msg("event dropped: connection queue full")
	}
}
