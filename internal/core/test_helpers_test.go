package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm-server/internal/store"
	"github.com/vovakirdan/wiredm-server/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, name EventName) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Name == name {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %s not received", name)
	return nil
}

type notification struct {
	userID int64
	event  *Event
}

// recordingNotifier captures every Notify call.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(userID int64, ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{userID: userID, event: ev})
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

func (r *recordingNotifier) last(t *testing.T) notification {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all, "no notification recorded")
	return all[len(all)-1]
}

type fixture struct {
	store     store.Store
	dir       *Directory
	messenger *Messenger
	notes     *recordingNotifier

	alice, bob, carol int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{store: st, notes: &recordingNotifier{}}
	f.dir = NewDirectory(st)
	f.messenger = NewMessenger(st, f.dir, f.notes, nil, nil)

	ctx := context.Background()
	for name, id := range map[string]*int64{"alice": &f.alice, "bob": &f.bob, "carol": &f.carol} {
		u, err := st.CreateUser(ctx, name, name+" display", "", "hash")
		require.NoError(t, err)
		*id = u.ID
	}
	return f
}

func (f *fixture) send(t *testing.T, from, to int64, body string) *MessageView {
	t.Helper()
	view, err := f.messenger.Send(context.Background(), from, to, body, "")
	require.NoError(t, err)
	return view
}

func bodies(views []*MessageView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Body)
	}
	return out
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}
