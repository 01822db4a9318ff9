package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceLastRegistrationWins(t *testing.T) {
	p := NewPresence()

	first := NewClient(1, "alice", 0)
	second := NewClient(1, "alice", 0)

	require.Nil(t, p.Register(first))
	require.Same(t, first, p.Register(second))

	got, ok := p.Lookup(1)
	require.True(t, ok)
	require.Same(t, second, got)
	require.Equal(t, 1, p.Count())

	// The displaced connection going away must not evict the newer one.
	require.False(t, p.Unregister(first))
	got, ok = p.Lookup(1)
	require.True(t, ok)
	require.Same(t, second, got)

	require.True(t, p.Unregister(second))
	_, ok = p.Lookup(1)
	require.False(t, ok)
	require.Equal(t, 0, p.Count())
}

func TestPresenceRegisterSameClientTwice(t *testing.T) {
	p := NewPresence()
	c := NewClient(7, "bob", 0)

	require.Nil(t, p.Register(c))
	require.Nil(t, p.Register(c))
	require.Equal(t, 1, p.Count())
}

func TestClientKickIsIdempotent(t *testing.T) {
	c := NewClient(1, "alice", 0)
	c.Kick()
	c.Kick()

	select {
	case <-c.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}
