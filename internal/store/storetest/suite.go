// Package storetest holds the behaviour every store.Store implementation must
// share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm-server/internal/store"
)

// Factory returns a fresh, empty store for a single subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"Users", testUsers},
		{"FindOrCreateIsOrderIndependent", testFindOrCreateOrderIndependent},
		{"FindOrCreateConcurrent", testFindOrCreateConcurrent},
		{"CreateMessageAppendsRef", testCreateMessageAppendsRef},
		{"ListVisibleRespectsHidden", testListVisibleRespectsHidden},
		{"DeleteMessageRemovesRef", testDeleteMessageRemovesRef},
		{"ToggleReaction", testToggleReaction},
		{"ListConversationsByRecency", testListConversationsByRecency},
		{"NotFound", testNotFound},
		{"DuplicateUsername", testDuplicateUsername},
		{"HideAndDeleteConcurrent", testHideAndDeleteConcurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStore(t)
			tt.fn(t, st)
		})
	}
}

func testUsers(t *testing.T, st store.Store) {
	ctx := context.Background()

	alice, err := st.CreateUser(ctx, "alice", "Alice", "https://cdn/a.png", "hash")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "", "", "hash")
	require.NoError(t, err)

	got, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)
	require.Equal(t, "Alice", got.DisplayName)
	require.Equal(t, "https://cdn/a.png", got.AvatarURL)

	users, err := st.GetUsersByIDs(ctx, []int64{alice.ID, bob.ID, 9999})
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "bob", users[bob.ID].Username)

	found, err := st.SearchUsers(ctx, "li", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "alice", found[0].Username)
}

func testFindOrCreateOrderIndependent(t *testing.T, st store.Store) {
	ctx := context.Background()

	ab, err := st.FindOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	ba, err := st.FindOrCreateConversation(ctx, 2, 1)
	require.NoError(t, err)

	require.Equal(t, ab.ID, ba.ID)
	require.Equal(t, "dm:1:2", ab.PairKey)
	require.Equal(t, int64(1), ab.UserLow)
	require.Equal(t, int64(2), ab.UserHigh)
	require.Empty(t, ab.MessageIDs)
}

func testFindOrCreateConcurrent(t *testing.T, st store.Store) {
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := int64(10), int64(20)
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := st.FindOrCreateConversation(ctx, a, b)
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}

	convs, err := st.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func send(t *testing.T, st store.Store, from, to int64, body string) *store.Message {
	t.Helper()
	msg := &store.Message{SenderID: from, ReceiverID: to, Body: body}
	_, err := st.CreateMessage(context.Background(), msg)
	require.NoError(t, err)
	return msg
}

func testCreateMessageAppendsRef(t *testing.T, st store.Store) {
	ctx := context.Background()

	m1 := &store.Message{SenderID: 1, ReceiverID: 2, Body: "hi"}
	conv, err := st.CreateMessage(ctx, m1)
	require.NoError(t, err)
	require.NotEmpty(t, m1.ID)
	require.Equal(t, conv.ID, m1.ConversationID)
	require.Equal(t, []string{m1.ID}, conv.MessageIDs)

	m2 := &store.Message{SenderID: 2, ReceiverID: 1, Body: "hey", Image: "https://cdn/x.png"}
	conv2, err := st.CreateMessage(ctx, m2)
	require.NoError(t, err)
	require.Equal(t, conv.ID, conv2.ID)
	require.Equal(t, []string{m1.ID, m2.ID}, conv2.MessageIDs)
	require.False(t, conv2.UpdatedAt.Before(conv.UpdatedAt))

	got, err := st.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	require.Equal(t, "hey", got.Body)
	require.Equal(t, "https://cdn/x.png", got.Image)
	require.Equal(t, int64(2), got.SenderID)
	require.Equal(t, int64(1), got.ReceiverID)
}

func testListVisibleRespectsHidden(t *testing.T, st store.Store) {
	ctx := context.Background()

	m1 := send(t, st, 1, 2, "one")
	m2 := send(t, st, 2, 1, "two")
	m3 := send(t, st, 1, 2, "three")

	require.NoError(t, st.HideMessage(ctx, m2.ID, 1))
	require.NoError(t, st.HideMessage(ctx, m2.ID, 1))

	forOne, err := st.ListVisibleMessages(ctx, m1.ConversationID, 1)
	require.NoError(t, err)
	require.Equal(t, []string{m1.ID, m3.ID}, messageIDs(forOne))

	forTwo, err := st.ListVisibleMessages(ctx, m1.ConversationID, 2)
	require.NoError(t, err)
	require.Equal(t, []string{m1.ID, m2.ID, m3.ID}, messageIDs(forTwo))
	require.Equal(t, []int64{1}, forTwo[1].DeletedFor)
}

func testDeleteMessageRemovesRef(t *testing.T, st store.Store) {
	ctx := context.Background()

	m1 := send(t, st, 1, 2, "keep")
	m2 := send(t, st, 1, 2, "drop")
	_, err := st.ToggleReaction(ctx, m2.ID, 2, "🔥", time.Now())
	require.NoError(t, err)

	require.NoError(t, st.DeleteMessage(ctx, m2.ID))

	_, err = st.GetMessage(ctx, m2.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	conv, err := st.GetConversationByPair(ctx, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []string{m1.ID}, conv.MessageIDs)

	require.ErrorIs(t, st.DeleteMessage(ctx, m2.ID), store.ErrNotFound)
}

func testToggleReaction(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := send(t, st, 1, 2, "react to me")

	reactions, err := st.ToggleReaction(ctx, m.ID, 2, "❤️", time.Now())
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, "❤️", reactions[0].Emoji)

	reactions, err = st.ToggleReaction(ctx, m.ID, 2, "🔥", time.Now())
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, int64(2), reactions[0].UserID)
	require.Equal(t, "🔥", reactions[0].Emoji)

	reactions, err = st.ToggleReaction(ctx, m.ID, 1, "🔥", time.Now())
	require.NoError(t, err)
	require.Len(t, reactions, 2)

	reactions, err = st.ToggleReaction(ctx, m.ID, 2, "🔥", time.Now())
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, int64(1), reactions[0].UserID)

	got, err := st.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
}

func testListConversationsByRecency(t *testing.T, st store.Store) {
	ctx := context.Background()

	send(t, st, 1, 2, "to two")
	time.Sleep(2 * time.Millisecond)
	send(t, st, 3, 1, "from three")
	time.Sleep(2 * time.Millisecond)
	send(t, st, 2, 1, "two again")

	convs, err := st.ListConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, "dm:1:2", convs[0].PairKey)
	require.Equal(t, "dm:1:3", convs[1].PairKey)

	convs, err = st.ListConversations(ctx, 4)
	require.NoError(t, err)
	require.Empty(t, convs)
}

func testNotFound(t *testing.T, st store.Store) {
	ctx := context.Background()

	_, err := st.GetMessage(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetConversationByPair(ctx, 1, 2)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetUserByID(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, st.HideMessage(ctx, "missing", 1), store.ErrNotFound)

	_, err = st.ToggleReaction(ctx, "missing", 1, "👍", time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateUsername(t *testing.T, st store.Store) {
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "alice", "", "", "hash")
	require.NoError(t, err)

	_, err = st.CreateUser(ctx, "alice", "Other", "", "hash")
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func testHideAndDeleteConcurrent(t *testing.T, st store.Store) {
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m := send(t, st, 1, 2, "gone soon")

		var wg sync.WaitGroup
		var hideErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			hideErr = st.HideMessage(ctx, m.ID, 1)
		}()
		go func() {
			defer wg.Done()
			deleteErr = st.DeleteMessage(ctx, m.ID)
		}()
		wg.Wait()

		require.NoError(t, deleteErr)
		if hideErr != nil {
			require.ErrorIs(t, hideErr, store.ErrNotFound)
		}

		require.ErrorIs(t, st.HideMessage(ctx, m.ID, 2), store.ErrNotFound)
		_, err := st.GetMessage(ctx, m.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	}

	conv, err := st.GetConversationByPair(ctx, 1, 2)
	require.NoError(t, err)
	require.Empty(t, conv.MessageIDs)

	msgs, err := st.ListVisibleMessages(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func messageIDs(msgs []*store.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
