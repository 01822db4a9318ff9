package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendAndListCounterpartsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hi := f.send(t, f.alice, f.bob, "hi")
	conv, err := f.dir.Find(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Equal(t, []string{hi.ID}, conv.MessageIDs)
	require.True(t, conv.HasParticipant(f.alice))
	require.True(t, conv.HasParticipant(f.bob))

	hey := f.send(t, f.bob, f.alice, "hey")
	require.Equal(t, hi.ConversationID, hey.ConversationID)

	conv, err = f.dir.Find(ctx, f.bob, f.alice)
	require.NoError(t, err)
	require.Equal(t, []string{hi.ID, hey.ID}, conv.MessageIDs)

	forAlice, err := f.dir.ListCounterparts(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	require.Equal(t, f.bob, forAlice[0].ID)
	require.Equal(t, "bob", forAlice[0].Username)

	forBob, err := f.dir.ListCounterparts(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	require.Equal(t, f.alice, forBob[0].ID)
}

func TestSendNotifiesReceiver(t *testing.T) {
	f := newFixture(t)

	view := f.send(t, f.alice, f.bob, "hello")

	n := f.notes.last(t)
	require.Equal(t, f.bob, n.userID)
	require.Equal(t, EventNewMessage, n.event.Name)
	require.Equal(t, view.ID, n.event.Message.ID)
	require.Equal(t, "hello", n.event.Message.Body)
	require.Empty(t, n.event.Message.Reactions)
}

func TestSendSingleConversationPerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const senders = 8
	var wg sync.WaitGroup
	errs := make([]error, senders)
	for i := range senders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := f.alice, f.bob
			if i%2 == 1 {
				from, to = to, from
			}
			_, errs[i] = f.messenger.Send(ctx, from, to, "race", "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	convs, err := f.store.ListConversations(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	conv, err := f.dir.Find(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Len(t, conv.MessageIDs, senders)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.messenger.Send(ctx, f.alice, f.bob, "   ", "")
	requireKind(t, err, KindValidation)
	require.True(t, errors.Is(err, ErrEmptyMessage))

	_, err = f.messenger.Send(ctx, f.alice, f.alice, "me", "")
	requireKind(t, err, KindValidation)
	require.True(t, errors.Is(err, ErrSelfConversation))

	_, err = f.messenger.Send(ctx, f.alice, 9999, "anyone?", "")
	requireKind(t, err, KindNotFound)

	view, err := f.messenger.Send(ctx, f.alice, f.bob, "", "https://cdn/pic.png")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/pic.png", view.Image)

	require.Len(t, f.notes.all(), 1)
}

func TestListVisibleWithoutConversation(t *testing.T) {
	f := newFixture(t)

	views, err := f.messenger.ListVisible(context.Background(), f.alice, f.carol)
	require.NoError(t, err)
	require.NotNil(t, views)
	require.Empty(t, views)
}

func TestListVisibleOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, f.alice, f.bob, "one")
	f.send(t, f.bob, f.alice, "two")
	f.send(t, f.alice, f.bob, "three")

	forAlice, err := f.messenger.ListVisible(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, bodies(forAlice))

	forBob, err := f.messenger.ListVisible(ctx, f.bob, f.alice)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, bodies(forBob))
}

func TestDeleteForMeHidesOnlyForRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.send(t, f.alice, f.bob, "secret")
	f.send(t, f.alice, f.bob, "public")
	before := len(f.notes.all())

	require.NoError(t, f.messenger.Delete(ctx, m.ID, f.alice, ScopeMe))
	require.NoError(t, f.messenger.Delete(ctx, m.ID, f.alice, ScopeMe))

	forAlice, err := f.messenger.ListVisible(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Equal(t, []string{"public"}, bodies(forAlice))

	forBob, err := f.messenger.ListVisible(ctx, f.bob, f.alice)
	require.NoError(t, err)
	require.Equal(t, []string{"secret", "public"}, bodies(forBob))

	require.Len(t, f.notes.all(), before, "soft delete must not notify")

	_, err = f.messenger.GetMessage(ctx, m.ID, f.alice)
	requireKind(t, err, KindNotFound)
	got, err := f.messenger.GetMessage(ctx, m.ID, f.bob)
	require.NoError(t, err)
	require.Equal(t, "secret", got.Body)
}

func TestDeleteForEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep := f.send(t, f.alice, f.bob, "keep")
	drop := f.send(t, f.alice, f.bob, "drop")

	require.NoError(t, f.messenger.Delete(ctx, drop.ID, f.alice, ScopeEveryone))

	for _, pair := range [][2]int64{{f.alice, f.bob}, {f.bob, f.alice}} {
		views, err := f.messenger.ListVisible(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.Equal(t, []string{"keep"}, bodies(views))
	}

	conv, err := f.dir.Find(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Equal(t, []string{keep.ID}, conv.MessageIDs)

	n := f.notes.last(t)
	require.Equal(t, f.bob, n.userID)
	require.Equal(t, EventDeleteMessage, n.event.Name)
	require.Equal(t, drop.ID, n.event.MessageID)

	err = f.messenger.Delete(ctx, drop.ID, f.alice, ScopeEveryone)
	requireKind(t, err, KindNotFound)
}

func TestDeleteAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.send(t, f.alice, f.bob, "mine")

	err := f.messenger.Delete(ctx, m.ID, f.bob, ScopeEveryone)
	requireKind(t, err, KindAuthorization)
	require.True(t, errors.Is(err, ErrNotSender))

	require.NoError(t, f.messenger.Delete(ctx, m.ID, f.bob, ScopeMe))

	err = f.messenger.Delete(ctx, m.ID, f.carol, ScopeMe)
	requireKind(t, err, KindAuthorization)
	err = f.messenger.Delete(ctx, m.ID, f.carol, ScopeEveryone)
	requireKind(t, err, KindAuthorization)
	require.True(t, errors.Is(err, ErrNotParticipant))

	err = f.messenger.Delete(ctx, m.ID, f.alice, DeleteScope("nobody"))
	requireKind(t, err, KindValidation)

	err = f.messenger.Delete(ctx, "missing", f.alice, ScopeMe)
	requireKind(t, err, KindNotFound)
}

func TestParseDeleteScope(t *testing.T) {
	tests := []struct {
		raw     string
		expect  DeleteScope
		wantErr bool
	}{
		{raw: "", expect: ScopeEveryone},
		{raw: "everyone", expect: ScopeEveryone},
		{raw: "ME", expect: ScopeMe},
		{raw: "all", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDeleteScope(tt.raw)
			if tt.wantErr {
				requireKind(t, err, KindValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expect, got)
		})
	}
}

func TestReactToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.send(t, f.alice, f.bob, "react")

	reactions, err := f.messenger.React(ctx, m.ID, f.bob, "❤️")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, "bob", reactions[0].User.Username)
	require.Equal(t, "bob display", reactions[0].User.DisplayName)

	reactions, err = f.messenger.React(ctx, m.ID, f.bob, "❤️")
	require.NoError(t, err)
	require.Empty(t, reactions)

	_, err = f.messenger.React(ctx, m.ID, f.bob, "❤️")
	require.NoError(t, err)
	reactions, err = f.messenger.React(ctx, m.ID, f.bob, "🔥")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, f.bob, reactions[0].User.ID)
	require.Equal(t, "🔥", reactions[0].Emoji)

	n := f.notes.last(t)
	require.Equal(t, f.alice, n.userID)
	require.Equal(t, EventMessageReaction, n.event.Name)
	require.Equal(t, m.ID, n.event.MessageID)
	require.Len(t, n.event.Reactions, 1)

	views, err := f.messenger.ListVisible(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Reactions, 1)
	require.Equal(t, "bob", views[0].Reactions[0].User.Username)
}

func TestReactRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.send(t, f.alice, f.bob, "react")

	_, err := f.messenger.React(ctx, m.ID, f.carol, "👍")
	requireKind(t, err, KindAuthorization)

	_, err = f.messenger.React(ctx, m.ID, f.bob, " ")
	requireKind(t, err, KindValidation)

	_, err = f.messenger.React(ctx, "missing", f.bob, "👍")
	requireKind(t, err, KindNotFound)

	// The sender's reaction goes to the receiver.
	_, err = f.messenger.React(ctx, m.ID, f.alice, "👍")
	require.NoError(t, err)
	require.Equal(t, f.bob, f.notes.last(t).userID)
}

func TestGetMessageRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.send(t, f.alice, f.bob, "private")

	_, err := f.messenger.GetMessage(ctx, m.ID, f.carol)
	requireKind(t, err, KindAuthorization)

	got, err := f.messenger.GetMessage(ctx, m.ID, f.alice)
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
}

func TestDirectoryRejectsSelfPair(t *testing.T) {
	f := newFixture(t)

	_, err := f.dir.FindOrCreate(context.Background(), f.alice, f.alice)
	requireKind(t, err, KindValidation)

	conv, err := f.dir.FindOrCreate(context.Background(), f.carol, f.alice)
	require.NoError(t, err)
	require.Empty(t, conv.MessageIDs)
}
