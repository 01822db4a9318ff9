package http

import (
	"fmt"
	stdhttp "net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm-server/internal/proto"
)

func TestSendAndListMessages(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, aliceID := env.register(t, "alice")
	bobToken, bobID := env.register(t, "bob")

	var first, second proto.Message
	require.Equal(t, stdhttp.StatusCreated, env.do(t, stdhttp.MethodPost, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, SendMessageRequest{Body: "hi bob"}, &first))
	require.Equal(t, stdhttp.StatusCreated, env.do(t, stdhttp.MethodPost, fmt.Sprintf("/api/messages/%d", aliceID), bobToken, SendMessageRequest{Body: "hi alice"}, &second))
	require.Equal(t, aliceID, first.SenderID)
	require.Equal(t, bobID, first.ReceiverID)
	require.Equal(t, first.ConversationID, second.ConversationID)
	require.NotNil(t, first.Reactions)

	var fromAlice, fromBob []proto.Message
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodGet, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, nil, &fromAlice))
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodGet, fmt.Sprintf("/api/messages/%d", aliceID), bobToken, nil, &fromBob))
	require.Len(t, fromAlice, 2)
	require.Equal(t, fromAlice, fromBob)
	require.Equal(t, "hi bob", fromAlice[0].Body)
	require.Equal(t, "hi alice", fromAlice[1].Body)

	var conversations []proto.User
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodGet, "/api/conversations", aliceToken, nil, &conversations))
	require.Len(t, conversations, 1)
	require.Equal(t, bobID, conversations[0].ID)
}

func TestListMessagesWithoutConversation(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.register(t, "alice")
	_, bobID := env.register(t, "bob")

	var messages []proto.Message
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodGet, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, nil, &messages))
	require.Empty(t, messages)
}

func TestSendMessageErrors(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, aliceID := env.register(t, "alice")
	_, bobID := env.register(t, "bob")

	tests := []struct {
		name   string
		path   string
		body   SendMessageRequest
		status int
		code   string
	}{
		{"empty message", fmt.Sprintf("/api/messages/%d", bobID), SendMessageRequest{Body: "   "}, stdhttp.StatusBadRequest, "validation"},
		{"self message", fmt.Sprintf("/api/messages/%d", aliceID), SendMessageRequest{Body: "me"}, stdhttp.StatusBadRequest, "validation"},
		{"unknown receiver", "/api/messages/9999", SendMessageRequest{Body: "hello?"}, stdhttp.StatusNotFound, "not_found"},
		{"invalid user id", "/api/messages/abc", SendMessageRequest{Body: "hello"}, stdhttp.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			require.Equal(t, tt.status, env.do(t, stdhttp.MethodPost, tt.path, aliceToken, tt.body, &resp))
			require.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestDeleteMessageScopes(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, aliceID := env.register(t, "alice")
	bobToken, bobID := env.register(t, "bob")

	send := func(body string) proto.Message {
		var msg proto.Message
		require.Equal(t, stdhttp.StatusCreated, env.do(t, stdhttp.MethodPost, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, SendMessageRequest{Body: body}, &msg))
		return msg
	}
	list := func(token string, other int64) []proto.Message {
		var msgs []proto.Message
		require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodGet, fmt.Sprintf("/api/messages/%d", other), token, nil, &msgs))
		return msgs
	}

	hidden := send("only bob keeps this")
	gone := send("nobody keeps this")

	var del DeleteResponse
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodDelete, "/api/messages/item/"+hidden.ID+"?scope=me", aliceToken, nil, &del))
	require.Equal(t, "me", del.Scope)
	require.Len(t, list(aliceToken, bobID), 1)
	require.Len(t, list(bobToken, aliceID), 2)

	var errResp ErrorResponse
	require.Equal(t, stdhttp.StatusForbidden, env.do(t, stdhttp.MethodDelete, "/api/messages/item/"+gone.ID, bobToken, nil, &errResp))
	require.Equal(t, "authorization", errResp.Code)

	require.Equal(t, stdhttp.StatusBadRequest, env.do(t, stdhttp.MethodDelete, "/api/messages/item/"+gone.ID+"?scope=all", aliceToken, nil, &errResp))

	// default scope is everyone
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodDelete, "/api/messages/item/"+gone.ID, aliceToken, nil, &del))
	require.Equal(t, "everyone", del.Scope)
	require.Empty(t, list(aliceToken, bobID))
	require.Len(t, list(bobToken, aliceID), 1)

	require.Equal(t, stdhttp.StatusNotFound, env.do(t, stdhttp.MethodGet, "/api/messages/item/"+gone.ID, bobToken, nil, &errResp))
	require.Equal(t, stdhttp.StatusNotFound, env.do(t, stdhttp.MethodGet, "/api/messages/item/"+hidden.ID, aliceToken, nil, &errResp))

	var msg proto.Message
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodGet, "/api/messages/item/"+hidden.ID, bobToken, nil, &msg))
	require.Equal(t, "only bob keeps this", msg.Body)
}

func TestReactToggles(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.register(t, "alice")
	bobToken, bobID := env.register(t, "bob")
	carolToken, _ := env.register(t, "carol")

	var msg proto.Message
	require.Equal(t, stdhttp.StatusCreated, env.do(t, stdhttp.MethodPost, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, SendMessageRequest{Body: "react to me"}, &msg))

	path := "/api/messages/item/" + msg.ID + "/reactions"

	var reactions proto.ReactionsData
	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodPost, path, bobToken, ReactRequest{Emoji: "👍"}, &reactions))
	require.Equal(t, msg.ID, reactions.MessageID)
	require.Len(t, reactions.Reactions, 1)
	require.Equal(t, bobID, reactions.Reactions[0].User.ID)
	require.Equal(t, "bob", reactions.Reactions[0].User.Username)

	require.Equal(t, stdhttp.StatusOK, env.do(t, stdhttp.MethodPost, path, bobToken, ReactRequest{Emoji: "👍"}, &reactions))
	require.Empty(t, reactions.Reactions)

	var errResp ErrorResponse
	require.Equal(t, stdhttp.StatusForbidden, env.do(t, stdhttp.MethodPost, path, carolToken, ReactRequest{Emoji: "👍"}, &errResp))
	require.Equal(t, stdhttp.StatusBadRequest, env.do(t, stdhttp.MethodPost, path, bobToken, ReactRequest{}, &errResp))
	require.Equal(t, stdhttp.StatusNotFound, env.do(t, stdhttp.MethodPost, "/api/messages/item/missing/reactions", bobToken, ReactRequest{Emoji: "👍"}, &errResp))
}

func TestGetMessageForbiddenToOutsider(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.register(t, "alice")
	_, bobID := env.register(t, "bob")
	carolToken, _ := env.register(t, "carol")

	var msg proto.Message
	require.Equal(t, stdhttp.StatusCreated, env.do(t, stdhttp.MethodPost, fmt.Sprintf("/api/messages/%d", bobID), aliceToken, SendMessageRequest{Body: "private"}, &msg))

	var errResp ErrorResponse
	require.Equal(t, stdhttp.StatusForbidden, env.do(t, stdhttp.MethodGet, "/api/messages/item/"+msg.ID, carolToken, nil, &errResp))
	require.Equal(t, stdhttp.StatusForbidden, env.do(t, stdhttp.MethodDelete, "/api/messages/item/"+msg.ID+"?scope=me", carolToken, nil, &errResp))
}
