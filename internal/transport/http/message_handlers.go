package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/proto"
)

// MessageHandlers exposes conversations and messages over REST.
type MessageHandlers struct {
	directory *core.Directory
	messenger *core.Messenger
	log       *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(dir *core.Directory, messenger *core.Messenger, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		directory: dir,
		messenger: messenger,
		log:       logger,
	}
}

// SendMessageRequest is the body of POST /api/messages/:userId.
type SendMessageRequest struct {
	Body  string `json:"body"`
	Image string `json:"image"`
}

// ReactRequest is the body of POST /api/messages/item/:messageId/reactions.
type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	MessageID string `json:"messageId"`
	Scope     string `json:"scope"`
}

func (h *MessageHandlers) requester(c *gin.Context) (int64, bool) {
	uid, ok := currentUserID(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	return uid, ok
}

func parseUserParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return 0, false
	}
	return id, true
}

// ListConversations returns the requester's counterparts, most recent first.
// GET /api/conversations
func (h *MessageHandlers) ListConversations(c *gin.Context) {
	uid, ok := h.requester(c)
	if !ok {
		return
	}

	users, err := h.directory.ListCounterparts(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, usersFromSummaries(users))
}

// ListMessages returns the visible messages exchanged with :userId.
// GET /api/messages/:userId
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	uid, ok := h.requester(c)
	if !ok {
		return
	}
	other, ok := parseUserParam(c)
	if !ok {
		return
	}

	views, err := h.messenger.ListVisible(c.Request.Context(), uid, other)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messagesFromViews(views))
}

// SendMessage sends a message to :userId.
// POST /api/messages/:userId
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	uid, ok := h.requester(c)
	if !ok {
		return
	}
	receiver, ok := parseUserParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	view, err := h.messenger.Send(c.Request.Context(), uid, receiver, req.Body, req.Image)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, messageFromView(view))
}

// GetMessage returns one message.
// GET /api/messages/item/:messageId
func (h *MessageHandlers) GetMessage(c *gin.Context) {
	uid, ok := h.requester(c)
	if !ok {
		return
	}

	view, err := h.messenger.GetMessage(c.Request.Context(), c.Param("messageId"), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageFromView(view))
}

// DeleteMessage deletes a message for the requester or for everyone.
// DELETE /api/messages/item/:messageId?scope=me|everyone
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	uid, ok := h.requester(c)
	if !ok {
		return
	}

	scope, err := core.ParseDeleteScope(c.Query("scope"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	messageID := c.Param("messageId")
	if err := h.messenger.Delete(c.Request.Context(), messageID, uid, scope); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{MessageID: messageID, Scope: string(scope)})
}

// React toggles the requester's reaction on a message.
// POST /api/messages/item/:messageId/reactions
func (h *MessageHandlers) React(c *gin.Context) {
	uid, ok := h.requester(c)
	if !ok {
		return
	}

	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "emoji is required"})
		return
	}

	messageID := c.Param("messageId")
	reactions, err := h.messenger.React(c.Request.Context(), messageID, uid, req.Emoji)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, proto.ReactionsData{
		MessageID: messageID,
		Reactions: reactionsFromViews(reactions),
	})
}
