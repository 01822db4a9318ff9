package core

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/metrics"
	"github.com/vovakirdan/wiredm-server/internal/store"
)

// DeleteScope selects between hiding a message for one participant and
// removing it for both.
type DeleteScope string

const (
	ScopeMe       DeleteScope = "me"
	ScopeEveryone DeleteScope = "everyone"
)

// ParseDeleteScope validates raw. An empty value means ScopeEveryone.
func ParseDeleteScope(raw string) (DeleteScope, error) {
	switch DeleteScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeEveryone:
		return ScopeEveryone, nil
	case ScopeMe:
		return ScopeMe, nil
	default:
		return "", validationError(ErrUnknownScope)
	}
}

// Messenger implements the message operations of a direct conversation and
// pushes their effects to the counterpart.
type Messenger struct {
	store    store.Store
	dir      *Directory
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zerolog.Logger
	now      func() time.Time
}

// NewMessenger wires a messenger. m may be nil.
func NewMessenger(st store.Store, dir *Directory, notifier Notifier, m *metrics.Metrics, logger *zerolog.Logger) *Messenger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Messenger{
		store:    st,
		dir:      dir,
		notifier: notifier,
		metrics:  m,
		log:      logger,
		now:      time.Now,
	}
}

// Send stores a message from senderID to receiverID and notifies the receiver.
func (m *Messenger) Send(ctx context.Context, senderID, receiverID int64, body, image string) (*MessageView, error) {
	image = strings.TrimSpace(image)
	if strings.TrimSpace(body) == "" && image == "" {
		return nil, validationError(ErrEmptyMessage)
	}
	if senderID == receiverID {
		return nil, validationError(ErrSelfConversation)
	}

	if _, err := m.store.GetUserByID(ctx, receiverID); err != nil {
		return nil, storeError("lookup receiver", err)
	}

	msg := &store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Image:      image,
	}
	if _, err := m.store.CreateMessage(ctx, msg); err != nil {
		return nil, storeError("create message", err)
	}

	view := messageView(msg, nil)
	m.metrics.IncMessageOp("send")
	m.log.Debug().
		Str("message_id", msg.ID).
		Str("conversation_id", msg.ConversationID).
		Int64("sender_id", senderID).
		Int64("receiver_id", receiverID).
		Msg("message sent")

	m.notifier.Notify(receiverID, &Event{Name: EventNewMessage, Message: view})
	return view, nil
}

// ListVisible returns the conversation between requesterID and counterpartID
// in chronological order, without the messages requesterID deleted for
// themselves. A missing conversation yields an empty list.
func (m *Messenger) ListVisible(ctx context.Context, requesterID, counterpartID int64) ([]*MessageView, error) {
	conv, err := m.dir.Find(ctx, requesterID, counterpartID)
	if err != nil {
		if isNotFound(err) {
			return []*MessageView{}, nil
		}
		return nil, err
	}

	msgs, err := m.store.ListVisibleMessages(ctx, conv.ID, requesterID)
	if err != nil {
		return nil, storeError("list messages", err)
	}

	var reactions []store.Reaction
	for _, msg := range msgs {
		reactions = append(reactions, msg.Reactions...)
	}
	users, err := m.resolveUsers(ctx, reactions)
	if err != nil {
		return nil, err
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, messageView(msg, users))
	}
	return views, nil
}

// GetMessage returns a single message visible to requesterID.
func (m *Messenger) GetMessage(ctx context.Context, messageID string, requesterID int64) (*MessageView, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("get message", err)
	}
	if !isParticipant(msg, requesterID) {
		return nil, authorizationError(ErrNotParticipant)
	}
	if !CanView(msg, requesterID) {
		return nil, notFoundError("message %s", messageID)
	}

	users, err := m.resolveUsers(ctx, msg.Reactions)
	if err != nil {
		return nil, err
	}
	return messageView(msg, users), nil
}

// Delete hides the message for requesterID (ScopeMe) or removes it for both
// participants (ScopeEveryone, sender only).
func (m *Messenger) Delete(ctx context.Context, messageID string, requesterID int64, scope DeleteScope) error {
	if scope != ScopeMe && scope != ScopeEveryone {
		return validationError(ErrUnknownScope)
	}

	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return storeError("get message", err)
	}

	if scope == ScopeMe {
		if !CanSoftDelete(msg, requesterID) {
			return authorizationError(ErrNotParticipant)
		}
		if err := m.store.HideMessage(ctx, messageID, requesterID); err != nil {
			return storeError("hide message", err)
		}
		m.metrics.IncMessageOp("delete_me")
		return nil
	}

	if !CanHardDelete(msg, requesterID) {
		if !isParticipant(msg, requesterID) {
			return authorizationError(ErrNotParticipant)
		}
		return authorizationError(ErrNotSender)
	}
	if err := m.store.DeleteMessage(ctx, messageID); err != nil {
		return storeError("delete message", err)
	}

	m.metrics.IncMessageOp("delete_everyone")
	m.log.Debug().
		Str("message_id", messageID).
		Int64("user_id", requesterID).
		Msg("message deleted for everyone")

	m.notifier.Notify(msg.ReceiverID, &Event{Name: EventDeleteMessage, MessageID: messageID})
	return nil
}

// React toggles requesterID's emoji on the message and returns the resulting
// reaction set. Repeating the same emoji removes it; a different emoji
// replaces the previous one.
func (m *Messenger) React(ctx context.Context, messageID string, requesterID int64, emoji string) ([]ReactionView, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, validationError(ErrEmptyEmoji)
	}

	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("get message", err)
	}
	if !CanReact(msg, requesterID) {
		return nil, authorizationError(ErrNotParticipant)
	}

	reactions, err := m.store.ToggleReaction(ctx, messageID, requesterID, emoji, m.now())
	if err != nil {
		return nil, storeError("toggle reaction", err)
	}

	users, err := m.resolveUsers(ctx, reactions)
	if err != nil {
		return nil, err
	}
	views := reactionViews(reactions, users)

	m.metrics.IncMessageOp("react")

	other := msg.SenderID
	if requesterID == msg.SenderID {
		other = msg.ReceiverID
	}
	m.notifier.Notify(other, &Event{
		Name:      EventMessageReaction,
		MessageID: messageID,
		Reactions: views,
	})
	return views, nil
}

func (m *Messenger) resolveUsers(ctx context.Context, reactions []store.Reaction) (map[int64]*store.User, error) {
	if len(reactions) == 0 {
		return nil, nil
	}

	seen := make(map[int64]struct{}, len(reactions))
	ids := make([]int64, 0, len(reactions))
	for _, r := range reactions {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		ids = append(ids, r.UserID)
	}

	users, err := m.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("resolve reaction users", err)
	}
	return users, nil
}

func reactionViews(reactions []store.Reaction, users map[int64]*store.User) []ReactionView {
	out := make([]ReactionView, 0, len(reactions))
	for _, r := range reactions {
		summary := UserSummary{ID: r.UserID}
		if u, ok := users[r.UserID]; ok {
			summary = summarize(u)
		}
		out = append(out, ReactionView{User: summary, Emoji: r.Emoji, ReactedAt: r.ReactedAt})
	}
	return out
}

func messageView(msg *store.Message, users map[int64]*store.User) *MessageView {
	return &MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Body:           msg.Body,
		Image:          msg.Image,
		Reactions:      reactionViews(msg.Reactions, users),
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
}
