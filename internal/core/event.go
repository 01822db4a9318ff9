package core

import "time"

// EventName tags a notification pushed to a live connection.
type EventName string

const (
	// EventNewMessage delivers a freshly sent message to its receiver.
	EventNewMessage EventName = "newMessage"
	// EventDeleteMessage tells the other participant a message was deleted for everyone.
	EventDeleteMessage EventName = "deleteMessage"
	// EventMessageReaction carries the full reaction set after a change.
	EventMessageReaction EventName = "messageReaction"
)

// Event is sent to clients to describe what happened in the system.
// Only the fields relevant to Name are set.
type Event struct {
	Name      EventName
	Message   *MessageView   // newMessage
	MessageID string         // deleteMessage, messageReaction
	Reactions []ReactionView // messageReaction
}

// UserSummary is the display projection of a user.
type UserSummary struct {
	ID          int64
	Username    string
	DisplayName string
	AvatarURL   string
}

// ReactionView is a reaction with its author resolved. When the author can
// no longer be resolved only User.ID is set.
type ReactionView struct {
	User      UserSummary
	Emoji     string
	ReactedAt time.Time
}

// MessageView is a message as returned to a participant.
type MessageView struct {
	ID             string
	ConversationID string
	SenderID       int64
	ReceiverID     int64
	Body           string
	Image          string
	Reactions      []ReactionView
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
