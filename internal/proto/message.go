package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client. ID is an
// optional client correlation id echoed on the matching ack or error.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello  = "hello"
	InboundTypeSend   = "send"
	InboundTypeReact  = "react"
	InboundTypeDelete = "delete"
	InboundTypePing   = "ping"

	OutboundTypeEvent = "event"
	OutboundTypeAck   = "ack"
	OutboundTypeError = "error"
	OutboundTypePong  = "pong"

	EventNewMessage      = "newMessage"
	EventDeleteMessage   = "deleteMessage"
	EventMessageReaction = "messageReaction"
)

// Error codes that are not a core error kind.
const (
	CodeBadRequest         = "bad_request"
	CodeUnknownType        = "invalid_message"
	CodeUnsupportedVersion = "unsupported_version"
	CodeRateLimited        = "rate_limited"
)

// HelloData negotiates the protocol version.
type HelloData struct {
	Protocol int `json:"protocol,omitempty"`
}

// SendData sends a message to user To.
type SendData struct {
	To    int64  `json:"to"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}

// ReactData toggles an emoji on a message.
type ReactData struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// DeleteData deletes a message. An empty scope means "everyone".
type DeleteData struct {
	MessageID string `json:"messageId"`
	Scope     string `json:"scope,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// HelloAck answers a hello.
type HelloAck struct {
	Protocol int   `json:"protocol"`
	UserID   int64 `json:"userId"`
}

// User is the public projection of a user.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	User      User      `json:"user"`
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reactedAt"`
}

// Message is a direct message as seen by a participant.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       int64      `json:"senderId"`
	ReceiverID     int64      `json:"receiverId"`
	Body           string     `json:"body,omitempty"`
	Image          string     `json:"image,omitempty"`
	Reactions      []Reaction `json:"reactions"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewMessageData is the payload of a newMessage event.
type NewMessageData struct {
	Message Message `json:"message"`
}

// DeleteMessageData is the payload of a deleteMessage event.
type DeleteMessageData struct {
	MessageID string `json:"messageId"`
}

// ReactionsData is the payload of a messageReaction event and of a react
// response.
type ReactionsData struct {
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
