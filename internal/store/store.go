package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned (wrapped) when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned (wrapped) when an insert hits a unique key.
var ErrAlreadyExists = errors.New("already exists")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is the single thread between an unordered pair of users.
type Conversation struct {
	ID       string
	PairKey  string // "dm:{minUserId}:{maxUserId}"
	UserLow  int64
	UserHigh int64
	// MessageIDs is the append-only ordered list of message ids. It is not
	// populated by ListConversations.
	MessageIDs []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.UserLow == userID || c.UserHigh == userID
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID int64) (int64, bool) {
	switch userID {
	case c.UserLow:
		return c.UserHigh, true
	case c.UserHigh:
		return c.UserLow, true
	default:
		return 0, false
	}
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	UserID    int64
	Emoji     string
	ReactedAt time.Time
}

// Message represents a persisted direct message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       int64
	ReceiverID     int64
	Body           string
	Image          string
	Reactions      []Reaction
	DeletedFor     []int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsHiddenFor reports whether userID soft-deleted the message.
func (m *Message) IsHiddenFor(userID int64) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// OrderedPair returns the pair as (low, high).
func OrderedPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// PairKey is the canonical natural key of a conversation between a and b.
func PairKey(a, b int64) string {
	low, high := OrderedPair(a, b)
	return fmt.Sprintf("dm:%d:%d", low, high)
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUsersByIDs returns the users that exist among ids, keyed by id.
	GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]*User, error)

	// SearchUsers searches for users by username.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// FindOrCreateConversation returns the conversation for the unordered pair,
	// creating it atomically if it does not exist.
	FindOrCreateConversation(ctx context.Context, a, b int64) (*Conversation, error)

	// GetConversationByPair retrieves the conversation for the unordered pair.
	GetConversationByPair(ctx context.Context, a, b int64) (*Conversation, error)

	// ListConversations lists conversations containing userID, most recently
	// updated first. MessageIDs are not loaded.
	ListConversations(ctx context.Context, userID int64) ([]*Conversation, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists msg, finds or creates the conversation between
	// sender and receiver, appends the message id to it and bumps its
	// updated_at, all in one transaction. ID, ConversationID and timestamps are
	// filled in on msg. The returned conversation includes the new ref.
	CreateMessage(ctx context.Context, msg *Message) (*Conversation, error)

	// GetMessage retrieves a message with its reactions and hidden-for set.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListVisibleMessages returns the conversation's messages in ref order,
	// excluding those hidden for viewerID.
	ListVisibleMessages(ctx context.Context, conversationID string, viewerID int64) ([]*Message, error)

	// HideMessage adds userID to the message's hidden-for set. Idempotent.
	HideMessage(ctx context.Context, id string, userID int64) error

	// DeleteMessage removes the message, its reactions and its conversation ref
	// in one transaction.
	DeleteMessage(ctx context.Context, id string) error

	// ToggleReaction applies the reaction toggle for userID and returns the
	// resulting reaction set: same emoji removes, a different emoji replaces,
	// otherwise the reaction is inserted.
	ToggleReaction(ctx context.Context, messageID string, userID int64, emoji string, at time.Time) ([]Reaction, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
