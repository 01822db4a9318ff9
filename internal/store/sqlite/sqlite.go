package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wiredm-server/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

// ==== UserStore implementation ====

const userColumns = `id, username, display_name, avatar_url, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var user store.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, avatar_url, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName, avatarURL, passwordHash, now())
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUsersByIDs returns the users that exist among ids, keyed by id.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]*store.User, error) {
	users := make(map[int64]*store.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}

	return users, rows.Err()
}

// SearchUsers searches for users by username substring.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*store.User, error) {
	q := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username LIKE ?
		ORDER BY username ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, q, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// ==== ConversationStore implementation ====

const conversationColumns = `id, pair_key, user_low, user_high, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*store.Conversation, error) {
	var conv store.Conversation
	if err := row.Scan(
		&conv.ID,
		&conv.PairKey,
		&conv.UserLow,
		&conv.UserHigh,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}

// findOrCreateConversation inserts the conversation unless the pair key
// already exists, then reads it back. The UNIQUE pair_key makes concurrent
// first messages from either direction converge on one row.
func findOrCreateConversation(ctx context.Context, q queryer, a, b int64, at time.Time) (*store.Conversation, error) {
	low, high := store.OrderedPair(a, b)
	key := store.PairKey(a, b)

	insert := `
		INSERT INTO conversations (id, pair_key, user_low, user_high, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, insert, uuid.NewString(), key, low, high, at, at); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return getConversationByKey(ctx, q, key)
}

func getConversationByKey(ctx context.Context, q queryer, key string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE pair_key = ?`
	conv, err := scanConversation(q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	ids, err := loadMessageIDs(ctx, q, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.MessageIDs = ids

	return conv, nil
}

func loadMessageIDs(ctx context.Context, q queryer, conversationID string) ([]string, error) {
	query := `
		SELECT message_id FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query message refs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message ref: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// FindOrCreateConversation returns the conversation for the unordered pair,
// creating it if needed.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, a, b int64) (*store.Conversation, error) {
	return findOrCreateConversation(ctx, s.db, a, b, now())
}

// GetConversationByPair retrieves the conversation for the unordered pair.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, a, b int64) (*store.Conversation, error) {
	return getConversationByKey(ctx, s.db, store.PairKey(a, b))
}

// ListConversations lists conversations containing userID, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]*store.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user_low = ? OR user_high = ?
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*store.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

// ==== MessageStore implementation ====

// CreateMessage persists msg and appends it to the pair's conversation.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) (*store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	at := now()
	conv, err := findOrCreateConversation(ctx, tx, msg.SenderID, msg.ReceiverID, at)
	if err != nil {
		return nil, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conv.ID
	msg.CreatedAt = at
	msg.UpdatedAt = at

	insert := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body, msg.Image, msg.CreatedAt, msg.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, message_id) VALUES (?, ?)`,
		conv.ID, msg.ID,
	); err != nil {
		return nil, fmt.Errorf("append message ref: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		at, conv.ID,
	); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	conv.MessageIDs = append(conv.MessageIDs, msg.ID)
	conv.UpdatedAt = at
	return conv, nil
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.receiver_id, m.body, m.image, m.created_at, m.updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var msg store.Message
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Body,
		&msg.Image,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage retrieves a message with its reactions and hidden-for set.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	byID := map[string]*store.Message{msg.ID: msg}
	if err := attachReactions(ctx, s.db, byID, `message_id = ?`, id); err != nil {
		return nil, err
	}
	if err := attachHidden(ctx, s.db, byID, `message_id = ?`, id); err != nil {
		return nil, err
	}

	return msg, nil
}

// ListVisibleMessages returns the conversation's messages in ref order,
// excluding those hidden for viewerID.
func (s *SQLiteStore) ListVisibleMessages(ctx context.Context, conversationID string, viewerID int64) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM conversation_messages cm
		JOIN messages m ON m.id = cm.message_id
		WHERE cm.conversation_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = ?
		  )
		ORDER BY cm.seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	messages := make([]*store.Message, 0)
	byID := make(map[string]*store.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	// Release the single connection before the follow-up queries.
	rows.Close()

	scope := `message_id IN (SELECT message_id FROM conversation_messages WHERE conversation_id = ?)`
	if err := attachReactions(ctx, s.db, byID, scope, conversationID); err != nil {
		return nil, err
	}
	if err := attachHidden(ctx, s.db, byID, scope, conversationID); err != nil {
		return nil, err
	}

	return messages, nil
}

func attachReactions(ctx context.Context, q queryer, byID map[string]*store.Message, where string, args ...any) error {
	query := `
		SELECT message_id, user_id, emoji, reacted_at
		FROM message_reactions
		WHERE ` + where + `
		ORDER BY reacted_at ASC, user_id ASC
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var r store.Reaction
		if err := rows.Scan(&messageID, &r.UserID, &r.Emoji, &r.ReactedAt); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.Reactions = append(msg.Reactions, r)
		}
	}

	return rows.Err()
}

func attachHidden(ctx context.Context, q queryer, byID map[string]*store.Message, where string, args ...any) error {
	query := `
		SELECT message_id, user_id
		FROM message_hidden
		WHERE ` + where + `
		ORDER BY hidden_at ASC
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query hidden: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var userID int64
		if err := rows.Scan(&messageID, &userID); err != nil {
			return fmt.Errorf("scan hidden: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.DeletedFor = append(msg.DeletedFor, userID)
		}
	}

	return rows.Err()
}

func messageExists(ctx context.Context, q queryer, id string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("query message: %w", err)
	}
	return nil
}

// HideMessage adds userID to the message's hidden-for set. The existence
// check and the insert run in one transaction.
func (s *SQLiteStore) HideMessage(ctx context.Context, id string, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := messageExists(ctx, tx, id); err != nil {
		return err
	}

	query := `
		INSERT OR IGNORE INTO message_hidden (message_id, user_id, hidden_at)
		VALUES (?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, userID, now()); err != nil {
		return fmt.Errorf("insert hidden: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteMessage removes the message, its reactions, hidden entries and conversation ref.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := messageExists(ctx, tx, id); err != nil {
		return err
	}

	for _, stmt := range []string{
		`DELETE FROM message_reactions WHERE message_id = ?`,
		`DELETE FROM message_hidden WHERE message_id = ?`,
		`DELETE FROM conversation_messages WHERE message_id = ?`,
		`DELETE FROM messages WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ToggleReaction applies the reaction toggle and returns the resulting set.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, messageID string, userID int64, emoji string, at time.Time) ([]store.Reaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := messageExists(ctx, tx, messageID); err != nil {
		return nil, err
	}

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT emoji FROM message_reactions WHERE message_id = ? AND user_id = ?`,
		messageID, userID,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query reaction: %w", err)
	}

	if err == nil && current == emoji {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ?`,
			messageID, userID,
		); err != nil {
			return nil, fmt.Errorf("delete reaction: %w", err)
		}
	} else {
		upsert := `
			INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, user_id) DO UPDATE SET emoji = excluded.emoji, reacted_at = excluded.reacted_at
		`
		if _, err := tx.ExecContext(ctx, upsert, messageID, userID, emoji, at.UTC()); err != nil {
			return nil, fmt.Errorf("upsert reaction: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET updated_at = ? WHERE id = ?`, at.UTC(), messageID); err != nil {
		return nil, fmt.Errorf("touch message: %w", err)
	}

	msg := &store.Message{ID: messageID}
	if err := attachReactions(ctx, tx, map[string]*store.Message{messageID: msg}, `message_id = ?`, messageID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if msg.Reactions == nil {
		return []store.Reaction{}, nil
	}
	return msg.Reactions, nil
}
