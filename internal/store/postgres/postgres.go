package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/wiredm-server/internal/store"
)

//go:embed schema.sql
var schema string

// PostgresStore implements store.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects to dsn, verifies the connection and applies the schema.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ApplySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// ApplySchema creates all tables and indexes if they do not exist.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Truncate empties every table. Used by tests sharing one database.
func (s *PostgresStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE message_hidden, message_reactions, conversation_messages, messages, conversations, users
		RESTART IDENTITY
	`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// ==== UserStore implementation ====

const userColumns = `id, username, display_name, avatar_url, password_hash, created_at`

func scanUser(row pgx.Row) (*store.User, error) {
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

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateUser creates a new user with hashed password.
func (s *PostgresStore) CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, avatar_url, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns
	user, err := scanUser(s.pool.QueryRow(ctx, query, username, displayName, avatarURL, passwordHash, now()))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUsersByIDs returns the users that exist among ids, keyed by id.
func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]*store.User, error) {
	users := make(map[int64]*store.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
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

// SearchUsers searches for users by case-insensitive username substring.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]*store.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username ILIKE $1
		ORDER BY username ASC
		LIMIT $2
	`, "%"+query+"%", limit)
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

func scanConversation(row pgx.Row) (*store.Conversation, error) {
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

// findOrCreateConversation relies on the UNIQUE pair_key: a racing insert
// blocks until the winner commits and then becomes a no-op.
func findOrCreateConversation(ctx context.Context, q queryer, a, b int64, at time.Time) (*store.Conversation, error) {
	low, high := store.OrderedPair(a, b)
	key := store.PairKey(a, b)

	if _, err := q.Exec(ctx, `
		INSERT INTO conversations (id, pair_key, user_low, user_high, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (pair_key) DO NOTHING
	`, uuid.NewString(), key, low, high, at); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return getConversationByKey(ctx, q, key)
}

func getConversationByKey(ctx context.Context, q queryer, key string) (*store.Conversation, error) {
	conv, err := scanConversation(q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT message_id FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("query message refs: %w", err)
	}
	defer rows.Close()

	conv.MessageIDs = make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message ref: %w", err)
		}
		conv.MessageIDs = append(conv.MessageIDs, id)
	}

	return conv, rows.Err()
}

// FindOrCreateConversation returns the conversation for the unordered pair.
func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, a, b int64) (*store.Conversation, error) {
	return findOrCreateConversation(ctx, s.pool, a, b, now())
}

// GetConversationByPair retrieves the conversation for the unordered pair.
func (s *PostgresStore) GetConversationByPair(ctx context.Context, a, b int64) (*store.Conversation, error) {
	return getConversationByKey(ctx, s.pool, store.PairKey(a, b))
}

// ListConversations lists conversations containing userID, most recently updated first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID int64) ([]*store.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_low = $1 OR user_high = $1
		ORDER BY updated_at DESC
	`, userID)
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
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *store.Message) (*store.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
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

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body, msg.Image, at); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages (conversation_id, message_id) VALUES ($1, $2)`,
		conv.ID, msg.ID,
	); err != nil {
		return nil, fmt.Errorf("append message ref: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, at, conv.ID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	conv.MessageIDs = append(conv.MessageIDs, msg.ID)
	conv.UpdatedAt = at
	return conv, nil
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.receiver_id, m.body, m.image, m.created_at, m.updated_at`

func scanMessage(row pgx.Row) (*store.Message, error) {
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
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	byID := map[string]*store.Message{msg.ID: msg}
	if err := attachReactions(ctx, s.pool, byID, `message_id = $1`, id); err != nil {
		return nil, err
	}
	if err := attachHidden(ctx, s.pool, byID, `message_id = $1`, id); err != nil {
		return nil, err
	}

	return msg, nil
}

// ListVisibleMessages returns the conversation's messages in ref order,
// excluding those hidden for viewerID.
func (s *PostgresStore) ListVisibleMessages(ctx context.Context, conversationID string, viewerID int64) ([]*store.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM conversation_messages cm
		JOIN messages m ON m.id = cm.message_id
		WHERE cm.conversation_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2
		  )
		ORDER BY cm.seq ASC
	`, conversationID, viewerID)
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	scope := `message_id IN (SELECT message_id FROM conversation_messages WHERE conversation_id = $1)`
	if err := attachReactions(ctx, s.pool, byID, scope, conversationID); err != nil {
		return nil, err
	}
	if err := attachHidden(ctx, s.pool, byID, scope, conversationID); err != nil {
		return nil, err
	}

	return messages, nil
}

func attachReactions(ctx context.Context, q queryer, byID map[string]*store.Message, where string, args ...any) error {
	rows, err := q.Query(ctx, `
		SELECT message_id, user_id, emoji, reacted_at
		FROM message_reactions
		WHERE `+where+`
		ORDER BY reacted_at ASC, user_id ASC
	`, args...)
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
	rows, err := q.Query(ctx, `
		SELECT message_id, user_id
		FROM message_hidden
		WHERE `+where+`
		ORDER BY hidden_at ASC
	`, args...)
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

func messageExists(ctx context.Context, q queryer, id string, lock bool) error {
	query := `SELECT 1 FROM messages WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var exists int
	if err := q.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("query message: %w", err)
	}
	return nil
}

// HideMessage adds userID to the message's hidden-for set. The message row
// is locked so it cannot be deleted between the check and the insert.
func (s *PostgresStore) HideMessage(ctx context.Context, id string, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	if err := messageExists(ctx, tx, id, true); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_hidden (message_id, user_id, hidden_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, id, userID, now()); err != nil {
		return fmt.Errorf("insert hidden: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteMessage removes the message, its reactions, hidden entries and conversation ref.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	if err := messageExists(ctx, tx, id, true); err != nil {
		return err
	}

	for _, stmt := range []string{
		`DELETE FROM message_reactions WHERE message_id = $1`,
		`DELETE FROM message_hidden WHERE message_id = $1`,
		`DELETE FROM conversation_messages WHERE message_id = $1`,
		`DELETE FROM messages WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ToggleReaction applies the reaction toggle and returns the resulting set.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID string, userID int64, emoji string, at time.Time) ([]store.Reaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	// Row lock serialises toggles on the same message.
	if err := messageExists(ctx, tx, messageID, true); err != nil {
		return nil, err
	}

	var current string
	err = tx.QueryRow(ctx,
		`SELECT emoji FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query reaction: %w", err)
	}

	if err == nil && current == emoji {
		if _, err := tx.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
			messageID, userID,
		); err != nil {
			return nil, fmt.Errorf("delete reaction: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, reacted_at = EXCLUDED.reacted_at
		`, messageID, userID, emoji, at.UTC()); err != nil {
			return nil, fmt.Errorf("upsert reaction: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE messages SET updated_at = $1 WHERE id = $2`, at.UTC(), messageID); err != nil {
		return nil, fmt.Errorf("touch message: %w", err)
	}

	msg := &store.Message{ID: messageID}
	if err := attachReactions(ctx, tx, map[string]*store.Message{messageID: msg}, `message_id = $1`, messageID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if msg.Reactions == nil {
		return []store.Reaction{}, nil
	}
	return msg.Reactions, nil
}
