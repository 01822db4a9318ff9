package core

import (
	"context"
	"errors"

	"github.com/vovakirdan/wiredm-server/internal/store"
)

// DirectoryStore is the storage a Directory needs.
type DirectoryStore interface {
	store.ConversationStore
	GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]*store.User, error)
}

// Directory resolves the single conversation of a user pair and lists a
// user's counterparts.
type Directory struct {
	store DirectoryStore
}

// NewDirectory creates a directory over st.
func NewDirectory(st DirectoryStore) *Directory {
	return &Directory{store: st}
}

// FindOrCreate returns the conversation between a and b, creating it if needed.
func (d *Directory) FindOrCreate(ctx context.Context, a, b int64) (*store.Conversation, error) {
	if a == b {
		return nil, validationError(ErrSelfConversation)
	}
	conv, err := d.store.FindOrCreateConversation(ctx, a, b)
	if err != nil {
		return nil, storeError("find or create conversation", err)
	}
	return conv, nil
}

// Find returns the existing conversation between a and b.
func (d *Directory) Find(ctx context.Context, a, b int64) (*store.Conversation, error) {
	conv, err := d.store.GetConversationByPair(ctx, a, b)
	if err != nil {
		return nil, storeError("find conversation", err)
	}
	return conv, nil
}

// ListCounterparts returns the users userID has a conversation with, most
// recently active first. Users that no longer exist are skipped.
func (d *Directory) ListCounterparts(ctx context.Context, userID int64) ([]UserSummary, error) {
	convs, err := d.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, storeError("list conversations", err)
	}

	seen := make(map[int64]struct{}, len(convs))
	ids := make([]int64, 0, len(convs))
	for _, conv := range convs {
		other, ok := conv.Other(userID)
		if !ok {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}

	users, err := d.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("resolve counterparts", err)
	}

	out := make([]UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, summarize(u))
		}
	}
	return out, nil
}

func summarize(u *store.User) UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func isNotFound(err error) bool {
	return KindOf(err) == KindNotFound || errors.Is(err, store.ErrNotFound)
}
