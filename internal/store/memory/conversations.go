// Package memory provides in-process stores used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
)

type pairKey struct {
	user1, user2 string
}

// ConversationStore keeps conversations in memory and enforces the
// canonical pair uniqueness constraint.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	pairs         map[pairKey]string
}

// NewConversationStore creates an empty conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[pairKey]string),
	}
}

var _ store.ConversationStore = (*ConversationStore)(nil)

func (s *ConversationStore) FindByParticipants(ctx context.Context, a, b string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(a) || conv.HasParticipant(b) {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (s *ConversationStore) FindByPair(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[pairKey{user1ID, user2ID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	conv := *s.conversations[id]
	return &conv, nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *conv
	return &out, nil
}

func (s *ConversationStore) Insert(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{conv.User1ID, conv.User2ID}
	if _, exists := s.pairs[key]; exists {
		return nil, store.ErrConflict
	}
	if _, exists := s.conversations[conv.ID]; exists {
		return nil, store.ErrConflict
	}

	stored := *conv
	s.conversations[stored.ID] = &stored
	s.pairs[key] = stored.ID

	out := stored
	return &out, nil
}

func (s *ConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.UpdatedAt = at
	return nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	var out []model.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, *conv)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Len returns the number of stored conversations.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
