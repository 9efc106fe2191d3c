package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
)

const subscriberBuffer = 128

// ErrSubscriberOverflow is reported to a listener that fell too far behind.
var ErrSubscriberOverflow = errors.New("memory: subscriber buffer exceeded")

// MessageStore keeps messages in memory and fans out insert events to
// listeners of the owning conversation.
type MessageStore struct {
	conversations *ConversationStore

	mu       sync.RWMutex
	messages map[string][]*model.Message

	subMu  sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
}

// NewMessageStore creates a message store. When conversations is non-nil,
// inserts into unknown conversations fail with store.ErrNotFound.
func NewMessageStore(conversations *ConversationStore) *MessageStore {
	return &MessageStore{
		conversations: conversations,
		messages:      make(map[string][]*model.Message),
		subs:          make(map[string]map[uint64]*subscriber),
	}
}

var _ store.MessageStore = (*MessageStore)(nil)

func (s *MessageStore) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if s.conversations != nil {
		if _, err := s.conversations.Get(ctx, msg.ConversationID); err != nil {
			return nil, err
		}
	}

	stored := *msg
	s.mu.Lock()
	for _, existing := range s.messages[stored.ConversationID] {
		if existing.ID == stored.ID {
			s.mu.Unlock()
			return nil, store.ErrConflict
		}
	}
	s.messages[stored.ConversationID] = append(s.messages[stored.ConversationID], &stored)
	s.mu.Unlock()

	s.publish(&stored)

	out := stored
	return &out, nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	out := make([]model.Message, 0, len(s.messages[conversationID]))
	for _, msg := range s.messages[conversationID] {
		out = append(out, *msg)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Message
	for _, msg := range s.messages[conversationID] {
		if latest == nil || !msg.CreatedAt.Before(latest.CreatedAt) {
			latest = msg
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, msg := range s.messages[conversationID] {
		if msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, msg := range s.messages[conversationID] {
		if msg.SenderID != readerID && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

// Get returns a stored message by ID.
func (s *MessageStore) Get(conversationID, messageID string) (*model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages[conversationID] {
		if msg.ID == messageID {
			out := *msg
			return &out, true
		}
	}
	return nil, false
}
