package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
	"github.com/lostfound/messaging/internal/store/memory"
	"github.com/lostfound/messaging/pkg/logger"
)

// countingConversations records writes made through the store.
type countingConversations struct {
	store.ConversationStore
	inserts atomic.Int64
	touches atomic.Int64
}

func (c *countingConversations) Insert(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	c.inserts.Add(1)
	return c.ConversationStore.Insert(ctx, conv)
}

func (c *countingConversations) Touch(ctx context.Context, id string, at time.Time) error {
	c.touches.Add(1)
	return c.ConversationStore.Touch(ctx, id, at)
}

// racingConversations hides rows from the first lookup so that the insert
// runs into the uniqueness constraint, like a concurrent first contact.
type racingConversations struct {
	store.ConversationStore
	once sync.Once
}

func (r *racingConversations) FindByParticipants(ctx context.Context, a, b string) ([]model.Conversation, error) {
	hide := false
	r.once.Do(func() { hide = true })
	if hide {
		return nil, nil
	}
	return r.ConversationStore.FindByParticipants(ctx, a, b)
}

// brokenPairConversations always conflicts and never finds the pair.
type brokenPairConversations struct {
	store.ConversationStore
}

func (b *brokenPairConversations) FindByParticipants(ctx context.Context, x, y string) ([]model.Conversation, error) {
	return nil, nil
}

func (b *brokenPairConversations) Insert(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	return nil, store.ErrConflict
}

func (b *brokenPairConversations) FindByPair(ctx context.Context, u1, u2 string) (*model.Conversation, error) {
	return nil, store.ErrNotFound
}

// failingMessages fails inserts.
type failingMessages struct {
	store.MessageStore
}

func (f *failingMessages) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	return nil, errors.New("connection reset")
}

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances by a millisecond on every call so timestamps are strictly
// increasing.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fixture struct {
	convs   *countingConversations
	mem     *memory.ConversationStore
	msgs    *memory.MessageStore
	clock   *fakeClock
	convSvc *ConversationService
	msgSvc  *MessageService
}

func newFixture() *fixture {
	mem := memory.NewConversationStore()
	convs := &countingConversations{ConversationStore: mem}
	msgs := memory.NewMessageStore(mem)
	clock := &fakeClock{now: fixedTime}

	convSvc := NewConversationService(convs, msgs, nil, logger.Nop())
	convSvc.now = clock.Now
	msgSvc := NewMessageService(convs, msgs, logger.Nop())
	msgSvc.now = clock.Now

	return &fixture{
		convs:   convs,
		mem:     mem,
		msgs:    msgs,
		clock:   clock,
		convSvc: convSvc,
		msgSvc:  msgSvc,
	}
}
