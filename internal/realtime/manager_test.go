package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store/memory"
	"github.com/lostfound/messaging/pkg/logger"
)

var _ Source = (*memory.MessageStore)(nil)

var fastRetry = Options{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}

type recorder struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *recorder) add(m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Content)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func insert(t *testing.T, s *memory.MessageStore, convID, id, content string) {
	t.Helper()
	_, err := s.Insert(context.Background(), &model.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "u1",
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestSubscribeDeliversInsertsInOrder(t *testing.T) {
	src := memory.NewMessageStore(nil)
	m := NewManager(src, logger.Nop(), fastRetry)

	var rec recorder
	unsubscribe, err := m.Subscribe(context.Background(), "c1", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		insert(t, src, "c1", fmt.Sprintf("m%d", i), fmt.Sprintf("msg %d", i))
	}
	insert(t, src, "c2", "other", "not for us")

	require.Eventually(t, func() bool { return rec.len() == 10 }, time.Second, 5*time.Millisecond)
	got := rec.contents()
	for i := range got {
		assert.Equal(t, fmt.Sprintf("msg %d", i), got[i])
	}
}

func TestSubscribeDropsMalformedAndForeignEvents(t *testing.T) {
	src := memory.NewMessageStore(nil)
	m := NewManager(src, logger.Nop(), fastRetry)

	var rec recorder
	unsubscribe, err := m.Subscribe(context.Background(), "c1", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	foreign, err := model.NewInsertEvent(&model.Message{
		ID: "x", ConversationID: "c9", SenderID: "u2", Content: "hi", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	incomplete, err := model.NewInsertEvent(&model.Message{ID: "y", ConversationID: "c1"})
	require.NoError(t, err)

	src.Inject("c1", []byte("not json"))
	src.Inject("c1", []byte(`{"type":"TRUNCATE","table":"messages","record":{}}`))
	src.Inject("c1", []byte(`{"type":"UPDATE","table":"messages","record":{"id":"m0"}}`))
	src.Inject("c1", foreign)
	src.Inject("c1", incomplete)
	insert(t, src, "c1", "m1", "valid")

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"valid"}, rec.contents())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	src := memory.NewMessageStore(nil)
	m := NewManager(src, logger.Nop(), fastRetry)

	var calls atomic.Int32
	unsubscribe, err := m.Subscribe(context.Background(), "c1", func(model.Message) { calls.Add(1) })
	require.NoError(t, err)
	require.Equal(t, 1, src.Listeners("c1"))

	insert(t, src, "c1", "m1", "before")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Zero(t, src.Listeners("c1"))

	insert(t, src, "c1", "m2", "after")
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSubscribeRejectsMissingConversation(t *testing.T) {
	m := NewManager(memory.NewMessageStore(nil), logger.Nop(), fastRetry)

	_, err := m.Subscribe(context.Background(), "", func(model.Message) {})
	assert.ErrorIs(t, err, ErrInvalidConversation)
}

type flakySource struct {
	inner    Source
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakySource) Listen(ctx context.Context, conversationID string, deliver func([]byte), dropped func(error)) (func(), error) {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("feed unavailable")
	}
	return f.inner.Listen(ctx, conversationID, deliver, dropped)
}

func TestSubscribeRetriesUntilEstablished(t *testing.T) {
	mem := memory.NewMessageStore(nil)
	src := &flakySource{inner: mem}
	src.failures.Store(3)
	m := NewManager(src, logger.Nop(), fastRetry)

	var rec recorder
	unsubscribe, err := m.Subscribe(context.Background(), "c1", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool { return mem.Listeners("c1") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 4, src.attempts.Load())

	insert(t, mem, "c1", "m1", "made it")
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsRetrying(t *testing.T) {
	src := &flakySource{inner: memory.NewMessageStore(nil)}
	src.failures.Store(1 << 20)
	m := NewManager(src, logger.Nop(), fastRetry)

	unsubscribe, err := m.Subscribe(context.Background(), "c1", func(model.Message) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return src.attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	time.Sleep(50 * time.Millisecond)
	settled := src.attempts.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, src.attempts.Load())
}

// droppingSource exposes the dropped callbacks handed to it.
type droppingSource struct {
	inner *memory.MessageStore
	mu    sync.Mutex
	drops []func(error)
}

func (d *droppingSource) Listen(ctx context.Context, conversationID string, deliver func([]byte), dropped func(error)) (func(), error) {
	d.mu.Lock()
	d.drops = append(d.drops, dropped)
	d.mu.Unlock()
	return d.inner.Listen(ctx, conversationID, deliver, dropped)
}

func (d *droppingSource) listens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.drops)
}

func TestSubscribeReattachesAfterDrop(t *testing.T) {
	mem := memory.NewMessageStore(nil)
	src := &droppingSource{inner: mem}
	m := NewManager(src, logger.Nop(), fastRetry)

	var rec recorder
	unsubscribe, err := m.Subscribe(context.Background(), "c1", rec.add)
	require.NoError(t, err)
	defer unsubscribe()
	require.Equal(t, 1, src.listens())

	src.mu.Lock()
	drop := src.drops[0]
	src.mu.Unlock()
	drop(errors.New("connection lost"))

	require.Eventually(t, func() bool { return src.listens() == 2 && mem.Listeners("c1") == 1 }, 2*time.Second, 5*time.Millisecond)

	insert(t, mem, "c1", "m1", "after reconnect")
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}
