// Package chat drives one user's messaging session: the conversation list
// and a single active conversation kept live.
package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/pkg/logger"
)

// State is the lifecycle of the active conversation.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateLoading   State = "loading"
	StateLive      State = "live"
	StateClosed    State = "closed"
)

var (
	// ErrSuperseded is returned when a newer Open, Select or Close
	// replaced the operation before it completed. Its results are dropped.
	ErrSuperseded = errors.New("chat: superseded by a newer activation")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("chat: view is closed")
	// ErrNoActiveConversation is returned when sending while nothing is live.
	ErrNoActiveConversation = errors.New("chat: no active conversation")
)

// Conversations resolves and lists conversations.
type Conversations interface {
	Resolve(ctx context.Context, selfID, otherID string) (string, error)
	Get(ctx context.Context, selfID, conversationID string) (*model.Conversation, error)
	List(ctx context.Context, selfID string) ([]model.ConversationSummary, error)
}

// Messages sends, loads and marks messages read.
type Messages interface {
	Send(ctx context.Context, conversationID, senderID, content string) (*model.Message, error)
	History(ctx context.Context, conversationID, selfID string) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, selfID string) (int64, error)
}

// Subscriber opens live insert feeds.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string, onInsert func(model.Message)) (func(), error)
}

// Snapshot is a copy of the view state.
type Snapshot struct {
	State          State                       `json:"state"`
	ConversationID string                      `json:"conversation_id,omitempty"`
	Conversation   *model.Conversation         `json:"conversation,omitempty"`
	Title          string                      `json:"title,omitempty"`
	Messages       []model.Message             `json:"messages"`
	Conversations  []model.ConversationSummary `json:"conversations"`
	Draft          string                      `json:"draft"`
	Sending        bool                        `json:"sending"`
	Error          string                      `json:"error,omitempty"`
}

// View is a single user's chat session. All methods are safe for
// concurrent use.
type View struct {
	selfID        string
	conversations Conversations
	messages      Messages
	subscriber    Subscriber
	logger        *logger.Logger

	mu           sync.Mutex
	state        State
	generation   uint64
	listGen      uint64
	activeID     string
	conversation *model.Conversation
	history      []model.Message
	list         []model.ConversationSummary
	draft        string
	sending      bool
	lastErr      error
	unsubscribe  func()
	onChange     func(Snapshot)
}

// NewView creates a view for selfID.
func NewView(selfID string, conversations Conversations, messages Messages, subscriber Subscriber, log *logger.Logger) *View {
	return &View{
		selfID:        selfID,
		conversations: conversations,
		messages:      messages,
		subscriber:    subscriber,
		logger:        log.Named("chat").With(zap.String("user_id", selfID)),
		state:         StateIdle,
	}
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs outside the view lock, sometimes on the feed goroutine, so it
// must not block or call Open, Select or Close.
func (v *View) OnChange(fn func(Snapshot)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open activates the conversation with otherUserID, creating it on first
// contact.
func (v *View) Open(ctx context.Context, otherUserID string) error {
	gen, err := v.begin(StateResolving)
	if err != nil {
		return err
	}

	id, err := v.conversations.Resolve(ctx, v.selfID, otherUserID)
	if err != nil {
		return v.fail(gen, err)
	}
	return v.activate(ctx, gen, id)
}

// Select activates an existing conversation.
func (v *View) Select(ctx context.Context, conversationID string) error {
	gen, err := v.begin(StateLoading)
	if err != nil {
		return err
	}
	return v.activate(ctx, gen, conversationID)
}

// begin starts a new activation: it supersedes any in-flight one and tears
// down the live feed before anything else happens.
func (v *View) begin(state State) (uint64, error) {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return 0, ErrClosed
	}
	v.generation++
	gen := v.generation
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.state = state
	v.activeID = ""
	v.conversation = nil
	v.history = nil
	v.lastErr = nil
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	v.notify()
	return gen, nil
}

// activate loads history, marks it read and goes live. Each step checks
// that gen is still the current activation.
func (v *View) activate(ctx context.Context, gen uint64, conversationID string) error {
	if !v.advance(gen, func() {
		v.state = StateLoading
		v.activeID = conversationID
	}) {
		return ErrSuperseded
	}

	conv, err := v.conversations.Get(ctx, v.selfID, conversationID)
	if err != nil {
		return v.fail(gen, err)
	}

	history, err := v.messages.History(ctx, conversationID, v.selfID)
	if err != nil {
		return v.fail(gen, err)
	}
	if !v.advance(gen, func() {
		v.conversation = conv
		v.history = mergeMessages(nil, history...)
	}) {
		return ErrSuperseded
	}

	if _, err := v.messages.MarkRead(ctx, conversationID, v.selfID); err != nil {
		v.logger.Warn("failed to mark conversation read",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	} else {
		v.advance(gen, func() { v.clearUnread(conversationID) })
	}

	// A conversation created by this Open is not listed yet.
	if !v.listed(conversationID) {
		if err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			v.logger.Warn("failed to refresh conversation list", zap.Error(err))
		}
	}

	unsubscribe, err := v.subscriber.Subscribe(ctx, conversationID, func(m model.Message) {
		v.receive(gen, m)
	})
	if err != nil {
		// History stays usable without live updates.
		v.logger.Warn("live updates unavailable",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	v.mu.Lock()
	if v.generation != gen || v.state == StateClosed {
		v.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrSuperseded
	}
	v.unsubscribe = unsubscribe
	v.state = StateLive
	v.mu.Unlock()

	v.notify()
	return nil
}

// advance applies fn under the lock if gen is still current.
func (v *View) advance(gen uint64, fn func()) bool {
	v.mu.Lock()
	if v.generation != gen || v.state == StateClosed {
		v.mu.Unlock()
		return false
	}
	fn()
	v.mu.Unlock()
	v.notify()
	return true
}

func (v *View) fail(gen uint64, err error) error {
	if !v.advance(gen, func() {
		v.state = StateIdle
		v.activeID = ""
		v.conversation = nil
		v.history = nil
		v.lastErr = err
	}) {
		return ErrSuperseded
	}
	return err
}

func (v *View) receive(gen uint64, m model.Message) {
	v.advance(gen, func() {
		v.history = mergeMessages(v.history, m)
		v.list = bumpSummary(v.list, m)
	})
}

// Refresh reloads the conversation list.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.listGen++
	gen := v.listGen
	v.mu.Unlock()

	list, err := v.conversations.List(ctx, v.selfID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.listGen != gen || v.state == StateClosed {
		v.mu.Unlock()
		return ErrSuperseded
	}
	v.list = list
	if v.activeID != "" {
		v.clearUnread(v.activeID)
	}
	v.mu.Unlock()

	v.notify()
	return nil
}

// Send dispatches text to the active conversation. Blank text is ignored.
func (v *View) Send(ctx context.Context, text string) error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return ErrClosed
	}
	gen, id := v.generation, v.activeID
	live := v.state == StateLive
	v.mu.Unlock()

	if !live || id == "" {
		return ErrNoActiveConversation
	}

	msg, err := v.messages.Send(ctx, id, v.selfID, text)
	if err != nil {
		v.advance(gen, func() { v.lastErr = err })
		return err
	}
	if msg == nil {
		return nil
	}

	v.advance(gen, func() {
		v.lastErr = nil
		v.history = mergeMessages(v.history, *msg)
		v.list = bumpSummary(v.list, *msg)
	})
	return nil
}

// Compose replaces the draft.
func (v *View) Compose(text string) {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return
	}
	v.draft = text
	v.mu.Unlock()
	v.notify()
}

// SendDraft sends the draft. The draft is cleared as soon as the send is
// issued and restored if it fails, unless it was edited in the meantime.
func (v *View) SendDraft(ctx context.Context) error {
	v.mu.Lock()
	text := v.draft
	if _, ok := model.NormalizeContent(text); !ok || v.sending {
		v.mu.Unlock()
		return nil
	}
	v.draft = ""
	v.sending = true
	v.mu.Unlock()
	v.notify()

	err := v.Send(ctx, text)

	v.mu.Lock()
	v.sending = false
	if err != nil && v.draft == "" {
		v.draft = text
	}
	v.mu.Unlock()
	v.notify()

	return err
}

// Close tears down the live feed. The view cannot be reused.
func (v *View) Close() {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return
	}
	v.generation++
	v.state = StateClosed
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	v.notify()
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          v.state,
		ConversationID: v.activeID,
		Messages:       append([]model.Message{}, v.history...),
		Conversations:  append([]model.ConversationSummary{}, v.list...),
		Draft:          v.draft,
		Sending:        v.sending,
	}
	if v.conversation != nil {
		conv := *v.conversation
		snap.Conversation = &conv
		snap.Title = v.titleLocked(conv)
	}
	if v.lastErr != nil {
		snap.Error = v.lastErr.Error()
	}
	return snap
}

// titleLocked names the active conversation after the counterpart. The
// counterpart id stands in until the list carries its profile.
func (v *View) titleLocked(conv model.Conversation) string {
	for _, s := range v.list {
		if s.ID == conv.ID {
			return s.OtherUser.DisplayName()
		}
	}
	if other := conv.Counterpart(v.selfID); other != "" {
		return other
	}
	return model.Profile{}.DisplayName()
}

func (v *View) listed(conversationID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.list {
		if s.ID == conversationID {
			return true
		}
	}
	return false
}

func (v *View) clearUnread(conversationID string) {
	for i := range v.list {
		if v.list[i].ID == conversationID {
			v.list[i].UnreadCount = 0
			return
		}
	}
}

func (v *View) notify() {
	v.mu.Lock()
	fn := v.onChange
	if fn == nil {
		v.mu.Unlock()
		return
	}
	snap := v.snapshotLocked()
	v.mu.Unlock()
	fn(snap)
}
