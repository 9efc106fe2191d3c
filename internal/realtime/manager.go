// Package realtime manages live subscriptions to a conversation's message
// inserts.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/metrics"
)

// ErrInvalidConversation is returned when subscribing without a conversation.
var ErrInvalidConversation = errors.New("realtime: conversation id is required")

// Source is a change feed scoped to one conversation. deliver receives raw
// event payloads; dropped is called if the feed ends on its own.
type Source interface {
	Listen(ctx context.Context, conversationID string, deliver func([]byte), dropped func(error)) (func(), error)
}

// Options tunes re-establishment of failed feeds.
type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions returns the retry settings used in production.
func DefaultOptions() Options {
	return Options{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Manager opens subscriptions against a Source.
type Manager struct {
	source   Source
	validate *validator.Validate
	logger   *logger.Logger
	opts     Options
}

// NewManager creates a subscription manager. Zero option fields fall back
// to DefaultOptions.
func NewManager(source Source, log *logger.Logger, opts Options) *Manager {
	def := DefaultOptions()
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = def.MaxInterval
	}
	return &Manager{
		source:   source,
		validate: validator.New(),
		logger:   log.Named("realtime"),
		opts:     opts,
	}
}

// Subscribe opens a feed of message inserts for conversationID and calls
// onInsert once per insert, in receive order, one call at a time. The
// returned function closes the feed; once it returns onInsert is not
// called again. onInsert must not call the returned function itself.
//
// A feed that cannot be established, or that drops later, is
// re-established in the background until unsubscribed.
func (m *Manager) Subscribe(ctx context.Context, conversationID string, onInsert func(model.Message)) (func(), error) {
	if conversationID == "" {
		return nil, ErrInvalidConversation
	}
	if onInsert == nil {
		return nil, errors.New("realtime: onInsert is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		manager:        m,
		conversationID: conversationID,
		onInsert:       onInsert,
		ctx:            subCtx,
		cancel:         cancel,
		logger:         m.logger.WithConversation(conversationID),
	}

	if err := sub.attach(); err != nil {
		sub.logger.Warn("feed unavailable, retrying in background", zap.Error(err))
		go sub.reattach()
	}

	metrics.SubscriptionsActive.Inc()
	return sub.close, nil
}

// decode turns a raw payload into a message for conversationID. The
// returned result is one of the metrics.Feed* outcomes.
func (m *Manager) decode(conversationID string, payload []byte) (*model.Message, string) {
	var evt model.ChangeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, metrics.FeedMalformed
	}
	if err := m.validate.Struct(&evt); err != nil {
		return nil, metrics.FeedMalformed
	}
	if evt.Type != model.ChangeInsert || evt.Table != model.MessagesTable {
		return nil, metrics.FeedIgnored
	}

	var msg model.Message
	if err := json.Unmarshal(evt.Record, &msg); err != nil {
		return nil, metrics.FeedMalformed
	}
	if err := m.validate.Struct(&msg); err != nil {
		return nil, metrics.FeedMalformed
	}
	if msg.ConversationID != conversationID {
		return nil, metrics.FeedForeign
	}
	return &msg, metrics.FeedDelivered
}

type subscription struct {
	manager        *Manager
	conversationID string
	onInsert       func(model.Message)
	ctx            context.Context
	cancel         context.CancelFunc
	logger         *logger.Logger

	// mu serialises delivery and guards the fields below.
	mu       sync.Mutex
	closed   bool
	epoch    uint64
	stopFeed func()
}

// attach opens a new feed and makes it current.
func (s *subscription) attach() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	stop, err := s.manager.source.Listen(s.ctx, s.conversationID,
		func(payload []byte) { s.deliver(epoch, payload) },
		func(err error) { s.dropped(epoch, err) },
	)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		stop()
		return nil
	}
	s.stopFeed = stop
	s.mu.Unlock()

	s.logger.Debug("feed attached")
	return nil
}

func (s *subscription) deliver(epoch uint64, payload []byte) {
	msg, result := s.manager.decode(s.conversationID, payload)
	metrics.RecordFeedEvent(result)
	if msg == nil {
		if result == metrics.FeedMalformed {
			s.logger.Warn("dropping malformed feed event", zap.Int("bytes", len(payload)))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return
	}
	s.onInsert(*msg)
}

func (s *subscription) dropped(epoch uint64, err error) {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	stop := s.stopFeed
	s.stopFeed = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.logger.Warn("feed dropped, re-establishing", zap.Error(err))
	go s.reattach()
}

// reattach retries attach with exponential backoff until it succeeds or
// the subscription is closed.
func (s *subscription) reattach() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.manager.opts.InitialInterval
	b.MaxInterval = s.manager.opts.MaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		if s.ctx.Err() != nil {
			return backoff.Permanent(s.ctx.Err())
		}
		metrics.SubscriptionRetries.Inc()
		return s.attach()
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("feed re-establish failed", zap.Error(err), zap.Duration("retry_in", wait))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil && s.ctx.Err() == nil {
		s.logger.Error("giving up on feed", zap.Error(err))
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stopFeed
	s.stopFeed = nil
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		stop()
	}
	metrics.SubscriptionsActive.Dec()
	s.logger.Debug("subscription closed")
}
