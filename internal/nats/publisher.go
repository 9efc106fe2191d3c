package nats

import (
	"context"

	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/metrics"
)

// InsertPublisher announces stored messages on the realtime feed.
type InsertPublisher interface {
	PublishInsert(ctx context.Context, msg *model.Message) error
}

// PublishingMessageStore publishes an insert event after every successful
// insert. A failed publish is logged and counted; the insert still stands.
type PublishingMessageStore struct {
	store.MessageStore
	publisher InsertPublisher
	logger    *logger.Logger
}

// NewPublishingMessageStore wraps inner so inserts reach the feed.
func NewPublishingMessageStore(inner store.MessageStore, publisher InsertPublisher, log *logger.Logger) *PublishingMessageStore {
	return &PublishingMessageStore{
		MessageStore: inner,
		publisher:    publisher,
		logger:       log.Named("feed_publisher"),
	}
}

func (s *PublishingMessageStore) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	stored, err := s.MessageStore.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishInsert(ctx, stored); err != nil {
		metrics.FeedPublishFailures.Inc()
		s.logger.Warn("failed to publish insert event",
			zap.String("conversation_id", stored.ConversationID),
			zap.String("message_id", stored.ID),
			zap.Error(err),
		)
	}
	return stored, nil
}
