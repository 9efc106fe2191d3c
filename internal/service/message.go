package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/metrics"
	"github.com/lostfound/messaging/pkg/tracing"
)

// MessageService dispatches messages, serves history and tracks read state.
type MessageService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	logger        *logger.Logger
	now           func() time.Time
	newID         func() string
}

// NewMessageService creates a new message service.
func NewMessageService(
	conversations store.ConversationStore,
	messages store.MessageStore,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		logger:        log.Named("messages"),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Send persists a message and bumps the conversation's last activity.
// Whitespace-only content is ignored and yields (nil, nil). A failed
// activity bump is logged and does not fail the send.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	ctx, span := tracing.Tracer().Start(ctx, "MessageService.Send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if senderID == "" {
		return nil, ErrUnauthenticated
	}
	text, ok := model.NormalizeContent(content)
	if !ok {
		return nil, nil
	}

	if _, err := s.participantConversation(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        text,
		CreatedAt:      s.now(),
	}

	stored, err := s.messages.Insert(ctx, msg)
	if err != nil {
		metrics.MessagesSendFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		s.logger.Error("failed to insert message",
			zap.String("conversation_id", conversationID),
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	metrics.MessagesSent.Inc()

	if err := s.conversations.Touch(ctx, conversationID, s.now()); err != nil {
		s.logger.Warn("failed to bump conversation activity",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	return stored, nil
}

// History returns the conversation's messages in creation order.
func (s *MessageService) History(ctx context.Context, conversationID, selfID string) ([]model.Message, error) {
	if _, err := s.participantConversation(ctx, conversationID, selfID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// MarkRead flips the read flag on messages the counterpart sent to selfID.
// Messages sent by selfID are never touched.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, selfID string) (int64, error) {
	if _, err := s.participantConversation(ctx, conversationID, selfID); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, conversationID, selfID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	if n > 0 {
		metrics.MessagesMarkedRead.Add(float64(n))
		s.logger.Debug("messages marked read",
			zap.String("conversation_id", conversationID),
			zap.String("reader_id", selfID),
			zap.Int64("count", n),
		)
	}
	return n, nil
}

func (s *MessageService) participantConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}
