// Package service provides business logic for direct messaging.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/profile"
	"github.com/lostfound/messaging/internal/store"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/metrics"
	"github.com/lostfound/messaging/pkg/tracing"
)

// ConversationService resolves and lists two-party conversations.
type ConversationService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	profiles      profile.Provider
	logger        *logger.Logger
	now           func() time.Time
	newID         func() string
}

// NewConversationService creates a new conversation service.
func NewConversationService(
	conversations store.ConversationStore,
	messages store.MessageStore,
	profiles profile.Provider,
	log *logger.Logger,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		logger:        log.Named("conversations"),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Resolve returns the single conversation between selfID and otherID,
// creating it on first contact. Argument order does not matter.
func (s *ConversationService) Resolve(ctx context.Context, selfID, otherID string) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ConversationService.Resolve")
	defer span.End()

	if selfID == "" {
		return "", ErrUnauthenticated
	}
	if otherID == "" || selfID == otherID {
		metrics.RecordResolve(metrics.ResolveInvalid)
		return "", ErrInvalidParticipants
	}

	candidates, err := s.conversations.FindByParticipants(ctx, selfID, otherID)
	if err != nil {
		return "", s.resolveFailed(span, fmt.Errorf("lookup: %w", err))
	}
	for i := range candidates {
		if candidates[i].Connects(selfID, otherID) {
			metrics.RecordResolve(metrics.ResolveExisting)
			span.SetAttributes(attribute.String("conversation.id", candidates[i].ID), attribute.String("resolve.outcome", metrics.ResolveExisting))
			return candidates[i].ID, nil
		}
	}

	conv := model.NewConversation(s.newID(), selfID, otherID, s.now())
	created, err := s.conversations.Insert(ctx, conv)
	if err == nil {
		metrics.RecordResolve(metrics.ResolveCreated)
		span.SetAttributes(attribute.String("conversation.id", created.ID), attribute.String("resolve.outcome", metrics.ResolveCreated))
		s.logger.Info("conversation created",
			zap.String("conversation_id", created.ID),
			zap.String("user1_id", created.User1ID),
			zap.String("user2_id", created.User2ID),
		)
		return created.ID, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return "", s.resolveFailed(span, fmt.Errorf("insert: %w", err))
	}

	// Another caller created the pair first; read it back by canonical key.
	s.logger.Debug("conversation insert conflicted, re-reading",
		zap.String("user1_id", conv.User1ID),
		zap.String("user2_id", conv.User2ID),
	)
	existing, err := s.conversations.FindByPair(ctx, conv.User1ID, conv.User2ID)
	if err != nil {
		return "", s.resolveFailed(span, fmt.Errorf("re-read after conflict: %w", err))
	}
	metrics.RecordResolve(metrics.ResolveConflictRetry)
	span.SetAttributes(attribute.String("conversation.id", existing.ID), attribute.String("resolve.outcome", metrics.ResolveConflictRetry))
	return existing.ID, nil
}

func (s *ConversationService) resolveFailed(span trace.Span, err error) error {
	metrics.RecordResolve(metrics.ResolveFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "resolution failed")
	s.logger.Error("conversation resolution failed", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrResolutionFailed, err)
}

// Get returns a conversation the caller participates in.
func (s *ConversationService) Get(ctx context.Context, selfID, conversationID string) (*model.Conversation, error) {
	if selfID == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !conv.HasParticipant(selfID) {
		// Do not reveal conversations the caller is not part of.
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// List returns the caller's conversations, most recent activity first,
// each with the counterpart profile, last message and unread count.
// Enrichment failures degrade to placeholders.
func (s *ConversationService) List(ctx context.Context, selfID string) ([]model.ConversationSummary, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ConversationService.List")
	defer span.End()

	if selfID == "" {
		return nil, ErrUnauthenticated
	}

	convs, err := s.conversations.ListForUser(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]model.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, s.summarize(ctx, selfID, conv))
	}
	return summaries, nil
}

func (s *ConversationService) summarize(ctx context.Context, selfID string, conv model.Conversation) model.ConversationSummary {
	summary := model.ConversationSummary{
		Conversation: conv,
		OtherUser:    s.profileFor(ctx, conv.Counterpart(selfID)),
	}

	last, err := s.messages.Latest(ctx, conv.ID)
	switch {
	case err == nil:
		summary.LastMessage = last
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Warn("failed to load last message", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	unread, err := s.messages.CountUnread(ctx, conv.ID, selfID)
	if err != nil {
		s.logger.Warn("failed to count unread messages", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	summary.UnreadCount = unread

	return summary
}

func (s *ConversationService) profileFor(ctx context.Context, userID string) model.Profile {
	if s.profiles == nil {
		metrics.ProfileLookups.WithLabelValues("placeholder").Inc()
		return model.PlaceholderProfile(userID)
	}
	prof, err := s.profiles.FetchProfile(ctx, userID)
	if err != nil || prof == nil {
		metrics.ProfileLookups.WithLabelValues("placeholder").Inc()
		if err != nil && !errors.Is(err, profile.ErrNotFound) {
			s.logger.Warn("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return model.PlaceholderProfile(userID)
	}
	metrics.ProfileLookups.WithLabelValues("found").Inc()
	return *prof
}
