// Package store defines the persistence contracts for conversations and
// messages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lostfound/messaging/internal/model"
)

var (
	// ErrConflict signals a uniqueness constraint violation on insert.
	ErrConflict = errors.New("store: unique constraint violation")
	// ErrNotFound signals that no row matched.
	ErrNotFound = errors.New("store: not found")
)

// ConversationStore persists two-party conversations.
type ConversationStore interface {
	// FindByParticipants returns conversations where either slot equals a or b.
	FindByParticipants(ctx context.Context, a, b string) ([]model.Conversation, error)
	// FindByPair looks up the row for an already canonical pair.
	FindByPair(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// Insert returns ErrConflict when the pair already exists.
	Insert(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	// Touch sets the last-activity timestamp.
	Touch(ctx context.Context, id string, at time.Time) error
	// ListForUser returns the user's conversations, most recent activity first.
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
}

// MessageStore persists the append-only message log.
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) (*model.Message, error)
	// ListByConversation returns messages ordered by creation time ascending.
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	// Latest returns ErrNotFound for an empty conversation.
	Latest(ctx context.Context, conversationID string) (*model.Message, error)
	// MarkRead flips unread messages not sent by readerID and returns the count.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
}
