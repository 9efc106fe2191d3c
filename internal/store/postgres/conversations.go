package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
)

var errNilPool = errors.New("postgres: nil pool")

const conversationColumns = `id, user1_id, user2_id, created_at, updated_at`

// ConversationStore persists conversations in the conversations table.
type ConversationStore struct {
	pool *pgxpool.Pool
}

// NewConversationStore creates a conversation store backed by pool.
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

var _ store.ConversationStore = (*ConversationStore)(nil)

func (s *ConversationStore) FindByParticipants(ctx context.Context, a, b string) ([]model.Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user1_id IN ($1, $2) OR user2_id IN ($1, $2)
	`, a, b)
	if err != nil {
		return nil, mapError(err)
	}
	return collectConversations(rows)
}

func (s *ConversationStore) FindByPair(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user1_id = $1 AND user2_id = $2
	`, user1ID, user2ID)
	return scanConversation(row)
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *ConversationStore) Insert(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user1_id, user2_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+conversationColumns,
		conv.ID, conv.User1ID, conv.User2ID, conv.CreatedAt, conv.UpdatedAt,
	)
	return scanConversation(row)
}

func (s *ConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.pool == nil {
		return errNilPool
	}
	ct, err := s.pool.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapError(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectConversations(rows)
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	if err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func collectConversations(rows pgx.Rows) ([]model.Conversation, error) {
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
