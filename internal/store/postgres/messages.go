package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/store"
)

const messageColumns = `id, conversation_id, sender_id, content, created_at, is_read`

// MessageStore persists the message log in the messages table.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates a message store backed by pool.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

var _ store.MessageStore = (*MessageStore)(nil)

func (s *MessageStore) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt, msg.IsRead,
	)
	return scanMessage(row)
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, mapError(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID string) (*model.Message, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, conversationID)
	return scanMessage(row)
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errNilPool
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET is_read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false
	`, conversationID, readerID)
	if err != nil {
		return 0, mapError(err)
	}
	return ct.RowsAffected(), nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, errNilPool
	}
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false
	`, conversationID, readerID).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsRead); err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}
