package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"whispr/internal/models"
)

const messageColumns = `id, chat_id, user_id, sender_name, message_text, created_at`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, chatID, senderName, text string, userID *string) (models.Message, error)
	DeleteAllMessages(ctx context.Context, chatID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ListMessages returns the chat history oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at ASC, id ASC`, chatID)
	return msgs, err
}

// CreateMessage stores a message; id and created_at are assigned by the database.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID, senderName, text string, userID *string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, user_id, sender_name, message_text) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		chatID, userID, senderName, text).StructScan(&msg)
	return msg, err
}

// DeleteAllMessages purges the chat history and reports how many rows went.
func (r *MessageRepo) DeleteAllMessages(ctx context.Context, chatID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id=$1`, chatID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
