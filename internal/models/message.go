package models

import "time"

// Message is an immutable chat line. It lives only as long as its session.
type Message struct {
	ID          string    `db:"id" json:"id"`
	ChatID      string    `db:"chat_id" json:"chat_id"`
	UserID      *string   `db:"user_id" json:"user_id"`
	SenderName  string    `db:"sender_name" json:"sender_name"`
	MessageText string    `db:"message_text" json:"message_text"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
