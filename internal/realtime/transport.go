package realtime

import (
	"context"

	"whispr/internal/models"
)

// Transport opens a raw connection to a chat topic.
type Transport interface {
	Connect(ctx context.Context, chatID string) (Conn, error)
}

// Conn is one live connection to a topic. Frames is closed when the
// connection ends; Err then explains why.
type Conn interface {
	Frames() <-chan models.Frame
	Send(ctx context.Context, frame models.Frame) error
	Err() error
	Close() error
}
