package ws

import "time"

// ConnInfo identifies one realtime subscriber for logs and ws_events.
type ConnInfo struct {
	ConnID      string
	ChatID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
