package observability

import "time"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSEvent describes one websocket lifecycle transition on a chat topic.
type WSEvent struct {
	Name        string
	ChatID      string
	ConnID      string
	ConnectedAt time.Time
	Reason      string
	UserID      string
	DeviceID    string
	IP          string
}

// Envelope renders the event in the ws_events schema.
func (e WSEvent) Envelope() EventEnvelope {
	duration := int64(0)
	if !e.ConnectedAt.IsZero() {
		duration = time.Since(e.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: e.Name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"chat_id":     e.ChatID,
				"event":       e.Name,
				"conn_id":     e.ConnID,
				"duration_ms": duration,
				"reason":      e.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   e.UserID,
				"device_id": e.DeviceID,
				"ip":        e.IP,
			},
		},
	}
}
