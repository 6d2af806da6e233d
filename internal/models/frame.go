package models

import (
	"encoding/json"
	"strings"
)

// Frame types exchanged on a realtime topic.
const (
	FrameSystem    = "system"
	FrameError     = "error"
	FrameInsert    = "insert"
	FrameBroadcast = "broadcast"
)

// StatusSubscribed is the system status acknowledging a subscription.
const StatusSubscribed = "subscribed"

// Error frame reasons.
const (
	ReasonStoreUnavailable = "unable to connect to the project database"
	ReasonSessionNotFound  = "chat session not found"
	ReasonSessionInactive  = "chat session is no longer active"
)

// Broadcast event names.
const (
	EventChatEnd = "chat:end"
	EventTyping  = "typing"
)

// TopicPrefix prefixes every realtime topic name.
const TopicPrefix = "chat-"

// Frame is the JSON envelope carried over a realtime topic.
type Frame struct {
	Type    string          `json:"type"`
	Status  string          `json:"status,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message *Message        `json:"message,omitempty"`
	// Origin is the connection id of the sender; it is never echoed back to it.
	Origin string `json:"origin,omitempty"`
}

// EndPayload is the body of a chat:end broadcast.
type EndPayload struct {
	ChatID string `json:"chatId"`
	Reason Role   `json:"reason"`
}

// TypingPayload is the body of a typing broadcast.
type TypingPayload struct {
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

// Topic returns the realtime topic name for a chat.
func Topic(chatID string) string {
	return TopicPrefix + chatID
}

// ChatIDFromTopic is the inverse of Topic.
func ChatIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicPrefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, TopicPrefix), true
}
