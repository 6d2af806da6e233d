// Package chatclient is the client half of a Whispr chat: it keeps the local
// message log in sync, tracks who is typing and runs the end-of-chat
// handshake on top of a realtime channel.
package chatclient

import (
	"context"
	"fmt"

	"whispr/internal/models"
)

// Gateway is the client's view of the session store.
type Gateway interface {
	FetchSession(ctx context.Context, chatID string) (models.ChatSession, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, chatID, senderName, text string, userID *string) (models.Message, error)
	// EndSession deactivates the session and purges its messages.
	EndSession(ctx context.Context, chatID string) error
}

// Broadcaster sends ephemeral events on the chat topic.
type Broadcaster interface {
	Send(ctx context.Context, event string, payload any) error
}

// Navigator moves the UI to another surface. It is called from the
// session's own goroutines and must not call back into the Session
// synchronously.
type Navigator interface {
	Navigate(dest string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(dest string)

func (f NavigatorFunc) Navigate(dest string) { f(dest) }

// Destinations after a chat ends.
const (
	DestDashboard = "/dashboard"
	DestChatEnded = "/chat-ended"
)

// Destination returns where a party with role goes once its chat ended.
func Destination(role models.Role) string {
	if role == models.RoleHost {
		return DestDashboard
	}
	return DestChatEnded
}

// ErrorKind tells the UI which recovery action fits an error.
type ErrorKind int

const (
	// ErrorStore is a failed load or send; the user can dismiss it.
	ErrorStore ErrorKind = iota + 1
	// ErrorRealtime is a lost subscription; the user can retry the connection.
	ErrorRealtime
)

// RealtimeErrorPrefix marks realtime errors in user-facing text.
const RealtimeErrorPrefix = "Realtime connection error:"

// ChatError is the user-visible error state.
type ChatError struct {
	Kind    ErrorKind
	Message string
}

func (e *ChatError) Error() string {
	return e.Message
}

func storeLoadError(err error) *ChatError {
	return &ChatError{Kind: ErrorStore, Message: fmt.Sprintf("Failed to load messages: %s", err)}
}

func storeSendError(err error) *ChatError {
	return &ChatError{Kind: ErrorStore, Message: fmt.Sprintf("Failed to send message: %s. Please try again.", err)}
}

func realtimeError(err error) *ChatError {
	return &ChatError{Kind: ErrorRealtime, Message: fmt.Sprintf("%s %s. Try refreshing.", RealtimeErrorPrefix, err)}
}
