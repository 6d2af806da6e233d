package handlers

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whispr/internal/models"
	"whispr/internal/repositories"
)

const maxMessageLength = 4000

// Broadcaster pushes stored messages to realtime subscribers.
type Broadcaster interface {
	PublishInsert(ctx context.Context, msg models.Message)
}

// MessageHandler serves chat history and message posting.
type MessageHandler struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	hub      Broadcaster
	logger   *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(sessions repositories.SessionRepository, messages repositories.MessageRepository, hub Broadcaster, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{sessions: sessions, messages: messages, hub: hub, logger: logger}
}

// ListMessages returns the session history oldest first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	session, ok := requireSession(c, h.sessions)
	if !ok {
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), session.ChatID)
	if err != nil {
		h.logger.Error("list messages", zap.String("chat_id", session.ChatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and emits its insert event. The row is the
// only source of truth; senders see their own message through the event.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		SenderName string `json:"senderName"`
		Text       string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	userID := userIDFromContext(c)
	sender := strings.TrimSpace(req.SenderName)
	text := strings.TrimSpace(req.Text)
	if text == "" || (sender == "" && userID == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "senderName and text are required"})
		return
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is too long"})
		return
	}

	session, ok := requireSession(c, h.sessions)
	if !ok {
		return
	}
	if !session.IsActive {
		c.JSON(http.StatusGone, gin.H{"error": "chat session is no longer active"})
		return
	}

	sender, reason := resolveSender(session, sender, userID != nil)
	if reason != "" {
		c.JSON(http.StatusForbidden, gin.H{"error": reason})
		return
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), session.ChatID, sender, text, userID)
	if err != nil {
		h.logger.Error("store message", zap.String("chat_id", session.ChatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.hub.PublishInsert(c.Request.Context(), msg)
	c.JSON(http.StatusCreated, msg)
}

// resolveSender picks the stored sender name. Signed-in posters are the host
// and always write under the session's host name. Anonymous posters are the
// guest: they may not use the host's name and, once a guest has joined, must
// use that guest's name.
func resolveSender(session models.ChatSession, requested string, signedIn bool) (string, string) {
	if signedIn {
		if session.HostName != "" {
			return session.HostName, ""
		}
		return requested, ""
	}
	if strings.EqualFold(requested, session.HostName) {
		return "", "senderName is reserved for the host"
	}
	if session.GuestName != nil && *session.GuestName != "" {
		if !strings.EqualFold(requested, *session.GuestName) {
			return "", "senderName does not match the joined guest"
		}
		return *session.GuestName, ""
	}
	return requested, ""
}
