package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whispr/internal/mailer"
	"whispr/internal/models"
	"whispr/internal/observability"
	"whispr/internal/repositories"
	"whispr/internal/telemetry"
)

const maxGuestNameLength = 50

var chatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// InviteSender queues the invitation email for a new session.
type InviteSender interface {
	SendInvite(ctx context.Context, invite mailer.Invite) error
}

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	invites  InviteSender
	audit    *telemetry.AuditEmitter
	logger   *zap.Logger
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions repositories.SessionRepository, messages repositories.MessageRepository, invites InviteSender, audit *telemetry.AuditEmitter, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		messages: messages,
		invites:  invites,
		audit:    audit,
		logger:   logger,
	}
}

// SendInvite handles POST /send-invite: it creates the session row and emails the guest.
func (h *SessionHandler) SendInvite(c *gin.Context) {
	var req struct {
		GuestEmail string `json:"guestEmail"`
		ChatID     string `json:"chatId"`
		HostName   string `json:"hostName"`
	}
	_ = c.ShouldBindJSON(&req)
	req.GuestEmail = strings.TrimSpace(req.GuestEmail)
	req.ChatID = strings.TrimSpace(req.ChatID)
	req.HostName = strings.TrimSpace(req.HostName)

	if req.GuestEmail == "" || req.ChatID == "" || req.HostName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields: guestEmail, chatId, and hostName"})
		return
	}
	if _, err := mail.ParseAddress(req.GuestEmail); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid guest email address."})
		return
	}
	if !chatIDPattern.MatchString(req.ChatID) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid chat id."})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.sessions.CreateSession(ctx, req.ChatID, req.HostName); err != nil {
		observability.IncSessionEvent("invite", "create_failed")
		if errors.Is(err, repositories.ErrDuplicateSession) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "A chat session with this id already exists."})
			return
		}
		h.logger.Error("create chat session", zap.String("chat_id", req.ChatID), zap.Error(err))
		emitAudit(c, h.audit, "ERROR", "chat session create failed", req.ChatID)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create chat session.", "details": err.Error()})
		return
	}

	if err := h.invites.SendInvite(ctx, mailer.Invite{GuestEmail: req.GuestEmail, HostName: req.HostName, ChatID: req.ChatID}); err != nil {
		observability.IncSessionEvent("invite", "mail_failed")
		h.logger.Error("send invite email", zap.String("chat_id", req.ChatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to send invitation email.", "details": err.Error()})
		return
	}

	observability.IncSessionEvent("invite", "sent")
	emitAudit(c, h.audit, "INFO", "chat session created", req.ChatID)
	c.JSON(http.StatusOK, gin.H{"success": true, "chatId": req.ChatID, "message": "Invitation email sent successfully."})
}

// ValidateJoin handles POST /validate-join: the guest claims the single-use invite.
func (h *SessionHandler) ValidateJoin(c *gin.Context) {
	var req struct {
		ChatID    string `json:"chatId"`
		GuestName string `json:"guestName"`
	}
	_ = c.ShouldBindJSON(&req)

	if req.ChatID == "" || req.GuestName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields: chatId and guestName"})
		return
	}
	guestName := strings.TrimSpace(req.GuestName)
	if n := utf8.RuneCountInString(guestName); n < 1 || n > maxGuestNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid guest name. Must be between 1 and 50 characters."})
		return
	}

	session, err := h.sessions.MarkGuestJoined(c.Request.Context(), req.ChatID, guestName)
	if err != nil {
		status, msg, result := joinFailure(err)
		observability.IncSessionEvent("join", result)
		if status == http.StatusInternalServerError {
			h.logger.Error("validate join", zap.String("chat_id", req.ChatID), zap.Error(err))
		}
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	observability.IncSessionEvent("join", "joined")
	emitAudit(c, h.audit, "INFO", "guest joined chat session", session.ChatID)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"chatId":    session.ChatID,
		"hostName":  session.HostName,
		"guestName": guestName,
		"message":   "Successfully joined the chat session.",
	})
}

func joinFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, repositories.ErrSessionNotFound):
		return http.StatusNotFound, "This invitation is invalid or has expired.", "not_found"
	case errors.Is(err, repositories.ErrSessionInactive):
		return http.StatusGone, "This chat session is no longer active.", "inactive"
	case errors.Is(err, repositories.ErrInviteUsed):
		return http.StatusForbidden, "This invitation link has already been used.", "already_used"
	default:
		return http.StatusInternalServerError, "An unexpected error occurred while validating the invitation.", "error"
	}
}

// EndChatSession handles POST /end-chat-session. Deactivation and the message
// purge are separate steps; ending an already inactive session still purges.
func (h *SessionHandler) EndChatSession(c *gin.Context) {
	var req struct {
		ChatID *string `json:"chatId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ChatID == nil || strings.TrimSpace(*req.ChatID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required and must be a string"})
		return
	}
	chatID := strings.TrimSpace(*req.ChatID)
	ctx := c.Request.Context()

	if _, err := h.sessions.Deactivate(ctx, chatID); err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			observability.IncSessionEvent("end", "not_found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
			return
		}
		observability.IncSessionEvent("end", "deactivate_failed")
		h.logger.Error("deactivate chat session", zap.String("chat_id", chatID), zap.Error(err))
		emitAudit(c, h.audit, "ERROR", "chat session deactivate failed", chatID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end chat session", "details": err.Error()})
		return
	}

	deleted, err := h.messages.DeleteAllMessages(ctx, chatID)
	if err != nil {
		observability.IncSessionEvent("end", "purge_failed")
		h.logger.Error("purge chat messages", zap.String("chat_id", chatID), zap.Error(err))
		emitAudit(c, h.audit, "ERROR", "chat messages purge failed", chatID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat messages", "details": err.Error()})
		return
	}

	observability.IncSessionEvent("end", "ended")
	h.logger.Info("chat session ended", zap.String("chat_id", chatID), zap.Int64("messages_deleted", deleted))
	emitAudit(c, h.audit, "INFO", "chat session ended", chatID)
	c.JSON(http.StatusOK, gin.H{"message": "Chat session ended and messages deleted successfully"})
}

// GetSession handles GET /chats/:chat_id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		writeSessionLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func writeSessionLookupError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat session not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat session"})
}

// requireSession rejects unknown chat ids before the message endpoints run.
func requireSession(c *gin.Context, sessions repositories.SessionRepository) (models.ChatSession, bool) {
	session, err := sessions.GetSession(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		writeSessionLookupError(c, err)
		return models.ChatSession{}, false
	}
	return session, true
}
