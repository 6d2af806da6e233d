package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whispr/internal/middleware"
	"whispr/internal/observability"
	"whispr/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(observability.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString(middleware.UserIDKey); userID != "" {
		return &userID
	}
	return nil
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, level, text, chatID string) {
	emitter.Emit(c.Request.Context(), telemetry.AuditEntry{
		Level:     level,
		Text:      text,
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
		ChatID:    chatID,
	})
}
