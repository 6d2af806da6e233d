package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whispr/internal/identity"
)

// CodeProvider issues and redeems emailed sign-in codes.
type CodeProvider interface {
	SendCode(ctx context.Context, email, displayName string) error
	VerifyCode(ctx context.Context, email, code string) (identity.Identity, error)
}

// TokenIssuer mints host tokens.
type TokenIssuer interface {
	Issue(id identity.Identity) (string, error)
}

// AuthHandler signs hosts in with one-time codes.
type AuthHandler struct {
	codes  CodeProvider
	tokens TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(codes CodeProvider, tokens TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{codes: codes, tokens: tokens, logger: logger}
}

// RequestCode handles POST /auth/code.
func (h *AuthHandler) RequestCode(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
		return
	}

	if err := h.codes.SendCode(c.Request.Context(), req.Email, req.DisplayName); err != nil {
		h.logger.Error("send sign-in code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send verification code"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Verification code sent."})
}

// VerifyCode handles POST /auth/verify and returns a host token.
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and code are required"})
		return
	}

	id, err := h.codes.VerifyCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid verification code"})
		case errors.Is(err, identity.ErrCodeExpired):
			c.JSON(http.StatusGone, gin.H{"error": "verification code expired, request a new one"})
		case errors.Is(err, identity.ErrTooManyAttempts):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, request a new code"})
		default:
			h.logger.Error("verify sign-in code", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify code"})
		}
		return
	}

	token, err := h.tokens.Issue(id)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": id})
}
