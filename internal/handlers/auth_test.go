package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whispr/internal/identity"
	"whispr/internal/mocks"
)

func setupAuthRouter() (*gin.Engine, *mocks.CodeProviderMock, *identity.TokenIssuer) {
	gin.SetMode(gin.TestMode)
	codes := new(mocks.CodeProviderMock)
	tokens := identity.NewTokenIssuer("secret", time.Hour)
	handler := NewAuthHandler(codes, tokens, zap.NewNop())
	r := gin.New()
	r.POST("/auth/code", handler.RequestCode)
	r.POST("/auth/verify", handler.VerifyCode)
	return r, codes, tokens
}

func TestRequestCode(t *testing.T) {
	router, codes, _ := setupAuthRouter()
	codes.On("SendCode", mock.Anything, "alice@example.com", "Alice").Return(nil).Once()

	rec := postJSON(router, "/auth/code", `{"email":"alice@example.com","displayName":"Alice"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	codes.AssertExpectations(t)
}

func TestRequestCodeRejectsBadEmail(t *testing.T) {
	router, codes, _ := setupAuthRouter()

	rec := postJSON(router, "/auth/code", `{"email":"not-an-email"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	codes.AssertNotCalled(t, "SendCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyCodeIssuesToken(t *testing.T) {
	router, codes, tokens := setupAuthRouter()
	codes.On("VerifyCode", mock.Anything, "alice@example.com", "123456").
		Return(identity.Identity{UserID: "u1", Email: "alice@example.com", DisplayName: "Alice"}, nil).Once()

	rec := postJSON(router, "/auth/verify", `{"email":"alice@example.com","code":"123456"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	token, ok := resp["token"].(string)
	require.True(t, ok)
	id, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestVerifyCodeFailures(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: identity.ErrInvalidCode, status: http.StatusUnauthorized},
		{err: identity.ErrCodeExpired, status: http.StatusGone},
		{err: identity.ErrTooManyAttempts, status: http.StatusTooManyRequests},
		{err: assert.AnError, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router, codes, _ := setupAuthRouter()
			codes.On("VerifyCode", mock.Anything, "alice@example.com", "000000").Return(nil, tt.err).Once()

			rec := postJSON(router, "/auth/verify", `{"email":"alice@example.com","code":"000000"}`)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
