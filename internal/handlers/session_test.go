package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whispr/internal/mailer"
	"whispr/internal/mocks"
	"whispr/internal/models"
	"whispr/internal/repositories"
)

type sessionDeps struct {
	sessions *mocks.SessionRepositoryMock
	messages *mocks.MessageRepositoryMock
	invites  *mocks.InviteMailerMock
}

func setupSessionRouter() (*gin.Engine, sessionDeps) {
	gin.SetMode(gin.TestMode)
	deps := sessionDeps{
		sessions: new(mocks.SessionRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		invites:  new(mocks.InviteMailerMock),
	}
	handler := NewSessionHandler(deps.sessions, deps.messages, deps.invites, nil, zap.NewNop())
	r := gin.New()
	r.POST("/send-invite", handler.SendInvite)
	r.POST("/validate-join", handler.ValidateJoin)
	r.POST("/end-chat-session", handler.EndChatSession)
	r.GET("/chats/:chat_id", handler.GetSession)
	return r, deps
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func strPtr(s string) *string { return &s }

func TestSendInviteSuccess(t *testing.T) {
	router, deps := setupSessionRouter()

	deps.sessions.On("CreateSession", mock.Anything, "chat-123456", "Alice").Return(models.ChatSession{ChatID: "chat-123456", HostName: "Alice", IsActive: true}, nil).Once()
	deps.invites.On("SendInvite", mock.Anything, mailer.Invite{GuestEmail: "bob@example.com", HostName: "Alice", ChatID: "chat-123456"}).Return(nil).Once()

	rec := postJSON(router, "/send-invite", `{"guestEmail":"bob@example.com","chatId":"chat-123456","hostName":"Alice"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Invitation email sent successfully.", resp["message"])
	deps.sessions.AssertExpectations(t)
	deps.invites.AssertExpectations(t)
}

func TestSendInviteValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		error string
	}{
		{name: "missing", body: `{"chatId":"chat-123456","hostName":"Alice"}`, error: "Missing required fields: guestEmail, chatId, and hostName"},
		{name: "bad email", body: `{"guestEmail":"nope","chatId":"chat-123456","hostName":"Alice"}`, error: "Invalid guest email address."},
		{name: "bad chat id", body: `{"guestEmail":"bob@example.com","chatId":"a b","hostName":"Alice"}`, error: "Invalid chat id."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := setupSessionRouter()
			rec := postJSON(router, "/send-invite", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.error, decode(t, rec)["error"])
			deps.sessions.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSendInviteDuplicateChat(t *testing.T) {
	router, deps := setupSessionRouter()
	deps.sessions.On("CreateSession", mock.Anything, "chat-123456", "Alice").Return(nil, repositories.ErrDuplicateSession).Once()

	rec := postJSON(router, "/send-invite", `{"guestEmail":"bob@example.com","chatId":"chat-123456","hostName":"Alice"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	deps.invites.AssertNotCalled(t, "SendInvite", mock.Anything, mock.Anything)
}

func TestSendInviteMailFailure(t *testing.T) {
	router, deps := setupSessionRouter()
	deps.sessions.On("CreateSession", mock.Anything, "chat-123456", "Alice").Return(models.ChatSession{ChatID: "chat-123456"}, nil).Once()
	deps.invites.On("SendInvite", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	rec := postJSON(router, "/send-invite", `{"guestEmail":"bob@example.com","chatId":"chat-123456","hostName":"Alice"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to send invitation email.", decode(t, rec)["error"])
}

func TestValidateJoinFirstGuestThenSecond(t *testing.T) {
	router, deps := setupSessionRouter()

	deps.sessions.On("MarkGuestJoined", mock.Anything, "abc", "Bob").
		Return(models.ChatSession{ChatID: "abc", HostName: "Alice", GuestName: strPtr("Bob"), IsActive: true, InviteUsed: true}, nil).Once()
	deps.sessions.On("MarkGuestJoined", mock.Anything, "abc", "Carol").Return(nil, repositories.ErrInviteUsed).Once()

	rec := postJSON(router, "/validate-join", `{"chatId":"abc","guestName":"  Bob  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Alice", resp["hostName"])
	assert.Equal(t, "Bob", resp["guestName"])
	assert.Equal(t, "Successfully joined the chat session.", resp["message"])

	rec = postJSON(router, "/validate-join", `{"chatId":"abc","guestName":"Carol"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	resp = decode(t, rec)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "already been used")
	deps.sessions.AssertExpectations(t)
}

func TestValidateJoinFailures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{name: "missing fields", body: `{"chatId":"abc"}`, status: http.StatusBadRequest, msg: "Missing required fields: chatId and guestName"},
		{name: "blank name", body: `{"chatId":"abc","guestName":"   "}`, status: http.StatusBadRequest, msg: "Invalid guest name. Must be between 1 and 50 characters."},
		{name: "long name", body: `{"chatId":"abc","guestName":"` + string(bytes.Repeat([]byte("x"), 51)) + `"}`, status: http.StatusBadRequest, msg: "Invalid guest name. Must be between 1 and 50 characters."},
		{name: "not found", body: `{"chatId":"abc","guestName":"Bob"}`, err: repositories.ErrSessionNotFound, status: http.StatusNotFound, msg: "This invitation is invalid or has expired."},
		{name: "inactive", body: `{"chatId":"abc","guestName":"Bob"}`, err: repositories.ErrSessionInactive, status: http.StatusGone, msg: "This chat session is no longer active."},
		{name: "store error", body: `{"chatId":"abc","guestName":"Bob"}`, err: assert.AnError, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := setupSessionRouter()
			if tt.err != nil {
				deps.sessions.On("MarkGuestJoined", mock.Anything, "abc", "Bob").Return(nil, tt.err).Once()
			}

			rec := postJSON(router, "/validate-join", tt.body)
			require.Equal(t, tt.status, rec.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, decode(t, rec)["error"])
			}
			deps.sessions.AssertExpectations(t)
		})
	}
}

func TestEndChatSessionDeactivatesThenPurges(t *testing.T) {
	router, deps := setupSessionRouter()

	deactivate := deps.sessions.On("Deactivate", mock.Anything, "abc").Return(models.ChatSession{ChatID: "abc"}, nil).Once()
	deps.messages.On("DeleteAllMessages", mock.Anything, "abc").Return(int64(4), nil).Once().NotBefore(deactivate)

	rec := postJSON(router, "/end-chat-session", `{"chatId":"abc"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Chat session ended and messages deleted successfully", decode(t, rec)["message"])
	deps.sessions.AssertExpectations(t)
	deps.messages.AssertExpectations(t)
}

func TestEndChatSessionIsIdempotent(t *testing.T) {
	router, deps := setupSessionRouter()

	deps.sessions.On("Deactivate", mock.Anything, "abc").Return(models.ChatSession{ChatID: "abc"}, nil).Twice()
	deps.messages.On("DeleteAllMessages", mock.Anything, "abc").Return(int64(0), nil).Twice()

	for i := 0; i < 2; i++ {
		rec := postJSON(router, "/end-chat-session", `{"chatId":"abc"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	deps.sessions.AssertExpectations(t)
}

func TestEndChatSessionFailures(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		router, _ := setupSessionRouter()
		for _, body := range []string{`{}`, `{"chatId":42}`, `{"chatId":""}`} {
			rec := postJSON(router, "/end-chat-session", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "chatId is required and must be a string", decode(t, rec)["error"])
		}
	})

	t.Run("unknown chat", func(t *testing.T) {
		router, deps := setupSessionRouter()
		deps.sessions.On("Deactivate", mock.Anything, "abc").Return(nil, repositories.ErrSessionNotFound).Once()
		rec := postJSON(router, "/end-chat-session", `{"chatId":"abc"}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
		deps.messages.AssertNotCalled(t, "DeleteAllMessages", mock.Anything, mock.Anything)
	})

	t.Run("deactivate error", func(t *testing.T) {
		router, deps := setupSessionRouter()
		deps.sessions.On("Deactivate", mock.Anything, "abc").Return(nil, assert.AnError).Once()
		rec := postJSON(router, "/end-chat-session", `{"chatId":"abc"}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to end chat session", decode(t, rec)["error"])
	})

	t.Run("purge error is reported", func(t *testing.T) {
		router, deps := setupSessionRouter()
		deps.sessions.On("Deactivate", mock.Anything, "abc").Return(models.ChatSession{ChatID: "abc"}, nil).Once()
		deps.messages.On("DeleteAllMessages", mock.Anything, "abc").Return(int64(0), assert.AnError).Once()
		rec := postJSON(router, "/end-chat-session", `{"chatId":"abc"}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to delete chat messages", decode(t, rec)["error"])
	})
}

func TestGetSession(t *testing.T) {
	router, deps := setupSessionRouter()
	deps.sessions.On("GetSession", mock.Anything, "abc").Return(models.ChatSession{ChatID: "abc", HostName: "Alice", IsActive: true}, nil).Once()
	deps.sessions.On("GetSession", mock.Anything, "gone").Return(nil, repositories.ErrSessionNotFound).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_active"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/gone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
