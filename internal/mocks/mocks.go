package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"whispr/internal/identity"
	"whispr/internal/mailer"
	"whispr/internal/models"
	"whispr/internal/repositories"
)

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) CreateSession(ctx context.Context, chatID, hostName string) (models.ChatSession, error) {
	args := m.Called(ctx, chatID, hostName)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) GetSession(ctx context.Context, chatID string) (models.ChatSession, error) {
	args := m.Called(ctx, chatID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) MarkGuestJoined(ctx context.Context, chatID, guestName string) (models.ChatSession, error) {
	args := m.Called(ctx, chatID, guestName)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) Deactivate(ctx context.Context, chatID string) (models.ChatSession, error) {
	args := m.Called(ctx, chatID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, chatID, senderName, text string, userID *string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderName, text, userID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteAllMessages(ctx context.Context, chatID string) (int64, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).(int64), args.Error(1)
}

type InviteMailerMock struct {
	mock.Mock
}

func (m *InviteMailerMock) SendInvite(ctx context.Context, invite mailer.Invite) error {
	args := m.Called(ctx, invite)
	return args.Error(0)
}

type CodeProviderMock struct {
	mock.Mock
}

func (m *CodeProviderMock) SendCode(ctx context.Context, email, displayName string) error {
	args := m.Called(ctx, email, displayName)
	return args.Error(0)
}

func (m *CodeProviderMock) VerifyCode(ctx context.Context, email, code string) (identity.Identity, error) {
	args := m.Called(ctx, email, code)
	var id identity.Identity
	if val := args.Get(0); val != nil {
		id = val.(identity.Identity)
	}
	return id, args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) PublishInsert(ctx context.Context, msg models.Message) {
	m.Called(ctx, msg)
}

var _ repositories.SessionRepository = (*SessionRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ interface {
	SendInvite(context.Context, mailer.Invite) error
} = (*InviteMailerMock)(nil)
var _ interface {
	SendCode(context.Context, string, string) error
	VerifyCode(context.Context, string, string) (identity.Identity, error)
} = (*CodeProviderMock)(nil)
