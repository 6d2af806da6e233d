package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"whispr/internal/models"
)

var (
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrDuplicateSession = errors.New("chat session already exists")
	ErrSessionInactive  = errors.New("chat session is no longer active")
	ErrInviteUsed       = errors.New("invitation already used")
)

const uniqueViolation = "23505"

const sessionColumns = `chat_id, host_name, guest_name, is_active, invite_used, created_at, ended_at`

// SessionRepository abstracts chat session persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, chatID, hostName string) (models.ChatSession, error)
	GetSession(ctx context.Context, chatID string) (models.ChatSession, error)
	MarkGuestJoined(ctx context.Context, chatID, guestName string) (models.ChatSession, error)
	Deactivate(ctx context.Context, chatID string) (models.ChatSession, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CreateSession inserts an active session whose invite is still unused.
func (r *SessionRepo) CreateSession(ctx context.Context, chatID, hostName string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_sessions (chat_id, host_name) VALUES ($1, $2) RETURNING `+sessionColumns, chatID, hostName).
		StructScan(&session)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return models.ChatSession{}, ErrDuplicateSession
	}
	return session, err
}

// GetSession fetches a session by chat id.
func (r *SessionRepo) GetSession(ctx context.Context, chatID string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE chat_id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// MarkGuestJoined consumes the invite. Only one caller can win; the rest get
// ErrInviteUsed, ErrSessionInactive or ErrSessionNotFound.
func (r *SessionRepo) MarkGuestJoined(ctx context.Context, chatID, guestName string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.QueryRowxContext(ctx, `UPDATE chat_sessions SET invite_used = TRUE, guest_name = $2
        WHERE chat_id=$1 AND invite_used = FALSE AND is_active = TRUE
        RETURNING `+sessionColumns, chatID, guestName).StructScan(&session)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, err
	}

	current, err := r.GetSession(ctx, chatID)
	if err != nil {
		return models.ChatSession{}, err
	}
	if !current.IsActive {
		return models.ChatSession{}, ErrSessionInactive
	}
	return models.ChatSession{}, ErrInviteUsed
}

// Deactivate marks the session inactive. Repeated calls keep the first ended_at.
func (r *SessionRepo) Deactivate(ctx context.Context, chatID string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.QueryRowxContext(ctx, `UPDATE chat_sessions SET is_active = FALSE, ended_at = COALESCE(ended_at, NOW())
        WHERE chat_id=$1 RETURNING `+sessionColumns, chatID).StructScan(&session)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}
