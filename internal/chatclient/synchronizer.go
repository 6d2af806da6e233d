package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"whispr/internal/models"
)

var errSuperseded = errors.New("chat load superseded")

// Synchronizer owns the local message log of one chat. Messages are keyed by
// id; a replayed insert never produces a second copy.
type Synchronizer struct {
	gateway Gateway
	logger  *zap.Logger
	notify  func()

	mu       sync.Mutex
	gen      uint64
	chatID   string
	session  *models.ChatSession
	messages []models.Message
	seen     map[string]struct{}
	loading  bool
	err      *ChatError
}

func NewSynchronizer(gateway Gateway, logger *zap.Logger, notify func()) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func() {}
	}
	return &Synchronizer{gateway: gateway, logger: logger, notify: notify, seen: make(map[string]struct{})}
}

// Initialize clears the log and loads chatID from the store. Inserts that
// arrive while the load is in flight are kept behind the fetched rows. An
// empty chat is not an error.
func (s *Synchronizer) Initialize(ctx context.Context, chatID string) (models.ChatSession, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.chatID = chatID
	s.session = nil
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.loading = true
	s.err = nil
	s.mu.Unlock()
	s.notify()

	session, err := s.load(ctx, gen, chatID)
	s.notify()
	return session, err
}

// Refresh re-reads the session row and the log without clearing what is
// already shown.
func (s *Synchronizer) Refresh(ctx context.Context) (models.ChatSession, error) {
	s.mu.Lock()
	gen, chatID := s.gen, s.chatID
	s.mu.Unlock()
	if chatID == "" {
		return models.ChatSession{}, nil
	}

	session, err := s.load(ctx, gen, chatID)
	s.notify()
	return session, err
}

func (s *Synchronizer) load(ctx context.Context, gen uint64, chatID string) (models.ChatSession, error) {
	session, err := s.gateway.FetchSession(ctx, chatID)
	var msgs []models.Message
	if err == nil {
		msgs, err = s.gateway.ListMessages(ctx, chatID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return models.ChatSession{}, errSuperseded
	}
	s.loading = false
	if err != nil {
		s.logger.Warn("load chat failed", zap.String("chat_id", chatID), zap.Error(err))
		s.err = storeLoadError(err)
		return models.ChatSession{}, err
	}

	s.session = &session
	merged := make([]models.Message, 0, len(msgs)+len(s.messages))
	seen := make(map[string]struct{}, len(msgs)+len(s.messages))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	// Rows purged on the server are only dropped when the session is gone.
	if session.IsActive {
		for _, m := range s.messages {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	s.messages = merged
	s.seen = seen
	return session, nil
}

// OnRealtimeInsert appends msg in arrival order unless its id is known.
func (s *Synchronizer) OnRealtimeInsert(msg models.Message) {
	s.mu.Lock()
	if s.chatID == "" || (msg.ChatID != "" && msg.ChatID != s.chatID) {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
}

// Append stores a message. Blank input is ignored. The stored row is not
// added locally; it comes back through the realtime insert.
func (s *Synchronizer) Append(ctx context.Context, chatID, senderName, text string, userID *string) error {
	if chatID == "" || strings.TrimSpace(senderName) == "" || strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.notify()

	if _, err := s.gateway.AppendMessage(ctx, chatID, senderName, strings.TrimSpace(text), userID); err != nil {
		s.logger.Warn("send message failed", zap.String("chat_id", chatID), zap.Error(err))
		s.setError(storeSendError(err))
		return err
	}
	return nil
}

// ClearError dismisses the current error.
func (s *Synchronizer) ClearError() {
	s.setError(nil)
}

func (s *Synchronizer) setError(e *ChatError) {
	s.mu.Lock()
	s.err = e
	s.mu.Unlock()
	s.notify()
}

// clearErrorKind drops the current error only if it is of kind.
func (s *Synchronizer) clearErrorKind(kind ErrorKind) {
	s.mu.Lock()
	if s.err == nil || s.err.Kind != kind {
		s.mu.Unlock()
		return
	}
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

// Reset forgets the current chat.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.gen++
	s.chatID = ""
	s.session = nil
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.loading = false
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

// Messages returns a copy of the log.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Loading reports whether the initial load is in flight.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the current error, if any.
func (s *Synchronizer) Err() *ChatError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Session returns the last loaded session row.
func (s *Synchronizer) Session() (models.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return models.ChatSession{}, false
	}
	return *s.session, true
}
