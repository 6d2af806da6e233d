package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"whispr/internal/models"
	"whispr/internal/realtime"
)

// Config wires a Session.
type Config struct {
	Gateway   Gateway
	Adapter   *realtime.Adapter
	Navigator Navigator
	// DisplayName is the local party's name, used as sender and typing name.
	DisplayName string
	Role        models.Role
	// UserID is set for signed-in hosts.
	UserID *string
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// State is a point-in-time view for rendering.
type State struct {
	ChatID      string
	Messages    []models.Message
	Loading     bool
	Error       *ChatError
	Active      bool
	Ended       bool
	TypingUsers []string
	Phase       Phase
	Countdown   int
	EndedBy     models.Role
	Connection  realtime.Status
}

// Session is the chat facade the UI talks to. It owns one realtime channel
// at a time.
type Session struct {
	cfg     Config
	logger  *zap.Logger
	sync    *Synchronizer
	typing  *Typing
	coord   *Coordinator
	typer   *debouncer
	updates chan struct{}

	joinMu     sync.Mutex
	mu         sync.Mutex
	chatID     string
	channel    *realtime.Channel
	joinCancel context.CancelFunc
	closed     bool
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if !cfg.Role.Valid() {
		cfg.Role = models.RoleGuest
	}

	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("role", string(cfg.Role))),
		updates: make(chan struct{}, 1),
	}
	s.sync = NewSynchronizer(cfg.Gateway, s.logger, s.changed)
	s.typing = NewTyping(s.changed)
	s.coord = NewCoordinator(cfg.Gateway, cfg.Navigator, cfg.Clock, s.logger, s.changed)
	s.typer = newDebouncer(cfg.Clock, TypingIdle, s.sendTyping)
	return s
}

// Updates signals that Snapshot changed. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) changed() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// JoinSession loads chatID and subscribes to its topic. Calling it again for
// the chat that is already subscribed does nothing. Joining another chat
// first tears the current one down.
func (s *Session) JoinSession(ctx context.Context, chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("chat session closed")
	}
	if s.chatID == chatID && s.channel != nil {
		if phase, _, _ := s.coord.State(); phase == PhaseTerminated {
			s.mu.Unlock()
			return nil
		}
		if status, _ := s.channel.Status(); status == realtime.StatusSubscribed {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	s.teardown()

	ch := s.cfg.Adapter.Channel(chatID)
	joinCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.chatID = chatID
	s.channel = ch
	s.joinCancel = cancel
	s.mu.Unlock()

	s.typing.Reset(s.cfg.DisplayName)
	s.coord.Bind(chatID, s.cfg.Role, ch)
	s.wire(joinCtx, ch)

	s.logger.Info("joining chat", zap.String("chat_id", chatID))
	session, err := s.sync.Initialize(ctx, chatID)
	if err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		// The load error is already shown; still subscribe so a retry can
		// pick up live messages.
		ch.Subscribe(joinCtx)
		return nil
	}
	if !session.IsActive {
		s.logger.Info("chat already ended", zap.String("chat_id", chatID))
		s.coord.ObserveInactive()
		return nil
	}

	ch.Subscribe(joinCtx)
	return nil
}

func (s *Session) wire(ctx context.Context, ch *realtime.Channel) {
	ch.OnMessageInserted(s.sync.OnRealtimeInsert)
	ch.OnBroadcast(models.EventTyping, func(raw json.RawMessage) {
		var p models.TypingPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Debug("bad typing payload", zap.Error(err))
			return
		}
		s.typing.OnTypingEvent(p)
	})
	ch.OnBroadcast(models.EventChatEnd, func(raw json.RawMessage) {
		var p models.EndPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Debug("bad chat end payload", zap.Error(err))
			return
		}
		s.coord.ReceiveEnd(p)
	})
	ch.OnStatus(func(ev realtime.StatusEvent) {
		switch {
		case ev.Status == realtime.StatusSubscribed:
			s.sync.clearErrorKind(ErrorRealtime)
		case ev.Err != nil && ev.RetryIn == 0:
			s.sync.setError(realtimeError(ev.Err))
			var chErr *realtime.ChannelError
			if errors.As(ev.Err, &chErr) && !chErr.Transient {
				// The server refuses topics of ended chats, so a missed
				// chat:end surfaces here instead of as a resubscribe.
				s.checkEnded(ctx)
			}
		default:
			s.changed()
		}
	})
	ch.OnResubscribed(func() {
		s.checkEnded(ctx)
	})
}

// checkEnded re-reads the chat and leaves it when the other party already
// ended it.
func (s *Session) checkEnded(ctx context.Context) {
	session, err := s.sync.Refresh(ctx)
	if err != nil {
		return
	}
	if !session.IsActive {
		s.sync.clearErrorKind(ErrorRealtime)
		s.coord.ObserveInactive()
	}
}

// teardown releases the current channel and cancels pending timers.
func (s *Session) teardown() {
	s.mu.Lock()
	ch, cancel := s.channel, s.joinCancel
	s.channel, s.joinCancel = nil, nil
	s.chatID = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
	s.typer.cancel()
	s.coord.Bind("", s.cfg.Role, nil)
}

// SendMessage stores text as the local party. The message shows up once its
// realtime insert arrives.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.typer.flush()
	return s.sync.Append(ctx, s.currentChatID(), s.cfg.DisplayName, text, s.cfg.UserID)
}

// EndSession starts the end-of-chat countdown. An empty reason means the
// local role.
func (s *Session) EndSession(ctx context.Context, reason models.Role) {
	if !reason.Valid() {
		reason = s.cfg.Role
	}
	s.coord.EndChat(ctx, reason)
}

// InputChanged feeds the typing indicator.
func (s *Session) InputChanged(text string) {
	if s.currentChatID() == "" {
		return
	}
	s.typer.input(text)
}

// InputFocused dismisses a displayed error so the user can type again.
func (s *Session) InputFocused() {
	s.sync.ClearError()
}

// ClearError dismisses the current error.
func (s *Session) ClearError() {
	s.sync.ClearError()
}

// Retry reconnects the current chat after a realtime error.
func (s *Session) Retry(ctx context.Context) error {
	chatID := s.currentChatID()
	if chatID == "" {
		return nil
	}
	s.sync.ClearError()
	return s.JoinSession(ctx, chatID)
}

// Close releases the subscription and cancels the typing and countdown
// timers. The Session cannot be used afterwards.
func (s *Session) Close() {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown()
	s.coord.Close()
	s.sync.Reset()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	chatID, ch := s.chatID, s.channel
	s.mu.Unlock()

	phase, remaining, endedBy := s.coord.State()
	st := State{
		ChatID:      chatID,
		Messages:    s.sync.Messages(),
		Loading:     s.sync.Loading(),
		Error:       s.sync.Err(),
		TypingUsers: s.typing.Users(),
		Phase:       phase,
		Countdown:   remaining,
		EndedBy:     endedBy,
		Connection:  realtime.StatusIdle,
	}
	if ch != nil {
		st.Connection, _ = ch.Status()
	}
	if session, ok := s.sync.Session(); ok {
		st.Active = session.IsActive && phase != PhaseTerminated
		st.Ended = !session.IsActive || phase == PhaseTerminated
	} else {
		st.Ended = phase == PhaseTerminated
	}
	return st
}

func (s *Session) currentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *Session) sendTyping(isTyping bool) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return
	}
	if err := s.typing.NotifyTyping(context.Background(), ch, s.cfg.DisplayName, isTyping); err != nil {
		s.logger.Debug("typing broadcast failed", zap.Error(err))
	}
}
