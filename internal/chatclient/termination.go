package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"whispr/internal/models"
)

// Phase is the end-of-chat handshake state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEnding     Phase = "ending"
	PhaseTerminated Phase = "terminated"
)

// CountdownSeconds is the length of the visible end countdown.
const CountdownSeconds = 5

// Coordinator runs the end-of-chat handshake for one party. Both parties
// count down on their own clocks; only the party that started the end
// writes to the store. When both start at once the host keeps that role.
type Coordinator struct {
	gateway Gateway
	nav     Navigator
	clock   clockwork.Clock
	logger  *zap.Logger
	notify  func()

	mu        sync.Mutex
	chatID    string
	role      models.Role
	sender    Broadcaster
	phase     Phase
	reason    models.Role
	initiator bool
	remaining int
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewCoordinator(gateway Gateway, nav Navigator, clock clockwork.Clock, logger *zap.Logger, notify func()) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func() {}
	}
	return &Coordinator{gateway: gateway, nav: nav, clock: clock, logger: logger, notify: notify, phase: PhaseIdle}
}

// Bind points the coordinator at a chat and resets it to idle. A running
// countdown for the previous chat is cancelled.
func (c *Coordinator) Bind(chatID string, role models.Role, sender Broadcaster) {
	c.stopCountdown()
	c.mu.Lock()
	c.chatID = chatID
	c.role = role
	c.sender = sender
	c.phase = PhaseIdle
	c.reason = ""
	c.initiator = false
	c.remaining = 0
	c.mu.Unlock()
	c.notify()
}

// Close cancels any running countdown.
func (c *Coordinator) Close() {
	c.stopCountdown()
}

// EndChat starts the handshake locally. It reports false when the chat is
// already ending or ended.
func (c *Coordinator) EndChat(ctx context.Context, reason models.Role) bool {
	c.mu.Lock()
	if c.chatID == "" || c.phase != PhaseIdle {
		c.mu.Unlock()
		return false
	}
	c.initiator = true
	c.enterEnding(reason)
	chatID, sender := c.chatID, c.sender
	c.mu.Unlock()
	c.notify()

	if sender != nil {
		payload := models.EndPayload{ChatID: chatID, Reason: reason}
		if err := sender.Send(ctx, models.EventChatEnd, payload); err != nil {
			c.logger.Warn("chat end broadcast failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return true
}

// ReceiveEnd applies a chat:end broadcast from the other party.
func (c *Coordinator) ReceiveEnd(p models.EndPayload) {
	c.mu.Lock()
	if c.chatID == "" || p.ChatID != c.chatID {
		c.mu.Unlock()
		return
	}
	switch {
	case c.phase == PhaseIdle:
		c.initiator = false
		c.enterEnding(p.Reason)
	case c.phase == PhaseEnding && c.initiator && c.reason == models.RoleGuest && p.Reason == models.RoleHost:
		c.logger.Info("yielding chat end to host", zap.String("chat_id", c.chatID))
		c.initiator = false
		c.reason = models.RoleHost
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.notify()
}

// ObserveInactive handles a session found inactive on re-fetch: the end
// broadcast was missed, so the chat is left without another store write.
func (c *Coordinator) ObserveInactive() {
	c.mu.Lock()
	if c.chatID == "" || c.phase == PhaseTerminated {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.stopCountdown()

	c.mu.Lock()
	if c.phase == PhaseTerminated {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseTerminated
	c.initiator = false
	c.remaining = 0
	role := c.role
	c.mu.Unlock()

	c.notify()
	c.navigate(role)
}

// State returns the phase, the seconds left and who ended the chat.
func (c *Coordinator) State() (Phase, int, models.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.remaining, c.reason
}

// Initiator reports whether this party will write the end to the store.
func (c *Coordinator) Initiator() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initiator
}

// enterEnding must be called with c.mu held.
func (c *Coordinator) enterEnding(reason models.Role) {
	c.phase = PhaseEnding
	c.reason = reason
	c.remaining = CountdownSeconds

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go func() {
		defer close(done)
		c.countdown(ctx)
	}()
}

func (c *Coordinator) countdown(ctx context.Context) {
	for {
		timer := c.clock.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		c.mu.Lock()
		if c.phase != PhaseEnding {
			c.mu.Unlock()
			return
		}
		c.remaining--
		if c.remaining > 0 {
			c.mu.Unlock()
			c.notify()
			continue
		}
		c.phase = PhaseTerminated
		chatID, role, initiator := c.chatID, c.role, c.initiator
		c.mu.Unlock()
		c.notify()

		c.finish(ctx, chatID, role, initiator)
		return
	}
}

func (c *Coordinator) finish(ctx context.Context, chatID string, role models.Role, initiator bool) {
	if initiator {
		if err := c.gateway.EndSession(ctx, chatID); err != nil {
			c.logger.Error("end chat session failed", zap.String("chat_id", chatID), zap.Error(err))
		} else {
			c.logger.Info("chat session ended", zap.String("chat_id", chatID))
		}
	}
	c.navigate(role)
}

func (c *Coordinator) navigate(role models.Role) {
	if c.nav != nil {
		c.nav.Navigate(Destination(role))
	}
}

// stopCountdown cancels the countdown goroutine and waits for it.
func (c *Coordinator) stopCountdown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
