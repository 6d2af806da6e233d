package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"whispr/internal/models"
)

// Status is the lifecycle state of a channel.
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusConnecting   Status = "CONNECTING"
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// StatusEvent reports a state change. Err is set for error states; RetryIn
// is non-zero when another attempt has been scheduled.
type StatusEvent struct {
	Status  Status
	Err     error
	Attempt int
	RetryIn time.Duration
}

// Channel is a subscription to one chat topic. Handlers run on the channel
// goroutine, one at a time; none run after Close returns.
type Channel struct {
	adapter *Adapter
	chatID  string
	logger  *zap.Logger

	mu        sync.Mutex
	status    Status
	lastErr   error
	conn      Conn
	cancel    context.CancelFunc
	done      chan struct{}
	nextID    int
	inserts   map[int]func(models.Message)
	casts     map[int]broadcastHandler
	statuses  map[int]func(StatusEvent)
	resubbed  map[int]func()
	hadSubbed bool
}

type broadcastHandler struct {
	event string
	fn    func(json.RawMessage)
}

func newChannel(a *Adapter, chatID string) *Channel {
	return &Channel{
		adapter:  a,
		chatID:   chatID,
		logger:   a.opts.Logger.With(zap.String("topic", models.Topic(chatID))),
		status:   StatusIdle,
		inserts:  make(map[int]func(models.Message)),
		casts:    make(map[int]broadcastHandler),
		statuses: make(map[int]func(StatusEvent)),
		resubbed: make(map[int]func()),
	}
}

// ChatID returns the chat this channel follows.
func (ch *Channel) ChatID() string {
	return ch.chatID
}

// Topic returns the topic name.
func (ch *Channel) Topic() string {
	return models.Topic(ch.chatID)
}

// Status returns the current state and the last reported error.
func (ch *Channel) Status() (Status, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.status, ch.lastErr
}

// OnMessageInserted registers a handler for message row inserts.
func (ch *Channel) OnMessageInserted(fn func(models.Message)) (cancel func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id := ch.register()
	ch.inserts[id] = fn
	return ch.unregister(func() { delete(ch.inserts, id) })
}

// OnBroadcast registers a handler for one broadcast event name.
func (ch *Channel) OnBroadcast(event string, fn func(json.RawMessage)) (cancel func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id := ch.register()
	ch.casts[id] = broadcastHandler{event: event, fn: fn}
	return ch.unregister(func() { delete(ch.casts, id) })
}

// OnStatus registers a handler for state changes.
func (ch *Channel) OnStatus(fn func(StatusEvent)) (cancel func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id := ch.register()
	ch.statuses[id] = fn
	return ch.unregister(func() { delete(ch.statuses, id) })
}

// OnResubscribed registers a handler that runs each time the channel is
// subscribed again after losing its subscription.
func (ch *Channel) OnResubscribed(fn func()) (cancel func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id := ch.register()
	ch.resubbed[id] = fn
	return ch.unregister(func() { delete(ch.resubbed, id) })
}

func (ch *Channel) register() int {
	ch.nextID++
	return ch.nextID
}

func (ch *Channel) unregister(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ch.mu.Lock()
			defer ch.mu.Unlock()
			remove()
		})
	}
}

// Subscribe starts the connection loop. Calling it twice is a no-op.
func (ch *Channel) Subscribe(ctx context.Context) {
	ch.mu.Lock()
	if ch.done != nil {
		ch.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	ch.done = make(chan struct{})
	done := ch.done
	ch.mu.Unlock()

	go func() {
		defer close(done)
		ch.run(ctx)
	}()
}

// Send broadcasts an ephemeral event to the other subscribers.
func (ch *Channel) Send(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	conn := ch.conn
	status := ch.status
	ch.mu.Unlock()
	if status != StatusSubscribed || conn == nil {
		return ErrNotSubscribed
	}
	return conn.Send(ctx, models.Frame{Type: models.FrameBroadcast, Event: event, Payload: body})
}

// Close stops the loop and waits for it. No handler runs afterwards.
func (ch *Channel) Close() {
	ch.mu.Lock()
	cancel, done := ch.cancel, ch.done
	ch.mu.Unlock()

	if cancel == nil {
		ch.mu.Lock()
		ch.status = StatusClosed
		ch.mu.Unlock()
		return
	}
	cancel()
	<-done
}

func (ch *Channel) run(ctx context.Context) {
	opts := ch.adapter.opts
	b := ch.adapter.newBackOff()
	attempt := 0

	for {
		attempt++
		ch.setStatus(StatusEvent{Status: StatusConnecting, Attempt: attempt})

		subscribed, err := ch.session(ctx, attempt)
		if ctx.Err() != nil {
			ch.setStatus(StatusEvent{Status: StatusClosed})
			return
		}
		if subscribed {
			b.Reset()
			attempt = 1
		}

		state := StatusChannelError
		var chErr *ChannelError
		if errors.As(err, &chErr) && chErr.Timeout {
			state = StatusTimedOut
		}

		if !IsTransient(err) {
			ch.logger.Warn("realtime channel failed", zap.Error(err))
			ch.setStatus(StatusEvent{Status: state, Err: err, Attempt: attempt})
			return
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			ch.logger.Error("realtime channel giving up", zap.Int("attempts", attempt), zap.Error(err))
			ch.setStatus(StatusEvent{Status: state, Err: ErrMaxRetries, Attempt: attempt})
			return
		}

		ch.logger.Warn("realtime channel error, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		ch.setStatus(StatusEvent{Status: state, Err: err, Attempt: attempt, RetryIn: delay})

		timer := opts.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			ch.setStatus(StatusEvent{Status: StatusClosed})
			return
		case <-timer.Chan():
		}
	}
}

// session runs one connection until it ends. It reports whether the topic
// acknowledged the subscription.
func (ch *Channel) session(ctx context.Context, attempt int) (bool, error) {
	opts := ch.adapter.opts
	conn, err := ch.adapter.transport.Connect(ctx, ch.chatID)
	if err != nil {
		return false, connectionLost(err)
	}
	defer func() {
		ch.mu.Lock()
		ch.conn = nil
		ch.mu.Unlock()
		_ = conn.Close()
	}()

	timeout := opts.Clock.NewTimer(opts.SubscribeTimeout)
	defer timeout.Stop()
	timeoutC := timeout.Chan()
	subscribed := false

	for {
		select {
		case <-ctx.Done():
			return subscribed, ctx.Err()
		case <-timeoutC:
			return false, errSubscribeTimeout
		case frame, ok := <-conn.Frames():
			if !ok {
				return subscribed, connectionLost(conn.Err())
			}
			switch frame.Type {
			case models.FrameSystem:
				if frame.Status != models.StatusSubscribed || subscribed {
					continue
				}
				subscribed = true
				timeout.Stop()
				timeoutC = nil
				ch.markSubscribed(conn, attempt)
			case models.FrameError:
				return subscribed, classifyReason(frame.Reason)
			case models.FrameInsert:
				if subscribed && frame.Message != nil {
					ch.dispatchInsert(*frame.Message)
				}
			case models.FrameBroadcast:
				if subscribed {
					ch.dispatchBroadcast(frame.Event, frame.Payload)
				}
			}
		}
	}
}

func (ch *Channel) markSubscribed(conn Conn, attempt int) {
	ch.mu.Lock()
	ch.conn = conn
	resubscribed := ch.hadSubbed
	ch.hadSubbed = true
	ch.mu.Unlock()

	ch.logger.Info("realtime channel subscribed", zap.Int("attempt", attempt), zap.Bool("resubscribed", resubscribed))
	ch.setStatus(StatusEvent{Status: StatusSubscribed, Attempt: attempt})

	if !resubscribed {
		return
	}
	ch.mu.Lock()
	handlers := make([]func(), 0, len(ch.resubbed))
	for _, fn := range ch.resubbed {
		handlers = append(handlers, fn)
	}
	ch.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// setStatus records the state. A subscribed state clears the last error.
func (ch *Channel) setStatus(ev StatusEvent) {
	ch.mu.Lock()
	ch.status = ev.Status
	switch ev.Status {
	case StatusSubscribed:
		ch.lastErr = nil
	case StatusChannelError, StatusTimedOut:
		ch.lastErr = ev.Err
	}
	handlers := make([]func(StatusEvent), 0, len(ch.statuses))
	for _, fn := range ch.statuses {
		handlers = append(handlers, fn)
	}
	ch.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (ch *Channel) dispatchInsert(msg models.Message) {
	ch.mu.Lock()
	handlers := make([]func(models.Message), 0, len(ch.inserts))
	for _, fn := range ch.inserts {
		handlers = append(handlers, fn)
	}
	ch.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (ch *Channel) dispatchBroadcast(event string, payload json.RawMessage) {
	ch.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(ch.casts))
	for _, h := range ch.casts {
		if h.event == event {
			handlers = append(handlers, h.fn)
		}
	}
	ch.mu.Unlock()

	for _, fn := range handlers {
		fn(payload)
	}
}
