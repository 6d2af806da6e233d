package realtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Defaults for the subscription retry policy.
const (
	DefaultMaxAttempts      = 4
	DefaultInitialInterval  = time.Second
	DefaultMaxInterval      = 10 * time.Second
	DefaultSubscribeTimeout = 10 * time.Second
)

// Options tunes an Adapter. Zero values fall back to the defaults.
type Options struct {
	MaxAttempts      int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	SubscribeTimeout time.Duration
	Clock            clockwork.Clock
	Logger           *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = DefaultInitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Adapter turns a Transport into managed, self-healing topic channels.
type Adapter struct {
	transport Transport
	opts      Options
}

func NewAdapter(transport Transport, opts Options) *Adapter {
	return &Adapter{transport: transport, opts: opts.withDefaults()}
}

// Channel prepares a channel for chat-<chatID>. Register handlers, then call
// Subscribe.
func (a *Adapter) Channel(chatID string) *Channel {
	return newChannel(a, chatID)
}

// Open is Channel followed by Subscribe, for callers that register handlers
// later and can tolerate missing the first frames.
func (a *Adapter) Open(ctx context.Context, chatID string) *Channel {
	ch := a.Channel(chatID)
	ch.Subscribe(ctx)
	return ch
}

// newBackOff yields base * 2^n delays, capped, with no jitter, and stops
// after MaxAttempts-1 retries.
func (a *Adapter) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.opts.InitialInterval
	exp.MaxInterval = a.opts.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, uint64(a.opts.MaxAttempts-1))
	b.Reset()
	return b
}
