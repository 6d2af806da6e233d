package chatclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispr/internal/models"
)

func TestTypingTracksOthersOnly(t *testing.T) {
	typing := NewTyping(nil)
	typing.Reset("Alice")

	typing.OnTypingEvent(models.TypingPayload{DisplayName: "Alice", IsTyping: true})
	typing.OnTypingEvent(models.TypingPayload{DisplayName: "Zed", IsTyping: true})
	typing.OnTypingEvent(models.TypingPayload{DisplayName: "Bob", IsTyping: true})
	assert.Equal(t, []string{"Bob", "Zed"}, typing.Users())

	typing.OnTypingEvent(models.TypingPayload{DisplayName: "Zed", IsTyping: false})
	assert.Equal(t, []string{"Bob"}, typing.Users())

	typing.Reset("Alice")
	assert.Empty(t, typing.Users())
}

func TestNotifyTypingBroadcasts(t *testing.T) {
	typing := NewTyping(nil)
	b := &fakeBroadcaster{}

	require.NoError(t, typing.NotifyTyping(context.Background(), b, "Alice", true))

	sent := b.events()
	require.Len(t, sent, 1)
	assert.Equal(t, models.EventTyping, sent[0].event)
	assert.Equal(t, models.TypingPayload{DisplayName: "Alice", IsTyping: true}, sent[0].payload)
}

type typingLog struct {
	mu   sync.Mutex
	sent []bool
}

func (l *typingLog) send(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, v)
}

func (l *typingLog) all() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.sent...)
}

func TestDebouncerStopsAfterIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &typingLog{}
	d := newDebouncer(clock, TypingIdle, log.send)

	d.input("h")
	d.input("he")
	d.input("hey")
	assert.Equal(t, []bool{true}, log.all())

	clock.BlockUntil(1)
	clock.Advance(TypingIdle)
	assert.Eventually(t, func() bool { return len(log.all()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, log.all())

	d.input("again")
	assert.Equal(t, []bool{true, false, true}, log.all())
	d.cancel()
}

func TestDebouncerKeystrokeRestartsIdleTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &typingLog{}
	d := newDebouncer(clock, TypingIdle, log.send)

	d.input("h")
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	d.input("he")
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	assert.Equal(t, []bool{true}, log.all())

	d.flush()
	assert.Equal(t, []bool{true, false}, log.all())
}

func TestDebouncerClearedInputStopsAtOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &typingLog{}
	d := newDebouncer(clock, TypingIdle, log.send)

	d.input("hi")
	d.input("  ")
	assert.Equal(t, []bool{true, false}, log.all())

	clock.Advance(time.Minute)
	d.flush()
	assert.Equal(t, []bool{true, false}, log.all())
}
