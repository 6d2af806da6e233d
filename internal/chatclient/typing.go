package chatclient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"whispr/internal/models"
)

// TypingIdle is how long after the last keystroke a stop event is sent.
const TypingIdle = 1500 * time.Millisecond

// Typing tracks which other participants are typing. Entries only leave the
// set when their sender says so.
type Typing struct {
	notify func()

	mu    sync.Mutex
	local string
	users map[string]struct{}
}

func NewTyping(notify func()) *Typing {
	if notify == nil {
		notify = func() {}
	}
	return &Typing{notify: notify, users: make(map[string]struct{})}
}

// Reset empties the set and sets the local user's name, which is never
// listed.
func (t *Typing) Reset(localName string) {
	t.mu.Lock()
	t.local = localName
	t.users = make(map[string]struct{})
	t.mu.Unlock()
	t.notify()
}

// NotifyTyping broadcasts the local typing state.
func (t *Typing) NotifyTyping(ctx context.Context, b Broadcaster, displayName string, isTyping bool) error {
	return b.Send(ctx, models.EventTyping, models.TypingPayload{DisplayName: displayName, IsTyping: isTyping})
}

// OnTypingEvent applies a typing broadcast from another participant.
func (t *Typing) OnTypingEvent(p models.TypingPayload) {
	name := strings.TrimSpace(p.DisplayName)
	t.mu.Lock()
	if name == "" || name == t.local {
		t.mu.Unlock()
		return
	}
	_, present := t.users[name]
	if p.IsTyping == present {
		t.mu.Unlock()
		return
	}
	if p.IsTyping {
		t.users[name] = struct{}{}
	} else {
		delete(t.users, name)
	}
	t.mu.Unlock()
	t.notify()
}

// Users returns the typing names in sorted order.
func (t *Typing) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.users))
	for name := range t.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// debouncer turns keystrokes into typing start and stop events.
type debouncer struct {
	clock clockwork.Clock
	idle  time.Duration
	send  func(isTyping bool)

	mu     sync.Mutex
	typing bool
	gen    uint64
	stop   func()
}

func newDebouncer(clock clockwork.Clock, idle time.Duration, send func(bool)) *debouncer {
	return &debouncer{clock: clock, idle: idle, send: send}
}

// input records a change of the input field. Clearing it stops typing at once.
func (d *debouncer) input(text string) {
	if strings.TrimSpace(text) == "" {
		d.flush()
		return
	}

	d.mu.Lock()
	start := !d.typing
	d.typing = true
	d.gen++
	gen := d.gen
	if d.stop != nil {
		d.stop()
	}
	d.stop = afterFunc(d.clock, d.idle, func() { d.expire(gen) })
	d.mu.Unlock()

	if start {
		d.send(true)
	}
}

func (d *debouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.stop = nil
	d.mu.Unlock()
	d.send(false)
}

// flush sends the stop event now if typing was announced.
func (d *debouncer) flush() {
	d.mu.Lock()
	wasTyping := d.typing
	d.reset()
	d.mu.Unlock()
	if wasTyping {
		d.send(false)
	}
}

// cancel forgets the typing state without telling anyone.
func (d *debouncer) cancel() {
	d.mu.Lock()
	d.reset()
	d.mu.Unlock()
}

func (d *debouncer) reset() {
	d.typing = false
	d.gen++
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

// afterFunc runs fn on its own goroutine once d has passed on clock. The
// returned func cancels it.
func afterFunc(clock clockwork.Clock, d time.Duration, fn func()) (stop func()) {
	timer := clock.NewTimer(d)
	cancel := make(chan struct{})
	go func() {
		select {
		case <-timer.Chan():
			fn()
		case <-cancel:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			timer.Stop()
			close(cancel)
		})
	}
}
