// Package realtimetest provides an in-memory realtime transport for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"whispr/internal/models"
	"whispr/internal/realtime"
)

// ErrDropped is reported by connections cut with Drop.
var ErrDropped = errors.New("connection reset by broker")

// ErrDialRefused is returned by Connect while dial failures are queued.
var ErrDialRefused = errors.New("broker refused connection")

const frameBuffer = 256

// Broker fans frames out between in-memory connections, one topic per chat.
// Broadcasts are never echoed to the sending connection.
type Broker struct {
	mu       sync.Mutex
	subs     map[string]map[*Conn]struct{}
	rejects  map[string][]string
	dialErrs map[string]int
	stalls   map[string]int
	connects map[string]int
	ended    map[string]bool
}

var _ realtime.Transport = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]map[*Conn]struct{}),
		rejects:  make(map[string][]string),
		dialErrs: make(map[string]int),
		stalls:   make(map[string]int),
		connects: make(map[string]int),
		ended:    make(map[string]bool),
	}
}

// Connect opens a connection. Queued dial failures, rejections and stalls
// are consumed in that order before a normal subscription is granted. Ended
// chats are refused as inactive once the queues are empty.
func (b *Broker) Connect(_ context.Context, chatID string) (realtime.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects[chatID]++

	if b.dialErrs[chatID] > 0 {
		b.dialErrs[chatID]--
		return nil, ErrDialRefused
	}

	c := &Conn{broker: b, chatID: chatID, frames: make(chan models.Frame, frameBuffer)}
	if queue := b.rejects[chatID]; len(queue) > 0 {
		b.rejects[chatID] = queue[1:]
		c.push(models.Frame{Type: models.FrameError, Reason: queue[0]})
		return c, nil
	}
	if b.stalls[chatID] > 0 {
		b.stalls[chatID]--
		return c, nil
	}
	if b.ended[chatID] {
		c.push(models.Frame{Type: models.FrameError, Reason: models.ReasonSessionInactive})
		return c, nil
	}

	if b.subs[chatID] == nil {
		b.subs[chatID] = make(map[*Conn]struct{})
	}
	b.subs[chatID][c] = struct{}{}
	c.push(models.Frame{Type: models.FrameSystem, Status: models.StatusSubscribed})
	return c, nil
}

// RejectNext makes the next times subscriptions to chatID fail with reason.
func (b *Broker) RejectNext(chatID, reason string, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < times; i++ {
		b.rejects[chatID] = append(b.rejects[chatID], reason)
	}
}

// FailDial makes the next times Connect calls for chatID return an error.
func (b *Broker) FailDial(chatID string, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErrs[chatID] += times
}

// Stall makes the next times connections for chatID never acknowledge.
func (b *Broker) Stall(chatID string, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stalls[chatID] += times
}

// Connects returns how many connections were attempted for chatID.
func (b *Broker) Connects(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects[chatID]
}

// Subscribers returns the number of live subscriptions on chatID.
func (b *Broker) Subscribers(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[chatID])
}

// PublishInsert delivers a message insert to every subscriber of its chat.
func (b *Broker) PublishInsert(msg models.Message) {
	b.deliver(msg.ChatID, nil, models.Frame{Type: models.FrameInsert, Message: &msg})
}

// Broadcast delivers an event to every subscriber of chatID, as if sent by
// a connection outside the broker.
func (b *Broker) Broadcast(chatID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.deliver(chatID, nil, models.Frame{Type: models.FrameBroadcast, Event: event, Payload: body})
	return nil
}

// End marks chatID as ended. Later subscriptions are rejected the way the
// server rejects topics of inactive sessions.
func (b *Broker) End(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended[chatID] = true
}

// Drop cuts every connection on chatID.
func (b *Broker) Drop(chatID string) {
	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.subs[chatID]))
	for c := range b.subs[chatID] {
		conns = append(conns, c)
	}
	delete(b.subs, chatID)
	b.mu.Unlock()

	for _, c := range conns {
		c.end(ErrDropped)
	}
}

func (b *Broker) deliver(chatID string, origin *Conn, frame models.Frame) {
	b.mu.Lock()
	targets := make([]*Conn, 0, len(b.subs[chatID]))
	for c := range b.subs[chatID] {
		if c != origin {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.push(frame)
	}
}

func (b *Broker) remove(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subs[c.chatID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(b.subs, c.chatID)
		}
	}
}

// Conn is one in-memory connection.
type Conn struct {
	broker *Broker
	chatID string
	frames chan models.Frame

	mu     sync.Mutex
	closed bool
	err    error
}

func (c *Conn) Frames() <-chan models.Frame {
	return c.frames
}

// Send relays broadcast frames to the other subscribers of the chat.
func (c *Conn) Send(ctx context.Context, frame models.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrDropped
	}
	if frame.Type == models.FrameBroadcast {
		c.broker.deliver(c.chatID, c, frame)
	}
	return nil
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.broker.remove(c)
	c.end(nil)
	return nil
}

func (c *Conn) push(frame models.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.frames <- frame:
	default:
	}
}

func (c *Conn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.frames)
}
