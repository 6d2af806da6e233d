package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"whispr/internal/models"
	"whispr/internal/observability"
)

const wsRoutingKey = "ws_events.chats"

// Bus carries frames between server instances that share topics.
type Bus interface {
	Publish(ctx context.Context, topic string, frame models.Frame) error
	Subscribe(ctx context.Context, deliver func(topic string, frame models.Frame)) error
}

// Hub maintains realtime topics and their subscribers.
type Hub struct {
	topics map[string]map[string]*Client
	mu     sync.RWMutex
	bus    Bus
	logger *zap.Logger
}

// NewHub creates an empty hub. bus may be nil for a single instance.
func NewHub(bus Bus, logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[string]*Client),
		bus:    bus,
		logger: logger,
	}
}

// Add registers a client on a topic.
func (h *Hub) Add(topic string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][client.ID()] = client
}

// Remove drops a client from a topic.
func (h *Hub) Remove(topic string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.topics[topic]; ok {
		delete(clients, client.ID())
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers returns the number of local subscribers on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// PublishInsert emits the row-change event for a stored message.
func (h *Hub) PublishInsert(ctx context.Context, msg models.Message) {
	h.Publish(ctx, models.Topic(msg.ChatID), models.Frame{Type: models.FrameInsert, Message: &msg})
}

// Publish sends a frame to every subscriber of the topic except its origin.
func (h *Hub) Publish(ctx context.Context, topic string, frame models.Frame) {
	if h.bus != nil {
		err := h.bus.Publish(ctx, topic, frame)
		if err == nil {
			return
		}
		h.logger.Warn("realtime bus publish failed, delivering locally", zap.String("topic", topic), zap.Error(err))
	}
	h.deliver(topic, frame)
}

// Run consumes the bus until ctx is done. Without a bus it returns at once.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Subscribe(ctx, h.deliver)
}

func (h *Hub) deliver(topic string, frame models.Frame) {
	origin := frame.Origin
	frame.Origin = ""
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshal realtime frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topics[topic]))
	for id, client := range h.topics[topic] {
		if id != origin {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(payload) {
			h.logger.Warn("dropping slow realtime subscriber", zap.String("topic", topic), zap.String("conn_id", client.ID()))
			h.Remove(topic, client)
			client.close()
			publishWSEvent(context.Background(), client.info, "ws_error", "send buffer full")
			continue
		}
		observability.IncRealtimeFrame(frame.Type)
	}
}

func publishWSEvent(ctx context.Context, info ConnInfo, name, reason string) {
	observability.IncWSEvent(name)
	event := observability.WSEvent{
		Name:        name,
		ChatID:      info.ChatID,
		ConnID:      info.ConnID,
		ConnectedAt: info.ConnectedAt,
		Reason:      reason,
		UserID:      info.UserID,
		DeviceID:    info.DeviceID,
		IP:          info.IP,
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, event.Envelope(), observability.BuildHeaders(info.RequestID, info.TraceID))
}
