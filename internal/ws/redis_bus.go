package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whispr/internal/models"
)

// RedisBus shares realtime topics between instances with Redis pub/sub.
type RedisBus struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewRedisBus(rdb redis.UniversalClient, logger *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, frame models.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, topic, payload).Err()
}

// Subscribe blocks, handing every frame on a chat topic to deliver.
func (b *RedisBus) Subscribe(ctx context.Context, deliver func(topic string, frame models.Frame)) error {
	pubsub := b.rdb.PSubscribe(ctx, models.TopicPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	b.logger.Info("realtime bus subscribed", zap.String("pattern", models.TopicPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame models.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.logger.Warn("discarding malformed bus frame", zap.String("topic", msg.Channel), zap.Error(err))
				continue
			}
			deliver(msg.Channel, frame)
		}
	}
}
