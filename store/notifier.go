package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisNotifier carries change notifications over Redis pub/sub for store
// backends that cannot push their own.
type RedisNotifier struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisNotifier creates a Notifier on the provided Redis client.
func NewRedisNotifier(client *redis.Client, logger *log.Logger) *RedisNotifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string, payload []byte) error {
	return n.client.Publish(ctx, topic, payload).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := n.client.Subscribe(subCtx, topic)
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, err
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if subCtx.Err() == nil {
						n.logger.WithField("topic", topic).Error("pubsub channel closed")
					}
					return
				}
				fn([]byte(msg.Payload))
			}
		}
	}()

	return func() { cancel() }, nil
}
