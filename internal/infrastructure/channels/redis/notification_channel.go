package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userChannelPrefix = "liveroom:user:"

// NotificationChannel is the Redis pub/sub implementation of the
// per-user direct notification fan-in.
type NotificationChannel struct {
	client *redis.Client
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	subs   map[*redis.PubSub]struct{}
}

func NewNotificationChannel(client *redis.Client, logger *zap.SugaredLogger) *NotificationChannel {
	return &NotificationChannel{
		client: client,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func userChannel(userID domain.UserID) string {
	return userChannelPrefix + string(userID)
}

// PublishTo delivers one notification to every live subscription of the
// target user.
func (c *NotificationChannel) PublishTo(ctx context.Context, userID domain.UserID, n ports.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.client.Publish(ctx, userChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	c.logger.Debugw("published notification", "user_id", userID, "kind", n.Kind)
	return nil
}

// Subscribe registers onNotification for the user channel. Messages
// that do not decode are dropped and logged.
func (c *NotificationChannel) Subscribe(ctx context.Context, userID domain.UserID, onNotification func(ports.Notification)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("notification channel is closed")
	}
	pubsub := c.client.Subscribe(ctx, userChannel(userID))
	c.subs[pubsub] = struct{}{}
	c.mu.Unlock()

	if _, err := pubsub.Receive(ctx); err != nil {
		c.drop(pubsub)
		return nil, fmt.Errorf("failed to subscribe to user channel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var n ports.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				c.logger.Warnw("dropped undecodable notification",
					"user_id", userID,
					"error", err,
				)
				continue
			}
			onNotification(n)
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			c.drop(pubsub)
			<-done
		})
	}
	return unsub, nil
}

func (c *NotificationChannel) drop(pubsub *redis.PubSub) {
	c.mu.Lock()
	delete(c.subs, pubsub)
	c.mu.Unlock()
	if err := pubsub.Close(); err != nil {
		c.logger.Warnw("failed to close user subscription", "error", err)
	}
}

// Close terminates every open subscription.
func (c *NotificationChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	subs := make([]*redis.PubSub, 0, len(c.subs))
	for ps := range c.subs {
		subs = append(subs, ps)
	}
	c.subs = make(map[*redis.PubSub]struct{})
	c.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return nil
}
