package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liveroom/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomChannelPrefix = "liveroom:room:"
	roomBacklogPrefix = "liveroom:room-backlog:"

	// Reliable messages are mirrored into a capped backlog list so a
	// client reconnecting mid-session can replay what it missed.
	backlogDepth = 200
	backlogTTL   = 10 * time.Minute
)

// SignalChannel is the Redis pub/sub implementation of the room-scoped
// message bus. One pub/sub connection is opened per subscription.
type SignalChannel struct {
	client *redis.Client
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	subs   map[*redis.PubSub]struct{}
}

func NewSignalChannel(client *redis.Client, logger *zap.SugaredLogger) *SignalChannel {
	return &SignalChannel{
		client: client,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func roomChannel(roomID domain.RoomID) string {
	return roomChannelPrefix + string(roomID)
}

// Publish fans the payload out to every subscriber of the room channel.
func (s *SignalChannel) Publish(ctx context.Context, roomID domain.RoomID, payload []byte, reliable bool) error {
	if err := s.client.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to room channel: %w", err)
	}

	if reliable {
		backlog := roomBacklogPrefix + string(roomID)
		pipe := s.client.Pipeline()
		pipe.RPush(ctx, backlog, payload)
		pipe.LTrim(ctx, backlog, -backlogDepth, -1)
		pipe.Expire(ctx, backlog, backlogTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warnw("failed to append room backlog", "room_id", roomID, "error", err)
		}
	}

	s.logger.Debugw("published room message", "room_id", roomID, "bytes", len(payload))
	return nil
}

// Subscribe registers onMessage for the room channel and returns an
// unsubscribe function. The callback runs on a dedicated delivery
// goroutine, one message at a time.
func (s *SignalChannel) Subscribe(ctx context.Context, roomID domain.RoomID, onMessage func(payload []byte)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("signal channel is closed")
	}
	pubsub := s.client.Subscribe(ctx, roomChannel(roomID))
	s.subs[pubsub] = struct{}{}
	s.mu.Unlock()

	// Force the subscription onto the wire before returning, so no
	// message published after Subscribe is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		s.drop(pubsub)
		return nil, fmt.Errorf("failed to subscribe to room channel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			onMessage([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.drop(pubsub)
			<-done
		})
	}
	return unsub, nil
}

// Backlog returns the retained reliable messages for a room, oldest
// first.
func (s *SignalChannel) Backlog(ctx context.Context, roomID domain.RoomID) ([][]byte, error) {
	entries, err := s.client.LRange(ctx, roomBacklogPrefix+string(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room backlog: %w", err)
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = []byte(e)
	}
	return out, nil
}

func (s *SignalChannel) drop(pubsub *redis.PubSub) {
	s.mu.Lock()
	delete(s.subs, pubsub)
	s.mu.Unlock()
	if err := pubsub.Close(); err != nil {
		s.logger.Warnw("failed to close room subscription", "error", err)
	}
}

// Close terminates every open subscription.
func (s *SignalChannel) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*redis.PubSub, 0, len(s.subs))
	for ps := range s.subs {
		subs = append(subs, ps)
	}
	s.subs = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return nil
}
