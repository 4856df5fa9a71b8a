package redisgw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Source adapts Redis pub/sub into a push source for the bridge.
type Source struct {
	client *redis.Client

	mu     sync.Mutex
	active map[string]*redis.PubSub
}

// NewSource builds a pub/sub source over an existing client.
func NewSource(client *redis.Client) *Source {
	return &Source{client: client, active: make(map[string]*redis.PubSub)}
}

// Subscribe opens the channel subscription and forwards payloads. The
// initial SUBSCRIBE round-trip is confirmed before returning so a dead
// server fails here instead of silently delivering nothing.
func (s *Source) Subscribe(ctx context.Context, topic string, onMessage func([]byte), onError func(error)) error {
	s.mu.Lock()
	if _, exists := s.active[topic]; exists {
		s.mu.Unlock()
		return fmt.Errorf("already subscribed to %q", topic)
	}
	s.mu.Unlock()

	ps := s.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %q: %w", topic, err)
	}

	s.mu.Lock()
	s.active[topic] = ps
	s.mu.Unlock()

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					onError(errors.New("redis pubsub channel closed"))
					return
				}
				onMessage([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Unsubscribe closes the channel subscription.
func (s *Source) Unsubscribe(topic string) error {
	s.mu.Lock()
	ps, ok := s.active[topic]
	delete(s.active, topic)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return ps.Close()
}
