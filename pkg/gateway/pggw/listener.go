package pggw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Listener adapts Postgres LISTEN/NOTIFY into a push source. A trigger on
// post_likes NOTIFYs the topic with the change-event JSON as the payload;
// the bridge validates and merges each frame.
type Listener struct {
	dsn          string
	minReconnect time.Duration
	maxReconnect time.Duration

	mu     sync.Mutex
	active map[string]*pq.Listener
}

// NewListener builds a LISTEN/NOTIFY source for a Postgres DSN.
func NewListener(dsn string) *Listener {
	return &Listener{
		dsn:          dsn,
		minReconnect: time.Second,
		maxReconnect: 30 * time.Second,
		active:       make(map[string]*pq.Listener),
	}
}

// Subscribe opens a LISTEN on the topic and forwards notification payloads
// until Unsubscribe or a connection loss the driver cannot recover from.
func (l *Listener) Subscribe(ctx context.Context, topic string, onMessage func([]byte), onError func(error)) error {
	pl := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed && err != nil {
			onError(fmt.Errorf("postgres listener reconnect failed: %w", err))
		}
	})
	if err := pl.Listen(topic); err != nil {
		_ = pl.Close()
		return fmt.Errorf("listen %q: %w", topic, err)
	}

	l.mu.Lock()
	if _, exists := l.active[topic]; exists {
		l.mu.Unlock()
		_ = pl.Close()
		return fmt.Errorf("already subscribed to %q", topic)
	}
	l.active[topic] = pl
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-pl.Notify:
				if !ok {
					onError(errors.New("postgres notification channel closed"))
					return
				}
				// A nil notification marks a driver-level reconnect; rows
				// may have changed meanwhile, so treat it as a failure and
				// let the bridge fall back to a refresh.
				if n == nil {
					onError(errors.New("postgres listener reconnected, events may be lost"))
					continue
				}
				onMessage([]byte(n.Extra))
			}
		}
	}()
	return nil
}

// Unsubscribe closes the LISTEN for a topic.
func (l *Listener) Unsubscribe(topic string) error {
	l.mu.Lock()
	pl, ok := l.active[topic]
	delete(l.active, topic)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return pl.Close()
}
