// Package push delivers remote change notifications to the reconciliation
// engine without the engine knowing how they arrive. A Bridge holds a
// streaming subscription when it can, and degrades to polling the open
// subjects when the stream keeps failing. The degradation is governed by a
// circuit breaker: after the configured number of consecutive stream
// failures the stream is left alone for a cooldown, then probed once.
package push

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/util/resiliency"
)

// Reconciler is the engine surface the bridge needs: event merge, per
// subject refresh for the poll path, and the set of subjects worth polling.
type Reconciler interface {
	MergePushEvent(ev gateway.ChangeEvent)
	Refresh(ctx context.Context, subjectID string) error
	OpenSubjects() []string
}

// Source is a push transport. Subscribe registers the handlers and returns;
// the transport delivers raw frames to onMessage and failures (timeout,
// error frame, forced close) to onError from its own goroutine.
type Source interface {
	Subscribe(ctx context.Context, topic string, onMessage func([]byte), onError func(error)) error
	Unsubscribe(topic string) error
}

// State names a bridge lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateDegraded     State = "degraded"
)

// DefaultTopic is the change-notification channel for interaction rows.
const DefaultTopic = "interactions:changes"

const (
	defaultFailureThreshold = 2
	defaultCooldown         = 30 * time.Second
	defaultPollInterval     = 5 * time.Second
	defaultReconnectDelay   = 500 * time.Millisecond
)

// Bridge runs the stream-or-poll state machine.
type Bridge struct {
	source Source
	rec    Reconciler
	log    *slog.Logger

	topic          string
	breaker        *resiliency.CircuitBreaker
	pollInterval   time.Duration
	reconnectDelay time.Duration
	pollLimiter    *rate.Limiter

	mu    sync.Mutex
	state State

	malformed atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTopic overrides the subscription topic.
func WithTopic(topic string) Option {
	return func(b *Bridge) { b.topic = topic }
}

// WithFailureThreshold sets how many consecutive stream failures open the
// breaker, and the cooldown before the single retry probe.
func WithFailureThreshold(n int, cooldown time.Duration) Option {
	return func(b *Bridge) {
		b.breaker = resiliency.NewCircuitBreaker("push-stream", n, cooldown)
	}
}

// WithPollInterval sets the degraded-mode polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.pollInterval = d
		b.pollLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithReconnectDelay sets the pause between pre-threshold retries.
func WithReconnectDelay(d time.Duration) Option {
	return func(b *Bridge) { b.reconnectDelay = d }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// New creates a Bridge over a source and reconciler.
func New(source Source, rec Reconciler, opts ...Option) *Bridge {
	b := &Bridge{
		source:         source,
		rec:            rec,
		log:            slog.Default(),
		topic:          DefaultTopic,
		breaker:        resiliency.NewCircuitBreaker("push-stream", defaultFailureThreshold, defaultCooldown),
		pollInterval:   defaultPollInterval,
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.pollLimiter == nil {
		b.pollLimiter = rate.NewLimiter(rate.Every(b.pollInterval), 1)
	}
	b.log = b.log.With("component", "push-bridge")
	return b
}

// Status returns the bridge's current state. Degraded is a status for
// optional UI indication, never a per-operation error.
func (b *Bridge) Status() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// MalformedEvents counts frames dropped by schema validation.
func (b *Bridge) MalformedEvents() int64 {
	return b.malformed.Load()
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if prev != s {
		b.log.Info("bridge state changed", "from", string(prev), "to", string(s))
	}
}

// Run drives the state machine until ctx is canceled. It always returns
// ctx.Err(); stream failures are absorbed, not returned.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.setState(StateDisconnected)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if b.breaker.Allow() {
			if b.stream(ctx) {
				continue // stream ended because ctx is done
			}
			// Stream failed; pause briefly before the next attempt unless
			// the failure tripped the breaker.
			if b.breaker.Allow() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(b.reconnectDelay):
				}
				continue
			}
		}

		b.setState(StateDegraded)
		if err := b.pollUntilRetry(ctx); err != nil {
			return err
		}
	}
}

// stream holds a subscription open until ctx ends or the transport fails.
// Returns true when ctx ended the stream.
func (b *Bridge) stream(ctx context.Context) bool {
	b.setState(StateConnecting)

	errCh := make(chan error, 1)
	onErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	if err := b.source.Subscribe(ctx, b.topic, b.handleFrame, onErr); err != nil {
		b.log.Warn("stream subscribe failed", "topic", b.topic, "error", err)
		b.breaker.Failure()
		return false
	}

	b.setState(StateStreaming)
	b.breaker.Success()

	select {
	case <-ctx.Done():
		_ = b.source.Unsubscribe(b.topic)
		return true
	case err := <-errCh:
		b.log.Warn("stream transport failed", "topic", b.topic, "error", err)
		_ = b.source.Unsubscribe(b.topic)
		b.breaker.Failure()
		return false
	}
}

// pollUntilRetry refreshes all open subjects on the polling interval until
// the breaker cooldown allows a reconnect probe.
func (b *Bridge) pollUntilRetry(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.pollLimiter.Allow() {
				b.pollOnce(ctx)
			}
			if b.breaker.Allow() {
				return nil
			}
		}
	}
}

func (b *Bridge) pollOnce(ctx context.Context) {
	for _, subjectID := range b.rec.OpenSubjects() {
		if err := b.rec.Refresh(ctx, subjectID); err != nil {
			b.log.Warn("poll refresh failed", "subject", subjectID, "error", err)
		}
	}
}

func (b *Bridge) handleFrame(raw []byte) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		b.malformed.Add(1)
		b.log.Warn("dropping push frame", "error", err)
		return
	}
	b.rec.MergePushEvent(ev)
}
