// Package resiliency wraps outbound calls with the failure-handling
// patterns the engine relies on: exponential backoff with jitter, circuit
// breaking, and W3C trace context injection.
package resiliency

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// Client wraps http.Client with retry, backoff and circuit breaking. The
// HTTP gateway issues every request through it.
type Client struct {
	client     *http.Client
	maxRetries int
	breaker    *CircuitBreaker
}

// NewClient builds a resilient HTTP client. The breaker opens after
// threshold consecutive failures and retries after cooldown.
func NewClient(name string, timeout time.Duration, threshold int, cooldown time.Duration) *Client {
	return &Client{
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
		breaker:    NewCircuitBreaker(name, threshold, cooldown),
	}
}

// Breaker exposes the client's circuit breaker for status reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Do executes an HTTP request with retry, backoff and circuit breaking.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	// W3C trace context injection. A span in the request context would be
	// preferred; a random trace id keeps requests correlatable without one.
	var traceBytes [16]byte
	traceID := ""
	if _, err := rand.Read(traceBytes[:]); err == nil {
		traceID = hex.EncodeToString(traceBytes[:])
	} else {
		traceID = fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	req.Header.Set("traceparent", fmt.Sprintf("00-%s-0000000000000001-01", traceID))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", c.breaker.name)
	}

	var resp *http.Response
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.Do(req)

		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}

		if i == c.maxRetries {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		// base * 2^i + jitter
		backoff := time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond
		jitter := time.Duration(0)
		if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
			jitter = time.Duration(n.Int64()) * time.Millisecond
		}
		time.Sleep(backoff + jitter)
	}

	c.breaker.Failure()
	return resp, err
}

// BreakerState names a circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker implements a simple state machine for failure detection.
// After threshold consecutive failures it opens for resetTimeout, then
// allows a single half-open probe.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        BreakerState
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        BreakerClosed,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN to
// HALF_OPEN once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success records a successful call and closes the breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerClosed
	}
	cb.failureCount = 0
}

// Failure records a failed call, opening the breaker at the threshold.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = BreakerOpen
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
