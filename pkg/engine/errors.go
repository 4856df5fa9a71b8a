package engine

import "errors"

// Sentinel errors forming the engine's failure taxonomy. Validation and
// authentication failures are synchronous and never reach the gateway;
// remote failures roll optimistic state back before surfacing.
var (
	// ErrInvalidSubject means the subject id failed UUID validation.
	ErrInvalidSubject = errors.New("likewire: invalid subject id")

	// ErrUnauthenticated means no actor identity is present.
	ErrUnauthenticated = errors.New("likewire: actor is not authenticated")

	// ErrThrottled means a toggle arrived inside the minimum inter-click
	// interval and was dropped without touching state.
	ErrThrottled = errors.New("likewire: toggle throttled")

	// ErrRemoteFailure wraps a gateway call that rejected or timed out.
	ErrRemoteFailure = errors.New("likewire: remote operation failed")
)
