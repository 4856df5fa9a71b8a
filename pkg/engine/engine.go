// Package engine implements the optimistic reconciliation layer between
// the in-memory interaction state and the remote gateway.
//
// Every mutating operation follows the same shape: validate locally, patch
// the store optimistically, issue the authoritative remote call, then either
// replace the guess with the remote result or roll back to the captured
// pre-call state. Push events from the bridge merge into the same store.
//
// Concurrent toggles on one subject are deliberately not serialized: the
// last remote response to arrive wins, which is the accepted consistency
// model for a like counter. The per-subject debounce is a mitigation for
// double-clicks, not a correctness mechanism.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/identity"
	"github.com/seedling-social/likewire/pkg/observability"
	"github.com/seedling-social/likewire/pkg/state"
	"github.com/seedling-social/likewire/pkg/subject"
)

// DefaultCallTimeout bounds every gateway call so a hung transport resolves
// into the rollback path instead of stalling the optimistic state forever.
const DefaultCallTimeout = 4 * time.Second

// DefaultDebounce is the minimum interval between toggles on one subject.
const DefaultDebounce = 300 * time.Millisecond

// Engine orchestrates optimistic mutation, authoritative reconciliation and
// push-event ingestion over a single state.Store. It is bound to the current
// session's actor; swap actors on login/logout with SetActor.
type Engine struct {
	store *state.Store
	gw    gateway.Gateway
	log   *slog.Logger
	obs   *observability.Provider

	callTimeout time.Duration
	debounce    time.Duration

	mu       sync.Mutex
	actor    identity.Actor
	limiters map[string]*rate.Limiter
}

// Option configures an Engine.
type Option func(*Engine)

// WithActor binds the current session actor.
func WithActor(actor identity.Actor) Option {
	return func(e *Engine) { e.actor = actor }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithObservability wires the telemetry provider.
func WithObservability(obs *observability.Provider) Option {
	return func(e *Engine) { e.obs = obs }
}

// WithCallTimeout overrides the per-call gateway timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithDebounce overrides the minimum inter-toggle interval per subject.
// Zero disables debouncing.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// New creates an Engine over a store and gateway.
func New(store *state.Store, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		gw:          gw,
		log:         slog.Default(),
		obs:         observability.Disabled(),
		callTimeout: DefaultCallTimeout,
		debounce:    DefaultDebounce,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

// Store exposes the underlying state for read-side embedding.
func (e *Engine) Store() *state.Store { return e.store }

// SetActor rebinds the engine to a new session actor.
func (e *Engine) SetActor(actor identity.Actor) {
	e.mu.Lock()
	e.actor = actor
	e.mu.Unlock()
}

func (e *Engine) currentActor() identity.Actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actor
}

func (e *Engine) allowToggle(subjectID string) bool {
	if e.debounce <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.limiters[subjectID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.debounce), 1)
		e.limiters[subjectID] = lim
	}
	return lim.Allow()
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// Toggle flips the current actor's interaction on a subject.
//
// The store is patched optimistically before the gateway call; the remote
// result always supersedes the guess, and a remote failure rolls back to
// the state captured before the flip. Returns nil with a typed error when
// validation or authentication fails before any state was touched.
func (e *Engine) Toggle(ctx context.Context, subjectID string) (*gateway.ToggleResult, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "likewire.toggle")
	res, err := e.toggle(ctx, subjectID)
	finish(err)
	return res, err
}

func (e *Engine) toggle(ctx context.Context, subjectID string) (*gateway.ToggleResult, error) {
	if !subject.Valid(subjectID) {
		e.log.Warn("toggle rejected", "reason", subject.ExplainInvalid(subjectID))
		return nil, ErrInvalidSubject
	}
	actor := e.currentActor()
	if actor.IsAnonymous() {
		e.log.Warn("toggle rejected", "reason", "no authenticated actor", "subject", subjectID)
		return nil, ErrUnauthenticated
	}
	if !e.allowToggle(subjectID) {
		return nil, ErrThrottled
	}

	// Capture the pre-toggle state for rollback before guessing.
	prior := e.store.Snapshot(subjectID)
	guessLiked := !prior.IsLikedByMe
	guessCount := prior.Count + 1
	if prior.IsLikedByMe {
		guessCount = prior.Count - 1
	}
	e.store.Apply(subjectID, state.Patch{
		IsLikedByMe: state.Bool(guessLiked),
		Count:       state.Int(guessCount),
	})

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	res, err := e.gw.ToggleInteraction(callCtx, subjectID, actor.ID)
	if err != nil {
		// Roll back to the captured state and surface the failure.
		e.store.Apply(subjectID, state.Patch{
			IsLikedByMe: state.Bool(prior.IsLikedByMe),
			Count:       state.Int(prior.Count),
			Err:         state.Str(err.Error()),
		})
		e.log.Error("toggle failed, rolled back", "subject", subjectID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}

	// The remote result is authoritative even when it disagrees with the
	// guess (another client may have raced).
	e.store.Apply(subjectID, state.Patch{
		IsLikedByMe: state.Bool(res.IsLikedByMe),
		Count:       state.Int(res.Count),
		Err:         state.Str(""),
	})
	return res, nil
}

// LoadDetails refreshes count, own status and the detail list for a subject.
// The three reads run concurrently; a failure resets the subject to an
// empty-safe state rather than leaving stale or partial data behind.
func (e *Engine) LoadDetails(ctx context.Context, subjectID string) error {
	ctx, finish := e.obs.TrackOperation(ctx, "likewire.load_details")
	err := e.loadDetails(ctx, subjectID)
	finish(err)
	return err
}

func (e *Engine) loadDetails(ctx context.Context, subjectID string) error {
	if !subject.Valid(subjectID) {
		e.log.Warn("load rejected", "reason", subject.ExplainInvalid(subjectID))
		return ErrInvalidSubject
	}
	actor := e.currentActor()

	e.store.Apply(subjectID, state.Patch{
		IsLoading: state.Bool(true),
		Err:       state.Str(""),
	})

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	var (
		count int
		liked bool
		items []state.Entry
	)
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		var err error
		count, err = e.gw.InteractionCount(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		if actor.IsAnonymous() {
			return nil
		}
		var err error
		liked, err = e.gw.MyInteractionStatus(gctx, subjectID, actor.ID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = e.gw.ListInteractionDetails(gctx, subjectID)
		return err
	})
	if err := g.Wait(); err != nil {
		// Empty-safe reset: a clearly empty panel beats stale data.
		e.store.Apply(subjectID, state.Patch{
			Items:       state.Items(nil),
			IsLoading:   state.Bool(false),
			Err:         state.Str(err.Error()),
			IsLikedByMe: state.Bool(false),
			Count:       state.Int(0),
		})
		e.log.Error("load failed", "subject", subjectID, "error", err)
		return fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}

	sortByRecency(items)
	e.store.Apply(subjectID, state.Patch{
		Items:       state.Items(items),
		IsLoading:   state.Bool(false),
		Err:         state.Str(""),
		IsLikedByMe: state.Bool(liked),
		Count:       state.Int(count),
	})
	return nil
}

// OpenDetails marks the subject's panel open immediately, then loads the
// detail list only when nothing is cached yet and no load is in flight.
// Reopening an already-populated panel makes no remote call.
func (e *Engine) OpenDetails(ctx context.Context, subjectID string) error {
	if !subject.Valid(subjectID) {
		return ErrInvalidSubject
	}
	snap := e.store.Snapshot(subjectID)
	e.store.Apply(subjectID, state.Patch{IsOpen: state.Bool(true)})
	if len(snap.Items) > 0 || snap.IsLoading {
		return nil
	}
	return e.LoadDetails(ctx, subjectID)
}

// CloseDetails hides the subject's panel. Never a remote call.
func (e *Engine) CloseDetails(subjectID string) {
	if !subject.Valid(subjectID) {
		return
	}
	e.store.Apply(subjectID, state.Patch{IsOpen: state.Bool(false)})
}

// MergePushEvent folds a row-change notification into the store: inserts
// dedupe by entry id, updates replace by id, deletes remove by id. The push
// payload carries no aggregate, so inserts and deletes also schedule an
// asynchronous count re-fetch. Malformed events are dropped by the bridge
// before they reach this point; this method never fails user-visibly.
func (e *Engine) MergePushEvent(ev gateway.ChangeEvent) {
	if !subject.Valid(ev.SubjectID) {
		e.log.Warn("push event dropped", "reason", subject.ExplainInvalid(ev.SubjectID))
		return
	}
	entry := gateway.NormalizeEntry(ev.Entry, ev.SubjectID)

	snap := e.store.Snapshot(ev.SubjectID)
	items := snap.Items
	switch ev.Op {
	case gateway.OpInsert:
		for _, it := range items {
			if it.ID == entry.ID {
				return // already known, e.g. our own toggle echoed back
			}
		}
		items = append([]state.Entry{entry}, items...)
	case gateway.OpUpdate:
		replaced := false
		for i, it := range items {
			if it.ID == entry.ID {
				items[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			return
		}
	case gateway.OpDelete:
		kept := items[:0:0]
		for _, it := range items {
			if it.ID != entry.ID {
				kept = append(kept, it)
			}
		}
		if len(kept) == len(items) {
			return
		}
		items = kept
	default:
		e.log.Warn("push event dropped", "reason", "unknown operation", "op", string(ev.Op))
		return
	}

	sortByRecency(items)
	e.store.Apply(ev.SubjectID, state.Patch{Items: state.Items(items)})

	if ev.Op == gateway.OpInsert || ev.Op == gateway.OpDelete {
		go e.RefreshCounts(context.Background(), ev.SubjectID)
	}
}

// RefreshCounts re-reads the aggregate count and own status for a subject
// without touching the detail list. Used after push item changes and by the
// polling fallback's cheap path.
func (e *Engine) RefreshCounts(ctx context.Context, subjectID string) {
	if !subject.Valid(subjectID) {
		return
	}
	actor := e.currentActor()
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	count, err := e.gw.InteractionCount(callCtx, subjectID)
	if err != nil {
		e.log.Warn("count refresh failed", "subject", subjectID, "error", err)
		return
	}
	patch := state.Patch{Count: state.Int(count)}
	if !actor.IsAnonymous() {
		if liked, err := e.gw.MyInteractionStatus(callCtx, subjectID, actor.ID); err == nil {
			patch.IsLikedByMe = state.Bool(liked)
		}
	}
	e.store.Apply(subjectID, patch)
}

// Refresh re-runs a full detail load for a subject when its current
// snapshot differs from the remote state. The poll path calls this for
// every open subject; the diff check keeps no-op polls from churning
// watchers.
func (e *Engine) Refresh(ctx context.Context, subjectID string) error {
	if !subject.Valid(subjectID) {
		return ErrInvalidSubject
	}
	actor := e.currentActor()
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	count, err := e.gw.InteractionCount(callCtx, subjectID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	}
	liked := false
	if !actor.IsAnonymous() {
		liked, err = e.gw.MyInteractionStatus(callCtx, subjectID, actor.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRemoteFailure, err)
		}
	}

	snap := e.store.Snapshot(subjectID)
	if snap.Count == count && snap.IsLikedByMe == liked {
		return nil
	}
	return e.loadDetails(ctx, subjectID)
}

// OpenSubjects lists subjects with an open panel; the bridge polls these.
func (e *Engine) OpenSubjects() []string {
	return e.store.OpenSubjects()
}

func sortByRecency(items []state.Entry) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
