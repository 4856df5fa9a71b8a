package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedling-social/likewire/pkg/engine"
	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/identity"
	"github.com/seedling-social/likewire/pkg/state"
)

const (
	subjectA = "11111111-1111-1111-1111-111111111111"
	subjectB = "22222222-2222-2222-2222-222222222222"
)

var actorU1 = identity.Actor{ID: "u1", DisplayName: "Jess"}

// fakeGateway is a scriptable gateway double with per-method call counts.
type fakeGateway struct {
	mu sync.Mutex

	toggleCalls int
	countCalls  int
	statusCalls int
	listCalls   int

	toggleRes  *gateway.ToggleResult
	toggleErr  error
	toggleHook func() // runs inside ToggleInteraction, before it returns

	count    int
	countErr error
	liked    bool
	entries  []state.Entry
	listErr  error
}

func (f *fakeGateway) ToggleInteraction(ctx context.Context, subjectID, actorID string) (*gateway.ToggleResult, error) {
	f.mu.Lock()
	f.toggleCalls++
	hook := f.toggleHook
	res, err := f.toggleRes, f.toggleErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return res, err
}

func (f *fakeGateway) InteractionCount(ctx context.Context, subjectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	return f.count, f.countErr
}

func (f *fakeGateway) MyInteractionStatus(ctx context.Context, subjectID, actorID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.liked, nil
}

func (f *fakeGateway) ListInteractionDetails(ctx context.Context, subjectID string) ([]state.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.entries, f.listErr
}

func (f *fakeGateway) calls() (toggle, count, status, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggleCalls, f.countCalls, f.statusCalls, f.listCalls
}

func newEngine(t *testing.T, gw gateway.Gateway, opts ...engine.Option) (*engine.Engine, *state.Store) {
	t.Helper()
	store := state.New(state.WithTTL(0))
	t.Cleanup(store.Close)
	base := []engine.Option{engine.WithActor(actorU1), engine.WithDebounce(0)}
	return engine.New(store, gw, append(base, opts...)...), store
}

// TestToggle_AuthoritativeOverride replays the concurrent-like scenario:
// initial {false,3}, optimistic guess {true,4}, remote answers {true,5}
// because another actor raced. The remote result must win.
func TestToggle_AuthoritativeOverride(t *testing.T) {
	gw := &fakeGateway{
		toggleRes: &gateway.ToggleResult{Success: true, IsLikedByMe: true, Count: 5},
	}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{IsLikedByMe: state.Bool(false), Count: state.Int(3)})

	// Observe the optimistic patch from inside the remote call.
	gw.toggleHook = func() {
		assert.True(t, store.IsLikedByMe(subjectA), "optimistic flip must precede the remote call")
		assert.Equal(t, 4, store.Count(subjectA))
	}

	res, err := eng.Toggle(context.Background(), subjectA)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.True(t, store.IsLikedByMe(subjectA))
	assert.Equal(t, 5, store.Count(subjectA), "remote count supersedes the optimistic guess")
	assert.Empty(t, store.Snapshot(subjectA).Err)
}

// TestToggle_RollbackOnRemoteFailure replays the failure scenario: initial
// {false,3}, remote rejects, state must return to {false,3} with the error
// surfaced on the subject.
func TestToggle_RollbackOnRemoteFailure(t *testing.T) {
	gw := &fakeGateway{toggleErr: errors.New("network down")}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{IsLikedByMe: state.Bool(false), Count: state.Int(3)})

	_, err := eng.Toggle(context.Background(), subjectA)
	require.ErrorIs(t, err, engine.ErrRemoteFailure)

	assert.False(t, store.IsLikedByMe(subjectA))
	assert.Equal(t, 3, store.Count(subjectA))
	assert.Contains(t, store.Snapshot(subjectA).Err, "network down")
}

// TestToggle_UnlikeFloorsAtZero verifies the optimistic decrement cannot
// push the count negative.
func TestToggle_UnlikeFloorsAtZero(t *testing.T) {
	gw := &fakeGateway{
		toggleRes: &gateway.ToggleResult{Success: true, IsLikedByMe: false, Count: 0},
	}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{IsLikedByMe: state.Bool(true), Count: state.Int(0)})

	gw.toggleHook = func() {
		assert.Equal(t, 0, store.Count(subjectA), "optimistic decrement floors at zero")
	}

	_, err := eng.Toggle(context.Background(), subjectA)
	require.NoError(t, err)
}

// TestValidationGate verifies malformed subject ids never reach the
// gateway and never touch state.
func TestValidationGate(t *testing.T) {
	gw := &fakeGateway{}
	eng, store := newEngine(t, gw)

	_, err := eng.Toggle(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, engine.ErrInvalidSubject)

	err = eng.LoadDetails(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, engine.ErrInvalidSubject)

	err = eng.OpenDetails(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, engine.ErrInvalidSubject)

	toggle, count, status, list := gw.calls()
	assert.Zero(t, toggle+count+status+list, "no gateway call may happen for an invalid id")

	snap := store.Snapshot("not-a-uuid")
	assert.Equal(t, state.Interaction{}, snap, "state must remain at defaults")
}

// TestToggle_Unauthenticated verifies a zero actor fails synchronously.
func TestToggle_Unauthenticated(t *testing.T) {
	gw := &fakeGateway{}
	store := state.New(state.WithTTL(0))
	t.Cleanup(store.Close)
	eng := engine.New(store, gw, engine.WithDebounce(0))

	_, err := eng.Toggle(context.Background(), subjectA)
	assert.ErrorIs(t, err, engine.ErrUnauthenticated)

	toggle, _, _, _ := gw.calls()
	assert.Zero(t, toggle)
	assert.Equal(t, 0, store.Count(subjectA))
}

// TestToggle_Debounce verifies the minimum inter-click interval drops the
// second of two immediate toggles without touching state.
func TestToggle_Debounce(t *testing.T) {
	gw := &fakeGateway{
		toggleRes: &gateway.ToggleResult{Success: true, IsLikedByMe: true, Count: 1},
	}
	eng, store := newEngine(t, gw, engine.WithDebounce(time.Hour))

	_, err := eng.Toggle(context.Background(), subjectA)
	require.NoError(t, err)

	_, err = eng.Toggle(context.Background(), subjectA)
	assert.ErrorIs(t, err, engine.ErrThrottled)

	toggle, _, _, _ := gw.calls()
	assert.Equal(t, 1, toggle)
	assert.Equal(t, 1, store.Count(subjectA), "throttled toggle must not mutate state")
}

// TestLoadDetails_Success verifies the three reads land in one patch with
// entries sorted newest first.
func TestLoadDetails_Success(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		count: 2,
		liked: true,
		entries: []state.Entry{
			{ID: "old", SubjectID: subjectA, ActorID: "u2", CreatedAt: now.Add(-time.Hour)},
			{ID: "new", SubjectID: subjectA, ActorID: "u3", CreatedAt: now},
		},
	}
	eng, store := newEngine(t, gw)

	require.NoError(t, eng.LoadDetails(context.Background(), subjectA))

	snap := store.Snapshot(subjectA)
	assert.Equal(t, 2, snap.Count)
	assert.True(t, snap.IsLikedByMe)
	assert.False(t, snap.IsLoading)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "new", snap.Items[0].ID, "entries are sorted by recency")
}

// TestLoadDetails_FailureResetsToEmptySafe verifies a failed load resets
// the subject rather than keeping stale data.
func TestLoadDetails_FailureResetsToEmptySafe(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("boom")}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{
		Count: state.Int(9), IsLikedByMe: state.Bool(true),
		Items: state.Items([]state.Entry{{ID: "stale"}}),
	})

	err := eng.LoadDetails(context.Background(), subjectA)
	require.ErrorIs(t, err, engine.ErrRemoteFailure)

	snap := store.Snapshot(subjectA)
	assert.Empty(t, snap.Items)
	assert.False(t, snap.IsLoading)
	assert.False(t, snap.IsLikedByMe)
	assert.Equal(t, 0, snap.Count)
	assert.Contains(t, snap.Err, "boom")
}

// TestOpenDetails_CacheIfPresent verifies the idempotent double-open: two
// opens with no close in between issue at most one details fetch.
func TestOpenDetails_CacheIfPresent(t *testing.T) {
	gw := &fakeGateway{
		count:   1,
		entries: []state.Entry{{ID: "e1", SubjectID: subjectA, ActorID: "u2", CreatedAt: time.Now()}},
	}
	eng, store := newEngine(t, gw)

	require.NoError(t, eng.OpenDetails(context.Background(), subjectA))
	require.NoError(t, eng.OpenDetails(context.Background(), subjectA))

	_, _, _, list := gw.calls()
	assert.Equal(t, 1, list, "second open must reuse cached items")
	assert.True(t, store.IsOpen(subjectA))
}

func TestCloseDetails(t *testing.T) {
	gw := &fakeGateway{}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{IsOpen: state.Bool(true)})

	eng.CloseDetails(subjectA)

	assert.False(t, store.IsOpen(subjectA))
	_, count, status, list := gw.calls()
	assert.Zero(t, count+status+list, "close performs no remote call")
}

// TestMergePushEvent_InsertDedupe verifies merging an insert for a known
// entry id does not duplicate it.
func TestMergePushEvent_InsertDedupe(t *testing.T) {
	gw := &fakeGateway{}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{Items: state.Items([]state.Entry{{ID: "e1", SubjectID: subjectA}})})

	eng.MergePushEvent(gateway.ChangeEvent{
		Op:        gateway.OpInsert,
		SubjectID: subjectA,
		Entry:     state.Entry{ID: "e1", SubjectID: subjectA},
	})

	assert.Len(t, store.Snapshot(subjectA).Items, 1)
	_, count, _, _ := gw.calls()
	assert.Zero(t, count, "a deduped insert schedules no count re-fetch")
}

// TestMergePushEvent_InsertTriggersCountRefresh verifies a fresh insert
// prepends the entry and re-fetches the aggregate, since the push payload
// does not carry it.
func TestMergePushEvent_InsertTriggersCountRefresh(t *testing.T) {
	gw := &fakeGateway{count: 7, liked: true}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{Items: state.Items([]state.Entry{{ID: "e1", SubjectID: subjectA, CreatedAt: time.Now().Add(-time.Minute)}})})

	eng.MergePushEvent(gateway.ChangeEvent{
		Op:        gateway.OpInsert,
		SubjectID: subjectA,
		Entry:     state.Entry{ID: "e2", SubjectID: subjectA, ActorID: "u9", CreatedAt: time.Now()},
	})

	snap := store.Snapshot(subjectA)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "e2", snap.Items[0].ID)
	assert.Equal(t, state.UnknownActorName, snap.Items[0].ActorDisplayName)

	require.Eventually(t, func() bool {
		return store.Count(subjectA) == 7
	}, time.Second, 10*time.Millisecond, "count re-fetch should land")
}

func TestMergePushEvent_UpdateAndDelete(t *testing.T) {
	gw := &fakeGateway{count: 0}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{Items: state.Items([]state.Entry{
		{ID: "e1", SubjectID: subjectA, ActorDisplayName: "Old Name"},
	})})

	eng.MergePushEvent(gateway.ChangeEvent{
		Op:        gateway.OpUpdate,
		SubjectID: subjectA,
		Entry:     state.Entry{ID: "e1", SubjectID: subjectA, ActorDisplayName: "New Name"},
	})
	assert.Equal(t, "New Name", store.Snapshot(subjectA).Items[0].ActorDisplayName)

	eng.MergePushEvent(gateway.ChangeEvent{
		Op:        gateway.OpDelete,
		SubjectID: subjectA,
		Entry:     state.Entry{ID: "e1", SubjectID: subjectA},
	})
	assert.Empty(t, store.Snapshot(subjectA).Items)
}

// TestMergePushEvent_MalformedDropped verifies events for invalid subjects
// are dropped without panic or state change.
func TestMergePushEvent_MalformedDropped(t *testing.T) {
	gw := &fakeGateway{}
	eng, store := newEngine(t, gw)

	eng.MergePushEvent(gateway.ChangeEvent{Op: gateway.OpInsert, SubjectID: "junk", Entry: state.Entry{ID: "e1"}})
	eng.MergePushEvent(gateway.ChangeEvent{Op: "upsert", SubjectID: subjectA, Entry: state.Entry{ID: "e1"}})

	assert.Equal(t, state.Interaction{}, store.Snapshot(subjectA))
}

// TestRefresh_SkipsWhenUnchanged verifies the polling path diffs before
// reloading, so an unchanged subject causes no details fetch.
func TestRefresh_SkipsWhenUnchanged(t *testing.T) {
	gw := &fakeGateway{count: 3, liked: true}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{Count: state.Int(3), IsLikedByMe: state.Bool(true)})

	require.NoError(t, eng.Refresh(context.Background(), subjectA))

	_, _, _, list := gw.calls()
	assert.Zero(t, list, "unchanged subject must not trigger a details reload")
}

func TestRefresh_ReloadsOnDrift(t *testing.T) {
	gw := &fakeGateway{count: 4, liked: true,
		entries: []state.Entry{{ID: "e1", SubjectID: subjectA, CreatedAt: time.Now()}}}
	eng, store := newEngine(t, gw)
	store.Apply(subjectA, state.Patch{Count: state.Int(3), IsLikedByMe: state.Bool(true)})

	require.NoError(t, eng.Refresh(context.Background(), subjectA))

	assert.Equal(t, 4, store.Count(subjectA))
	_, _, _, list := gw.calls()
	assert.Equal(t, 1, list)
}

// TestToggle_LastWriteWins documents the accepted interleaving: two
// toggles race and the later remote response overwrites the store.
func TestToggle_LastWriteWins(t *testing.T) {
	gw := &fakeGateway{
		toggleRes: &gateway.ToggleResult{Success: true, IsLikedByMe: true, Count: 1},
	}
	eng, store := newEngine(t, gw)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = eng.Toggle(context.Background(), subjectA)
		}()
	}
	wg.Wait()

	// Whatever the interleaving, the final state is the remote answer.
	assert.True(t, store.IsLikedByMe(subjectA))
	assert.Equal(t, 1, store.Count(subjectA))
}
