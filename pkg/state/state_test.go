package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedling-social/likewire/pkg/state"
)

const subjectA = "11111111-1111-1111-1111-111111111111"

// TestDefaults verifies that an unknown subject yields the zero-value
// state from every accessor.
// Invariant: no store operation can fail; missing entries read as defaults.
func TestDefaults(t *testing.T) {
	s := state.New(state.WithTTL(0))
	defer s.Close()

	assert.False(t, s.IsLikedByMe(subjectA))
	assert.Equal(t, 0, s.Count(subjectA))
	assert.False(t, s.IsOpen(subjectA))

	snap := s.Snapshot(subjectA)
	assert.Empty(t, snap.Items)
	assert.False(t, snap.IsLoading)
	assert.Empty(t, snap.Err)
}

// TestApply_ShallowMerge verifies that only the fields present in a patch
// change, and that the entry is created lazily on first patch.
func TestApply_ShallowMerge(t *testing.T) {
	s := state.New(state.WithTTL(0))
	defer s.Close()

	s.Apply(subjectA, state.Patch{IsLikedByMe: state.Bool(true), Count: state.Int(3)})
	s.Apply(subjectA, state.Patch{IsOpen: state.Bool(true)})

	snap := s.Snapshot(subjectA)
	assert.True(t, snap.IsLikedByMe, "merge must not reset untouched fields")
	assert.Equal(t, 3, snap.Count)
	assert.True(t, snap.IsOpen)
}

// TestApply_CountFloor verifies counts never go negative.
func TestApply_CountFloor(t *testing.T) {
	s := state.New(state.WithTTL(0))
	defer s.Close()

	s.Apply(subjectA, state.Patch{Count: state.Int(-5)})
	assert.Equal(t, 0, s.Count(subjectA))
}

// TestSnapshot_CopiesItems verifies callers cannot alias store-owned
// slices through a snapshot.
func TestSnapshot_CopiesItems(t *testing.T) {
	s := state.New(state.WithTTL(0))
	defer s.Close()

	s.Apply(subjectA, state.Patch{Items: state.Items([]state.Entry{{ID: "e1"}})})
	snap := s.Snapshot(subjectA)
	snap.Items[0].ID = "mutated"

	assert.Equal(t, "e1", s.Snapshot(subjectA).Items[0].ID)
}

func TestOpenSubjects(t *testing.T) {
	s := state.New(state.WithTTL(0))
	defer s.Close()

	other := "22222222-2222-2222-2222-222222222222"
	s.Apply(subjectA, state.Patch{IsOpen: state.Bool(true)})
	s.Apply(other, state.Patch{IsOpen: state.Bool(false)})

	assert.Equal(t, []string{subjectA}, s.OpenSubjects())
}

// TestWatch_NotifiesOnPatch verifies watchers receive the subject id of
// every applied patch, and that a slow watcher drops rather than blocks.
func TestWatch_NotifiesOnPatch(t *testing.T) {
	s := state.New(state.WithTTL(0))
	defer s.Close()

	ch := s.Watch()
	s.Apply(subjectA, state.Patch{Count: state.Int(1)})

	select {
	case id := <-ch:
		assert.Equal(t, subjectA, id)
	case <-time.After(time.Second):
		t.Fatal("expected a watch notification")
	}

	// Flood past the buffer; Apply must never block.
	for i := 0; i < 200; i++ {
		s.Apply(subjectA, state.Patch{Count: state.Int(i)})
	}
	assert.Equal(t, 199, s.Count(subjectA))
}

// TestJanitor_EvictsIdleClosedSubjects verifies TTL eviction skips open
// panels and removes idle closed ones.
func TestJanitor_EvictsIdleClosedSubjects(t *testing.T) {
	s := state.New(state.WithTTL(30 * time.Millisecond))
	defer s.Close()

	open := "33333333-3333-3333-3333-333333333333"
	s.Apply(subjectA, state.Patch{Count: state.Int(7)})
	s.Apply(open, state.Patch{IsOpen: state.Bool(true), Count: state.Int(2)})

	require.Eventually(t, func() bool {
		return s.Count(subjectA) == 0
	}, time.Second, 10*time.Millisecond, "idle closed subject should be evicted")

	assert.Equal(t, 2, s.Count(open), "open subject must survive eviction")
}
