// Package gateway defines the remote data contract the reconciliation
// engine depends on. Implementations live in subpackages (httpgw, pggw,
// redisgw); the engine only ever sees this interface, so transports are
// interchangeable and tests substitute a fake.
package gateway

import (
	"context"
	"time"

	"github.com/seedling-social/likewire/pkg/state"
)

// ToggleResult is the authoritative outcome of a toggle. It supersedes
// whatever the engine guessed optimistically, including when the two
// disagree because another client raced.
type ToggleResult struct {
	Success     bool `json:"success"`
	IsLikedByMe bool `json:"is_liked_by_me"`
	Count       int  `json:"count"`
}

// Gateway is the request/response surface of the remote store.
type Gateway interface {
	// ToggleInteraction flips the actor's interaction on a subject and
	// returns the resulting authoritative state.
	ToggleInteraction(ctx context.Context, subjectID, actorID string) (*ToggleResult, error)

	// InteractionCount returns the total interaction count for a subject.
	InteractionCount(ctx context.Context, subjectID string) (int, error)

	// MyInteractionStatus reports whether the actor currently has an
	// active interaction on the subject.
	MyInteractionStatus(ctx context.Context, subjectID, actorID string) (bool, error)

	// ListInteractionDetails returns every interaction record on the
	// subject, display names already defaulted.
	ListInteractionDetails(ctx context.Context, subjectID string) ([]state.Entry, error)
}

// ChangeOp tags a change event from the push stream.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is one row-change notification delivered by a push source.
// The payload carries the affected entry but never the aggregate count;
// consumers re-fetch counts separately.
type ChangeEvent struct {
	Op        ChangeOp    `json:"op"`
	SubjectID string      `json:"subject_id"`
	Entry     state.Entry `json:"entry"`
}

// NormalizeEntry fills the defaults a partially populated row may lack.
// Kept at the boundary so internal types are always fully populated.
func NormalizeEntry(e state.Entry, subjectID string) state.Entry {
	if e.SubjectID == "" {
		e.SubjectID = subjectID
	}
	if e.ActorDisplayName == "" {
		e.ActorDisplayName = state.UnknownActorName
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}
