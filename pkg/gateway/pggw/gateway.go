// Package pggw implements the gateway contract directly against the
// backend's Postgres, for deployments where the client talks to the hosted
// database instead of the REST tier. The companion Listener turns Postgres
// LISTEN/NOTIFY into a push source.
package pggw

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/state"
)

// Gateway runs the interaction queries over database/sql.
type Gateway struct {
	db *sql.DB
}

var _ gateway.Gateway = (*Gateway)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

// ToggleInteraction removes the actor's like when present, inserts it when
// absent, and returns the authoritative state. The whole flip runs in one
// transaction so the returned count matches the row change.
func (g *Gateway) ToggleInteraction(ctx context.Context, subjectID, actorID string) (*gateway.ToggleResult, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin toggle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`,
		subjectID, actorID)
	if err != nil {
		return nil, fmt.Errorf("toggle delete: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("toggle delete result: %w", err)
	}

	liked := false
	if removed == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)`,
			subjectID, actorID)
		if err != nil {
			return nil, fmt.Errorf("toggle insert: %w", err)
		}
		liked = true
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM post_likes WHERE post_id = $1`,
		subjectID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("toggle count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit toggle: %w", err)
	}
	return &gateway.ToggleResult{Success: true, IsLikedByMe: liked, Count: count}, nil
}

// InteractionCount returns the subject's like count.
func (g *Gateway) InteractionCount(ctx context.Context, subjectID string) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx,
		`SELECT count(*) FROM post_likes WHERE post_id = $1`,
		subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("interaction count: %w", err)
	}
	return count, nil
}

// MyInteractionStatus reports whether the actor has liked the subject.
func (g *Gateway) MyInteractionStatus(ctx context.Context, subjectID, actorID string) (bool, error) {
	var liked bool
	err := g.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM post_likes WHERE post_id = $1 AND user_id = $2)`,
		subjectID, actorID).Scan(&liked)
	if err != nil {
		return false, fmt.Errorf("interaction status: %w", err)
	}
	return liked, nil
}

// ListInteractionDetails returns every like on the subject, newest first.
// The profile join is NULL-tolerant: likes whose profile row is missing get
// the placeholder display name.
func (g *Gateway) ListInteractionDetails(ctx context.Context, subjectID string) ([]state.Entry, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT pl.id, pl.post_id, pl.user_id, pl.created_at, COALESCE(p.display_name, '')
		FROM post_likes pl
		LEFT JOIN profiles p ON p.user_id = pl.user_id
		WHERE pl.post_id = $1
		ORDER BY pl.created_at DESC`,
		subjectID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []state.Entry
	for rows.Next() {
		var e state.Entry
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.ActorID, &e.CreatedAt, &e.ActorDisplayName); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		entries = append(entries, gateway.NormalizeEntry(e, subjectID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return entries, nil
}
