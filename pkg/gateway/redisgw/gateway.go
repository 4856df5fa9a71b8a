// Package redisgw implements the gateway contract over Redis for the
// cache-tier deployment mode: the actor set per subject holds who liked
// what, detail entries live in a hash, and pub/sub carries change events.
// The toggle itself runs in a Lua script so flip and count are atomic.
package redisgw

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/state"
)

// toggleScript flips the actor's membership in the subject's like set and
// returns {nowLiked, cardinality} atomically.
// KEYS[1] = actor set key
// ARGV[1] = actor id
var toggleScript = redis.NewScript(`
local key = KEYS[1]
local actor = ARGV[1]

if redis.call("SISMEMBER", key, actor) == 1 then
    redis.call("SREM", key, actor)
    return {0, redis.call("SCARD", key)}
end

redis.call("SADD", key, actor)
return {1, redis.call("SCARD", key)}
`)

// Gateway is the Redis-backed implementation.
type Gateway struct {
	client  *redis.Client
	channel string
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a Redis gateway publishing change events on channel.
func New(addr, password string, db int, channel string) *Gateway {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Gateway{client: rdb, channel: channel}
}

// NewWithClient wraps an existing client; tests use this with miniature
// servers or recording transports.
func NewWithClient(client *redis.Client, channel string) *Gateway {
	return &Gateway{client: client, channel: channel}
}

func actorsKey(subjectID string) string  { return "likes:" + subjectID + ":actors" }
func entriesKey(subjectID string) string { return "likes:" + subjectID + ":entries" }

// ToggleInteraction atomically flips the like and maintains the entry hash,
// then publishes the corresponding change event.
func (g *Gateway) ToggleInteraction(ctx context.Context, subjectID, actorID string) (*gateway.ToggleResult, error) {
	res, err := toggleScript.Run(ctx, g.client, []string{actorsKey(subjectID)}, actorID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis toggle: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("redis toggle: unexpected script result %v", res)
	}
	liked := vals[0].(int64) == 1
	count := int(vals[1].(int64))

	// The entry hash and the published event are best-effort: the set is
	// the source of truth for count and status.
	entry := state.Entry{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		ActorID:   actorID,
		CreatedAt: time.Now().UTC(),
	}
	op := gateway.OpInsert
	if liked {
		if raw, err := json.Marshal(entry); err == nil {
			g.client.HSet(ctx, entriesKey(subjectID), actorID, raw)
		}
	} else {
		op = gateway.OpDelete
		if raw, err := g.client.HGet(ctx, entriesKey(subjectID), actorID).Result(); err == nil {
			_ = json.Unmarshal([]byte(raw), &entry)
		}
		g.client.HDel(ctx, entriesKey(subjectID), actorID)
	}
	g.publish(ctx, gateway.ChangeEvent{Op: op, SubjectID: subjectID, Entry: entry})

	return &gateway.ToggleResult{Success: true, IsLikedByMe: liked, Count: count}, nil
}

func (g *Gateway) publish(ctx context.Context, ev gateway.ChangeEvent) {
	if g.channel == "" {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	g.client.Publish(ctx, g.channel, raw)
}

// InteractionCount returns the cardinality of the subject's actor set.
func (g *Gateway) InteractionCount(ctx context.Context, subjectID string) (int, error) {
	n, err := g.client.SCard(ctx, actorsKey(subjectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return int(n), nil
}

// MyInteractionStatus checks the actor's membership in the like set.
func (g *Gateway) MyInteractionStatus(ctx context.Context, subjectID, actorID string) (bool, error) {
	liked, err := g.client.SIsMember(ctx, actorsKey(subjectID), actorID).Result()
	if err != nil {
		return false, fmt.Errorf("redis status: %w", err)
	}
	return liked, nil
}

// ListInteractionDetails reads the entry hash. Entries that fail to decode
// are skipped rather than failing the whole list.
func (g *Gateway) ListInteractionDetails(ctx context.Context, subjectID string) ([]state.Entry, error) {
	raw, err := g.client.HGetAll(ctx, entriesKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	entries := make([]state.Entry, 0, len(raw))
	for _, v := range raw {
		var e state.Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		entries = append(entries, gateway.NormalizeEntry(e, subjectID))
	}
	return entries, nil
}

// Client exposes the underlying redis client so a pub/sub Source can share
// the connection pool.
func (g *Gateway) Client() *redis.Client { return g.client }

// Close releases the underlying client.
func (g *Gateway) Close() error {
	return g.client.Close()
}
