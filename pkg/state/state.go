// Package state holds the in-memory interaction state shared between the
// reconciliation engine and whatever UI layer embeds it. The engine is the
// only writer; everything else reads through accessors. Entries are created
// lazily on first access and evicted by a background janitor once idle.
package state

import (
	"sync"
	"time"
)

// Entry is one actor's interaction record on a subject, fully populated at
// the boundary: rows arriving with a missing profile get the display-name
// placeholder instead of an empty field.
type Entry struct {
	ID               string    `json:"id"`
	SubjectID        string    `json:"subject_id"`
	ActorID          string    `json:"actor_id"`
	CreatedAt        time.Time `json:"created_at"`
	ActorDisplayName string    `json:"actor_display_name"`
}

// UnknownActorName is the fallback display name for entries whose profile
// row was absent or incomplete.
const UnknownActorName = "A community member"

// Interaction is the locally known state for one subject.
type Interaction struct {
	IsOpen      bool
	Items       []Entry
	IsLoading   bool
	Err         string
	IsLikedByMe bool
	Count       int
}

// Patch is a shallow merge applied to an Interaction. Nil fields are left
// untouched; non-nil fields replace the current value.
type Patch struct {
	IsOpen      *bool
	Items       *[]Entry
	IsLoading   *bool
	Err         *string
	IsLikedByMe *bool
	Count       *int
}

// Bool, Str, Int and Items build patch fields without the address-of
// boilerplate at call sites.
func Bool(v bool) *bool        { return &v }
func Str(v string) *string     { return &v }
func Int(v int) *int           { return &v }
func Items(v []Entry) *[]Entry { return &v }

type record struct {
	interaction Interaction
	touchedAt   time.Time
}

// Store maps subject ids to their interaction state. Safe for concurrent
// use. Patch is the single mutation point; no accessor can fail — a
// missing subject yields the zero-value Interaction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*record
	ttl     time.Duration
	done    chan struct{}
	closeOn sync.Once

	watchMu  sync.Mutex
	watchers []chan string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL bounds how long an untouched, closed subject stays resident.
// Zero disables eviction (the upstream behavior, unbounded growth).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// DefaultTTL is how long an idle subject survives before the janitor
// evicts it.
const DefaultTTL = 30 * time.Minute

// New creates a Store and starts its janitor when a TTL is set.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*record),
		ttl:     DefaultTTL,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > 0 {
		go s.janitor()
	}
	return s
}

// Close stops the janitor and closes all watcher channels.
func (s *Store) Close() {
	s.closeOn.Do(func() {
		close(s.done)
		s.watchMu.Lock()
		for _, ch := range s.watchers {
			close(ch)
		}
		s.watchers = nil
		s.watchMu.Unlock()
	})
}

func (s *Store) janitor() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Store) evictIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, rec := range s.entries {
		// An open panel is in active use regardless of age.
		if rec.interaction.IsOpen {
			continue
		}
		if now.Sub(rec.touchedAt) > s.ttl {
			delete(s.entries, id)
		}
	}
}

// Snapshot returns a copy of the subject's state, or the default state when
// the subject is unknown. The Items slice is copied so callers can't alias
// store-owned memory.
func (s *Store) Snapshot(subjectID string) Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[subjectID]
	if !ok {
		return Interaction{}
	}
	out := rec.interaction
	if len(rec.interaction.Items) > 0 {
		out.Items = make([]Entry, len(rec.interaction.Items))
		copy(out.Items, rec.interaction.Items)
	}
	return out
}

// IsLikedByMe reports the current actor's interaction flag for a subject.
func (s *Store) IsLikedByMe(subjectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.entries[subjectID]; ok {
		return rec.interaction.IsLikedByMe
	}
	return false
}

// Count returns the known interaction count for a subject.
func (s *Store) Count(subjectID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.entries[subjectID]; ok {
		return rec.interaction.Count
	}
	return 0
}

// IsOpen reports whether the detail panel is open for a subject.
func (s *Store) IsOpen(subjectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.entries[subjectID]; ok {
		return rec.interaction.IsOpen
	}
	return false
}

// OpenSubjects lists every subject whose detail panel is currently open.
// The polling fallback refreshes exactly this set.
func (s *Store) OpenSubjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []string
	for id, rec := range s.entries {
		if rec.interaction.IsOpen {
			open = append(open, id)
		}
	}
	return open
}

// Apply merges a patch into the subject's state in one critical section and
// notifies watchers. Creating the entry on first patch is the lazy
// initialization path; counts are floored at zero.
func (s *Store) Apply(subjectID string, p Patch) Interaction {
	s.mu.Lock()
	rec, ok := s.entries[subjectID]
	if !ok {
		rec = &record{}
		s.entries[subjectID] = rec
	}
	if p.IsOpen != nil {
		rec.interaction.IsOpen = *p.IsOpen
	}
	if p.Items != nil {
		rec.interaction.Items = *p.Items
	}
	if p.IsLoading != nil {
		rec.interaction.IsLoading = *p.IsLoading
	}
	if p.Err != nil {
		rec.interaction.Err = *p.Err
	}
	if p.IsLikedByMe != nil {
		rec.interaction.IsLikedByMe = *p.IsLikedByMe
	}
	if p.Count != nil {
		c := *p.Count
		if c < 0 {
			c = 0
		}
		rec.interaction.Count = c
	}
	rec.touchedAt = time.Now()
	out := rec.interaction
	s.mu.Unlock()

	s.notify(subjectID)
	return out
}

// Watch returns a channel receiving the id of every subject whose state
// changes. The channel is buffered and drops notifications when the reader
// lags — the reader re-reads current state through accessors, so a dropped
// signal only delays a render, it never loses data.
func (s *Store) Watch() <-chan string {
	ch := make(chan string, 64)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

func (s *Store) notify(subjectID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- subjectID:
		default:
		}
	}
}
