// Package sessions keeps conversation histories in a bounded in-memory
// store with idle expiry and LRU eviction.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/observability"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

const (
	// DefaultMaxSessions bounds the store.
	DefaultMaxSessions = 500

	// DefaultTTL is the idle lifetime of a session.
	DefaultTTL = 30 * time.Minute

	// sweepInterval is how often the background sweep removes idle
	// sessions.
	sweepInterval = 5 * time.Minute
)

// Store holds sessions keyed by v4 UUID. All mutations are serialized
// behind one mutex; the hot path is O(1) and the lock is never held
// across I/O.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.Session

	maxSessions int
	ttl         time.Duration
	metrics     *observability.Metrics
	nowFunc     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLimits overrides the session cap and idle TTL.
func WithLimits(maxSessions int, ttl time.Duration) Option {
	return func(s *Store) {
		if maxSessions > 0 {
			s.maxSessions = maxSessions
		}
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMetrics keeps the active-session gauge in sync.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*models.Session),
		maxSessions: DefaultMaxSessions,
		ttl:         DefaultTTL,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the periodic expiry sweep until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Create inserts an empty session and returns its id. Under pressure it
// sweeps expired sessions first and then evicts the least recently used
// one, so the store never exceeds its cap.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.makeRoomLocked()

	id := uuid.NewString()
	now := s.nowFunc()
	s.sessions[id] = &models.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	s.updateGaugeLocked()
	return id
}

// Get returns the history for id, touching its updatedAt. Unknown and
// idle-expired sessions both report ok=false; expired ones are removed.
func (s *Store) Get(id string) ([]models.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.nowFunc()
	if now.Sub(session.UpdatedAt) >= s.ttl {
		delete(s.sessions, id)
		s.updateGaugeLocked()
		return nil, false
	}
	session.UpdatedAt = now
	return cloneTurns(session.History), true
}

// Set overwrites the history for id, creating the session when absent
// (with eviction on pressure) and stamping updatedAt.
func (s *Store) Set(id string, history []models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	session, ok := s.sessions[id]
	if !ok {
		s.makeRoomLocked()
		session = &models.Session{ID: id, CreatedAt: now}
		s.sessions[id] = session
	}
	session.History = cloneTurns(history)
	session.UpdatedAt = now
	s.updateGaugeLocked()
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.updateGaugeLocked()
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes every session idle longer than the TTL.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Store) sweepLocked() int {
	now := s.nowFunc()
	removed := 0
	for id, session := range s.sessions {
		if now.Sub(session.UpdatedAt) >= s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.updateGaugeLocked()
	}
	return removed
}

// makeRoomLocked frees capacity for one insertion: expiry sweep first,
// LRU eviction by updatedAt if still full.
func (s *Store) makeRoomLocked() {
	if len(s.sessions) < s.maxSessions {
		return
	}
	s.sweepLocked()
	for len(s.sessions) >= s.maxSessions {
		var oldestID string
		var oldest time.Time
		for id, session := range s.sessions {
			if oldestID == "" || session.UpdatedAt.Before(oldest) {
				oldestID = id
				oldest = session.UpdatedAt
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.sessions, oldestID)
	}
}

// cloneTurns copies turns part-by-part so callers and the store never
// share a mutable Parts slice.
func cloneTurns(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, len(turns))
	for i, turn := range turns {
		parts := make([]models.Part, len(turn.Parts))
		copy(parts, turn.Parts)
		out[i] = models.Turn{Role: turn.Role, Parts: parts}
	}
	return out
}

func (s *Store) updateGaugeLocked() {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
}
