package session

import (
	"errors"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrDuplicateSession = errors.New("duplicate session id")
)

// Counters are process wide totals since start.
type Counters struct {
	Admitted         uint64 `json:"admitted"`
	RejectedAuth     uint64 `json:"rejectedAuth"`
	RejectedCapacity uint64 `json:"rejectedCapacity"`
	EvictedIdle      uint64 `json:"evictedIdle"`
	Closed           uint64 `json:"closed"`
}

// Registry holds every session that is not yet Closed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	max         int
	idleTimeout time.Duration
	store       RecordStore
	instance    string

	admitted         atomic.Uint64
	rejectedAuth     atomic.Uint64
	rejectedCapacity atomic.Uint64
	evictedIdle      atomic.Uint64
	closed           atomic.Uint64
}

// NewRegistry caps the registry at maxSessions. store may be nil.
func NewRegistry(maxSessions int, idleTimeout time.Duration, store RecordStore) *Registry {
	if store == nil {
		store = NewMemoryStore(2 * idleTimeout)
	}
	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		max:         maxSessions,
		idleTimeout: idleTimeout,
		store:       store,
		instance:    instance,
	}
}

func (r *Registry) Max() int { return r.max }
func (r *Registry) IdleTimeout() time.Duration { return r.idleTimeout }
func (r *Registry) Store() RecordStore { return r.store }

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Admit adds s, failing with ErrCapacityExceeded when the registry is full.
func (r *Registry) Admit(s *Session) error {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	if len(r.sessions) >= r.max {
		r.mu.Unlock()
		r.rejectedCapacity.Add(1)
		return ErrCapacityExceeded
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.admitted.Add(1)
	r.store.Save(r.record(s))
	return nil
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the entry and its mirror record. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.closed.Add(1)
	r.store.Delete(id)
}

// Sweep evicts sessions idle for longer than the idle timeout and refreshes
// the mirror records of the others. It returns the evicted ids.
func (r *Registry) Sweep(now time.Time) []string {
	idle, live := r.partition(now)
	evicted := r.evictIdle(idle, now)
	for _, s := range idle {
		if _, ok := r.Lookup(s.ID); ok {
			live = append(live, s)
		}
	}
	for _, s := range live {
		r.store.Save(r.record(s))
	}
	return evicted
}

func (r *Registry) partition(now time.Time) (idle, live []*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if r.isIdle(s, now) {
			idle = append(idle, s)
		} else {
			live = append(live, s)
		}
	}
	return idle, live
}

func (r *Registry) isIdle(s *Session, now time.Time) bool {
	return now.Sub(s.LastActivity()) > r.idleTimeout
}

// evictIdle re-checks each candidate, since activity may have landed after
// partition released the lock.
func (r *Registry) evictIdle(candidates []*Session, now time.Time) []string {
	evicted := make([]string, 0, len(candidates))
	for _, s := range candidates {
		if _, ok := r.Lookup(s.ID); !ok || !r.isIdle(s, now) {
			continue
		}
		log.Printf("⏱  Evicting idle session %s (last activity %s ago)", s.ID, now.Sub(s.LastActivity()).Truncate(time.Second))
		s.runEvict(ReasonIdle)
		r.Remove(s.ID)
		r.evictedIdle.Add(1)
		evicted = append(evicted, s.ID)
	}
	return evicted
}

// CloseAll evicts every session for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.runEvict(ReasonShutdown)
		r.Remove(s.ID)
	}
}

// Snapshot copies the stats of every session, oldest first.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	out := make([]Stats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) RecordAuthFailure() {
	r.rejectedAuth.Add(1)
}

func (r *Registry) Counters() Counters {
	return Counters{
		Admitted:         r.admitted.Load(),
		RejectedAuth:     r.rejectedAuth.Load(),
		RejectedCapacity: r.rejectedCapacity.Load(),
		EvictedIdle:      r.evictedIdle.Load(),
		Closed:           r.closed.Load(),
	}
}

func (r *Registry) record(s *Session) Record {
	return Record{Stats: s.Stats(), Instance: r.instance, UpdatedAt: time.Now()}
}
