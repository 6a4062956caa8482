package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdpgate/internal/backend"
)

func newSession() *Session {
	return New(backend.Target{Host: "mock", Width: 640, Height: 480, ColorDepth: 24}, "alice", "", "127.0.0.1:5000")
}

func TestState_Transitions(t *testing.T) {
	s := newSession()
	assert.Equal(t, StateCreated, s.State())

	assert.ErrorIs(t, s.Transition(StateActive), ErrIllegalTransition)
	require.NoError(t, s.Transition(StateConnecting))
	require.NoError(t, s.Transition(StateActive))
	assert.ErrorIs(t, s.Transition(StateConnecting), ErrIllegalTransition)
	require.NoError(t, s.Transition(StateClosing))
	assert.ErrorIs(t, s.Transition(StateClosing), ErrIllegalTransition)
	require.NoError(t, s.Transition(StateClosed))
	assert.ErrorIs(t, s.Transition(StateClosing), ErrIllegalTransition)
	assert.Equal(t, "closed", s.State().String())
}

func TestSession_CountersAndPasswordlessStats(t *testing.T) {
	s := newSession()
	s.Target.Password = "hunter2"
	s.AddSent(100, true)
	s.AddSent(20, false)
	s.AddReceived(7)
	s.SetBackend("mock")

	st := s.Stats()
	assert.Equal(t, uint64(120), st.BytesSent)
	assert.Equal(t, uint64(7), st.BytesReceived)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, "mock", st.Backend)
	assert.NotContains(t, st.Target, "hunter2")
	assert.Len(t, s.ID, 36)
}

func TestRegistry_AdmitCapacity(t *testing.T) {
	r := NewRegistry(2, time.Minute, nil)
	a, b, c := newSession(), newSession(), newSession()

	require.NoError(t, r.Admit(a))
	assert.ErrorIs(t, r.Admit(a), ErrDuplicateSession)
	require.NoError(t, r.Admit(b))
	assert.ErrorIs(t, r.Admit(c), ErrCapacityExceeded)
	assert.Equal(t, 2, r.Count())

	r.Remove(a.ID)
	r.Remove(a.ID)
	require.NoError(t, r.Admit(c))

	_, ok := r.Lookup(a.ID)
	assert.False(t, ok)
	got, ok := r.Lookup(c.ID)
	assert.True(t, ok)
	assert.Same(t, c, got)

	counters := r.Counters()
	assert.Equal(t, uint64(3), counters.Admitted)
	assert.Equal(t, uint64(1), counters.RejectedCapacity)
	assert.Equal(t, uint64(1), counters.Closed)
}

func TestRegistry_ConcurrentAdmitNeverExceedsMax(t *testing.T) {
	r := NewRegistry(5, time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Admit(newSession())
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, r.Count())
	assert.Equal(t, uint64(45), r.Counters().RejectedCapacity)
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	r := NewRegistry(10, time.Minute, nil)
	now := time.Now()

	idle := newSession()
	idle.touchAt(now.Add(-2 * time.Minute))
	fresh := newSession()
	fresh.touchAt(now.Add(-10 * time.Second))
	unhooked := newSession()
	unhooked.touchAt(now.Add(-time.Hour))

	var order []string
	idle.OnEvict(func(reason Reason) {
		assert.Equal(t, ReasonIdle, reason)
		_, stillRegistered := r.Lookup(idle.ID)
		order = append(order, fmt.Sprintf("release registered=%v", stillRegistered))
		r.Remove(idle.ID)
	})

	for _, s := range []*Session{idle, fresh, unhooked} {
		require.NoError(t, r.Admit(s))
	}

	evicted := r.Sweep(now)
	assert.ElementsMatch(t, []string{idle.ID, unhooked.ID}, evicted)
	assert.Equal(t, []string{"release registered=true"}, order)
	assert.Equal(t, 1, r.Count())
	_, ok := r.Lookup(fresh.ID)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), r.Counters().EvictedIdle)

	assert.Empty(t, r.Sweep(now))
}

func TestRegistry_SweepBoundary(t *testing.T) {
	r := NewRegistry(10, time.Minute, nil)
	now := time.Now()
	s := newSession()
	s.touchAt(now.Add(-time.Minute))
	require.NoError(t, r.Admit(s))

	assert.Empty(t, r.Sweep(now), "exactly idleTimeout is not idle")
	assert.Equal(t, []string{s.ID}, r.Sweep(now.Add(time.Millisecond)))
}

func TestRegistry_ActivityAfterPartitionSavesSession(t *testing.T) {
	r := NewRegistry(10, time.Minute, nil)
	now := time.Now()
	s := newSession()
	s.touchAt(now.Add(-2 * time.Minute))
	released := false
	s.OnEvict(func(Reason) { released = true })
	require.NoError(t, r.Admit(s))

	idle, _ := r.partition(now)
	require.Len(t, idle, 1)
	s.touchAt(now)

	assert.Empty(t, r.evictIdle(idle, now))
	assert.False(t, released)
	_, ok := r.Lookup(s.ID)
	assert.True(t, ok)
	assert.Zero(t, r.Counters().EvictedIdle)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(10, time.Minute, nil)
	var reasons []Reason
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		s := newSession()
		s.OnEvict(func(reason Reason) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		})
		require.NoError(t, r.Admit(s))
	}

	r.CloseAll()
	assert.Zero(t, r.Count())
	assert.Equal(t, []Reason{ReasonShutdown, ReasonShutdown, ReasonShutdown}, reasons)
}

func TestRegistry_MirrorsRecords(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	r := NewRegistry(10, time.Minute, store)

	a, b := newSession(), newSession()
	require.NoError(t, r.Admit(a))
	require.NoError(t, r.Admit(b))

	recs, err := store.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotEmpty(t, recs[0].Instance)

	r.Remove(a.ID)
	recs, err = store.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, b.ID, recs[0].ID)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "created", snap[0].State)
}
