// Package session tracks admitted remote desktop sessions: their state
// machine, traffic counters and idle clock, plus the process wide registry
// that caps and sweeps them.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rdpgate/internal/backend"
)

type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrIllegalTransition = errors.New("illegal session state transition")

var transitions = map[State][]State{
	StateCreated:    {StateConnecting, StateClosing},
	StateConnecting: {StateActive, StateClosing},
	StateActive:     {StateClosing},
	StateClosing:    {StateClosed},
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason tells an eviction hook why the registry is ending a session.
type Reason int

const (
	ReasonIdle Reason = iota + 1
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonIdle:
		return "idle"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type Session struct {
	ID         string
	Target     backend.Target
	Subject    string
	NodeID     string
	RemoteAddr string
	CreatedAt  time.Time

	state         atomic.Int32
	lastActivity  atomic.Int64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	frames        atomic.Uint64

	mu          sync.Mutex
	backendName string
	evict       func(Reason)
}

// New creates a session in the Created state with a fresh v4 ID.
func New(target backend.Target, subject, nodeID, remoteAddr string) *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.NewString(),
		Target:     target,
		Subject:    subject,
		NodeID:     nodeID,
		RemoteAddr: remoteAddr,
		CreatedAt:  now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Transition moves the session to next, refusing moves the state machine
// does not allow.
func (s *Session) Transition(next State) error {
	for {
		cur := s.State()
		if !allowed(cur, next) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, next)
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			return nil
		}
	}
}

// Touch records activity now.
func (s *Session) Touch() {
	s.touchAt(time.Now())
}

func (s *Session) touchAt(t time.Time) {
	s.lastActivity.Store(t.UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// AddSent counts one outbound message of n bytes; frame marks bitmaps.
func (s *Session) AddSent(n int, frame bool) {
	s.bytesSent.Add(uint64(n))
	if frame {
		s.frames.Add(1)
	}
}

func (s *Session) AddReceived(n int) {
	s.bytesReceived.Add(uint64(n))
}

func (s *Session) SetBackend(name string) {
	s.mu.Lock()
	s.backendName = name
	s.mu.Unlock()
}

func (s *Session) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendName
}

// OnEvict installs the teardown the registry runs on idle sweep and
// shutdown. It must release the backend before returning.
func (s *Session) OnEvict(fn func(Reason)) {
	s.mu.Lock()
	s.evict = fn
	s.mu.Unlock()
}

func (s *Session) runEvict(reason Reason) {
	s.mu.Lock()
	fn := s.evict
	s.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// Stats is a point in time copy of a session for the stats endpoint.
type Stats struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Backend       string    `json:"backend"`
	Target        string    `json:"target"`
	Subject       string    `json:"subject"`
	NodeID        string    `json:"nodeId,omitempty"`
	RemoteAddr    string    `json:"remoteAddr"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	BytesSent     uint64    `json:"bytesSent"`
	BytesReceived uint64    `json:"bytesReceived"`
	Frames        uint64    `json:"frames"`
}

func (s *Session) Stats() Stats {
	return Stats{
		ID:            s.ID,
		State:         s.State().String(),
		Backend:       s.Backend(),
		Target:        s.Target.String(),
		Subject:       s.Subject,
		NodeID:        s.NodeID,
		RemoteAddr:    s.RemoteAddr,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity(),
		BytesSent:     s.bytesSent.Load(),
		BytesReceived: s.bytesReceived.Load(),
		Frames:        s.frames.Load(),
	}
}
