package security

import "sync"

// ConnectionLimiter caps concurrent WebSocket connections per client IP.
type ConnectionLimiter struct {
	mu     sync.Mutex
	active map[string]int
	limit  int
}

func NewConnectionLimiter(limit int) *ConnectionLimiter {
	return &ConnectionLimiter{
		active: make(map[string]int),
		limit:  limit,
	}
}

// Acquire reserves a connection slot for ip. release may be called more
// than once; only the first call frees the slot.
func (cl *ConnectionLimiter) Acquire(ip string) (release func(), ok bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.limit > 0 && cl.active[ip] >= cl.limit {
		return func() {}, false
	}
	cl.active[ip]++

	var once sync.Once
	return func() { once.Do(func() { cl.release(ip) }) }, true
}

func (cl *ConnectionLimiter) release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if n := cl.active[ip]; n <= 1 {
		delete(cl.active, ip)
	} else {
		cl.active[ip] = n - 1
	}
}

func (cl *ConnectionLimiter) Active(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.active[ip]
}
