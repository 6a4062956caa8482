package security

import (
	"sync"
	"time"
)

// AuthThrottle blocks a client IP for a cool-down once it has failed
// token verification limit times within one cool-down window. A nil
// *AuthThrottle allows everything.
type AuthThrottle struct {
	mu       sync.Mutex
	clients  map[string]*failureWindow
	limit    int
	cooldown time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type failureWindow struct {
	count        int
	first        time.Time
	blockedUntil time.Time
}

func NewAuthThrottle(limit int, cooldown time.Duration) *AuthThrottle {
	a := &AuthThrottle{
		clients:  make(map[string]*failureWindow),
		limit:    limit,
		cooldown: cooldown,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go a.sweepLoop()
	return a
}

// Allow reports whether ip may attempt authentication.
func (a *AuthThrottle) Allow(ip string) bool {
	if a == nil {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.clients[ip]
	if !ok {
		return true
	}
	now := a.now()
	if now.Before(w.blockedUntil) {
		return false
	}
	if a.stale(w, now) {
		delete(a.clients, ip)
	}
	return true
}

// Fail counts a failure and reports whether it started a block.
func (a *AuthThrottle) Fail(ip string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	w, ok := a.clients[ip]
	if !ok || a.stale(w, now) {
		w = &failureWindow{first: now}
		a.clients[ip] = w
	}
	w.count++
	if w.count >= a.limit && w.blockedUntil.IsZero() {
		w.blockedUntil = now.Add(a.cooldown)
		return true
	}
	return false
}

func (a *AuthThrottle) Cooldown() time.Duration {
	if a == nil {
		return 0
	}
	return a.cooldown
}

func (a *AuthThrottle) Succeed(ip string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	delete(a.clients, ip)
	a.mu.Unlock()
}

func (a *AuthThrottle) Close() {
	if a == nil {
		return
	}
	a.stopOnce.Do(func() { close(a.stop) })
}

// stale reports whether w no longer affects its client: the block, if any,
// is over and the counting window has passed.
func (a *AuthThrottle) stale(w *failureWindow, now time.Time) bool {
	if !w.blockedUntil.IsZero() {
		return !now.Before(w.blockedUntil)
	}
	return now.Sub(w.first) > a.cooldown
}

func (a *AuthThrottle) sweepLoop() {
	interval := a.cooldown
	if interval <= 0 || interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			now := a.now()
			for ip, w := range a.clients {
				if a.stale(w, now) {
					delete(a.clients, ip)
				}
			}
			a.mu.Unlock()
		}
	}
}
