package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig bounds login attempts.
type LimiterConfig struct {
	// PerMinute and Burst shape the token bucket kept per client IP.
	PerMinute int
	Burst     int
	// MaxFailures consecutive failures for one email lock it for Lockout.
	MaxFailures int
	Lockout     time.Duration
	// IdleTTL is how long an untouched IP bucket is kept.
	IdleTTL time.Duration
}

// DefaultLimiterConfig is used by the server.
var DefaultLimiterConfig = LimiterConfig{
	PerMinute:   5,
	Burst:       5,
	MaxFailures: 5,
	Lockout:     15 * time.Minute,
	IdleTTL:     10 * time.Minute,
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type failure struct {
	count       int
	lastFailure time.Time
	lockedUntil time.Time
}

// Limiter rate limits login attempts per client and locks out accounts after
// repeated failures.
type Limiter struct {
	mu       sync.Mutex
	cfg      LimiterConfig
	visitors map[string]*visitor
	failures map[string]*failure
	now      func() time.Time
}

// NewLimiter constructs a limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	return &Limiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		failures: make(map[string]*failure),
		now:      time.Now,
	}
}

// AllowIP consumes one attempt for ip.
func (l *Limiter) AllowIP(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		every := rate.Every(time.Minute / time.Duration(l.cfg.PerMinute))
		v = &visitor{limiter: rate.NewLimiter(every, l.cfg.Burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Locked reports whether email is locked out and for how long.
func (l *Limiter) Locked(email string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.failures[normalizeEmail(email)]
	if !ok {
		return 0, false
	}
	remaining := f.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// RecordFailure counts a failed attempt and reports whether it locked email.
func (l *Limiter) RecordFailure(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := normalizeEmail(email)
	f, ok := l.failures[key]
	if !ok {
		f = &failure{}
		l.failures[key] = f
	}
	// Failures older than the lockout window no longer count.
	if now.Sub(f.lastFailure) > l.cfg.Lockout {
		f.count = 0
	}
	f.count++
	f.lastFailure = now
	if f.count >= l.cfg.MaxFailures {
		f.count = 0
		f.lockedUntil = now.Add(l.cfg.Lockout)
		return true
	}
	return false
}

// RecordSuccess clears failures for email.
func (l *Limiter) RecordSuccess(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, normalizeEmail(email))
}

// Sweep drops IP buckets and failure records idle for longer than IdleTTL.
// Locked accounts are kept until their lockout ends.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.cfg.IdleTTL {
			delete(l.visitors, ip)
		}
	}
	for email, f := range l.failures {
		if now.After(f.lockedUntil) && now.Sub(f.lastFailure) > l.cfg.IdleTTL {
			delete(l.failures, email)
		}
	}
}

// Run sweeps every interval until stop is closed.
func (l *Limiter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-stop:
			return
		}
	}
}
