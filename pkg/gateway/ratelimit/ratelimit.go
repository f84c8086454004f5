// Package ratelimit bounds how hard a single client can drive the costly
// surfaces: speech synthesis requests and concurrent live calls.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	// RPS and Burst shape the per-client token bucket. Either <= 0 disables it.
	RPS   float64
	Burst int

	// MaxConcurrentCalls caps open live calls per client; <= 0 is unlimited.
	MaxConcurrentCalls int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

// Enabled reports whether any limit is configured.
func (c Config) Enabled() bool {
	return (c.RPS > 0 && c.Burst > 0) || c.MaxConcurrentCalls > 0
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*clientLimiter
}

type clientLimiter struct {
	mu sync.Mutex

	tb      tokenBucket
	callSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*clientLimiter),
	}
}

// ClientKey identifies the caller by remote IP. Proxies in front of the
// simulator are expected to terminate on the same host, so forwarded headers
// are not trusted.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest spends one token from the client's bucket. A nil limiter
// allows everything.
func (l *Limiter) AcquireRequest(client string, now time.Time) Decision {
	if l == nil || l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	cl := l.getOrCreate(client, now)
	if ok, retryAfter := cl.allowToken(now, l.cfg.RPS, l.cfg.Burst); !ok {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}

// AcquireCall reserves a live call slot for the client. The permit must be
// released when the call ends.
func (l *Limiter) AcquireCall(client string, now time.Time) Decision {
	if l == nil || l.cfg.MaxConcurrentCalls <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	cl := l.getOrCreate(client, now)
	select {
	case cl.callSem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-cl.callSem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) getOrCreate(client string, now time.Time) *clientLimiter {
	if client == "" {
		client = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if cl, ok := l.m[client]; ok {
		cl.lastSeen = now
		return cl
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// Still full: drop an idle entry. Entries holding call slots are kept
		// so their permits stay balanced.
		if len(l.m) >= l.cfg.MaxEntries {
			for k, v := range l.m {
				if len(v.callSem) == 0 {
					delete(l.m, k)
					break
				}
			}
		}
	}

	cl := &clientLimiter{
		callSem:  make(chan struct{}, max(1, l.cfg.MaxConcurrentCalls)),
		lastSeen: now,
	}
	l.m[client] = cl
	return cl
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.callSem) == 0 {
			delete(l.m, k)
		}
	}
}

func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	capacity := float64(burst)
	if cl.tb.capacity == 0 {
		cl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	elapsed := now.Sub(cl.tb.last).Seconds()
	if elapsed > 0 {
		cl.tb.tokens = math.Min(cl.tb.capacity, cl.tb.tokens+(elapsed*cl.tb.rps))
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	retryAfter := int(math.Ceil((1.0 - cl.tb.tokens) / cl.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
