package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	// Enabled determines if rate limiting is active
	Enabled bool

	// RequestsPerSecond is the sustained rate allowed per client
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst
	BurstSize int

	// ClientTTL is how long an idle client is remembered
	ClientTTL time.Duration

	// ExemptIPs are IPs or CIDR ranges that bypass rate limiting
	ExemptIPs []string

	// ExemptPaths are URL paths that bypass rate limiting. A trailing *
	// matches by prefix.
	ExemptPaths []string
}

// DefaultConfig returns the default limiter configuration
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 20,
		BurstSize:         40,
		ClientTTL:         10 * time.Minute,
		ExemptIPs:         []string{"127.0.0.1", "::1"},
		ExemptPaths:       []string{"/health", "/health/live", "/health/ready", "/metrics"},
	}
}

// Limiter keeps one token bucket per client key
type Limiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a per-key limiter
func NewLimiter(rps float64, burst int, ttl time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

func (l *Limiter) get(key string, now time.Time) *client {
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c
}

// Allow reports whether one request from key may proceed
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return l.get(key, now).limiter.AllowN(now, 1)
}

// Tokens returns the tokens currently available to key
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		return float64(l.burst)
	}
	return c.limiter.TokensAt(l.now())
}

// Limit returns the sustained rate per client
func (l *Limiter) Limit() float64 {
	return float64(l.limit)
}

// ClientCount returns the number of tracked clients
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Sweep forgets clients idle for longer than the TTL
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl)
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle clients until ctx is cancelled
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
