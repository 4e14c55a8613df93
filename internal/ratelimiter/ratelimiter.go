// Package ratelimiter provides token bucket request limiting for the HTTP
// surface, with independent buckets per client.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a sustained request rate with burst capacity using the
// token bucket algorithm. All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter allowing requestsPerSecond sustained with the given
// burst capacity. A zero rate means effectively unlimited.
func New(requestsPerSecond, burst uint) *Limiter {
	if requestsPerSecond == 0 {
		// rate.Inf has edge cases around Wait, so use a large finite value.
		requestsPerSecond = 1_000_000_000
		burst = requestsPerSecond
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether one request fits under the limit right now,
// consuming a token when it does. It never blocks.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently available. Useful for
// monitoring; the value can change immediately after the call.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}

// defaultIdleAfter is how long a client bucket may sit unused before the
// table drops it. An idle bucket has long since refilled to full burst, so
// recreating it on the client's next request changes nothing.
const defaultIdleAfter = 10 * time.Minute

type clientBucket struct {
	limiter  *Limiter
	lastSeen time.Time
}

// PerClient maintains an independent Limiter per client key, so one noisy
// client cannot starve the others. Buckets are created on first use and
// evicted after sitting idle, keeping the table bounded under client churn.
type PerClient struct {
	requestsPerSecond uint
	burst             uint
	idleAfter         time.Duration

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

// NewPerClient creates a per-client limiter table. Each client gets its own
// bucket with the given rate and burst.
func NewPerClient(requestsPerSecond, burst uint) *PerClient {
	return &PerClient{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleAfter:         defaultIdleAfter,
		clients:           make(map[string]*clientBucket),
		lastSweep:         time.Now(),
	}
}

// Allow reports whether one request from the given client fits under that
// client's limit, consuming a token when it does.
func (p *PerClient) Allow(client string) bool {
	return p.get(client).Allow()
}

func (p *PerClient) get(client string) *Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastSweep) > p.idleAfter {
		for key, bucket := range p.clients {
			if now.Sub(bucket.lastSeen) > p.idleAfter {
				delete(p.clients, key)
			}
		}
		p.lastSweep = now
	}

	bucket, ok := p.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: New(p.requestsPerSecond, p.burst)}
		p.clients[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter
}
