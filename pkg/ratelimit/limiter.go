// Package ratelimit provides per-requester backpressure for the
// authorization engine, independent of the per-delegation rolling windows.
// Backends share one interface; the in-memory store serves single-instance
// deployments and Redis serves shared ones.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines a token-bucket limit.
type Policy struct {
	// RPM is the sustained allowance in requests per minute.
	RPM int
	// Burst is the bucket capacity.
	Burst int
}

// LimiterStore abstracts rate-limit bucket storage.
type LimiterStore interface {
	// Allow reports whether the actor may proceed, consuming cost tokens.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// MemoryLimiterStore keeps one token bucket per actor in process memory.
type MemoryLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryLimiterStore creates an empty store.
func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{limiters: make(map[string]*rate.Limiter)}
}

// Allow consumes cost tokens from the actor's bucket.
func (s *MemoryLimiterStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	lim, ok := s.limiters[actorID]
	if !ok {
		perSec := rate.Limit(float64(policy.RPM) / 60.0)
		if perSec <= 0 {
			perSec = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(perSec, burst)
		s.limiters[actorID] = lim
	}
	s.mu.Unlock()

	return lim.AllowN(time.Now(), cost), nil
}
