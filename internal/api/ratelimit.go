package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-client request rate limiting
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = int(rps)
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow checks whether the client may make a request
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	limiter, exists := rl.limiters[client]
	if !exists {
		// Prevent unbounded memory growth from many unique clients
		if len(rl.limiters) >= 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[client] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}
