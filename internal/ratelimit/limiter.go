// Package ratelimit throttles state executions per workload.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter caps how many states per second all units of one workload may
// execute together. A nil RateLimiter never blocks.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst(rps)),
	}
}

func burst(rps int) int {
	if rps < 1 {
		return 1
	}
	return rps
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	// A zero limit means unthrottled
	if r.limiter.Limit() == 0 {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Set holds one limiter per throttled workload.
type Set map[string]*RateLimiter

// NewSet creates limiters for every workload with a positive rate.
func NewSet(rps map[string]int) Set {
	s := make(Set)
	for workload, n := range rps {
		if n > 0 {
			s[workload] = NewRateLimiter(n)
		}
	}
	return s
}

// For returns the workload's limiter, or nil when it is unthrottled.
func (s Set) For(workload string) *RateLimiter {
	if s == nil {
		return nil
	}
	return s[workload]
}
