package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles Generate calls of the wrapped model with a token
// bucket. Waiting honours the caller's context, so a per-call timeout also
// bounds the time spent queued.
type RateLimited struct {
	next    Model
	limiter *rate.Limiter
}

// NewRateLimited wraps m so that at most rps calls per second (with the
// given burst) reach it. rps <= 0 disables limiting and returns m unchanged.
func NewRateLimited(m Model, rps float64, burst int) Model {
	if rps <= 0 {
		return m
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: m, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Generate implements Model.
func (r *RateLimited) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	if err := r.limiter.Wait(ctx); err != nil {
		respCh := make(chan Response)
		errCh := make(chan error, 1)
		close(respCh)
		errCh <- fmt.Errorf("rate limit wait: %w", err)
		close(errCh)
		return respCh, errCh
	}
	return r.next.Generate(ctx, req)
}

// Info implements Model.
func (r *RateLimited) Info() Info { return r.next.Info() }
