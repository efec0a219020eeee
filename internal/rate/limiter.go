// Package rate paces outgoing API requests so a single client never floods the backend.
package rate

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter blocks until a request may proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket is a Limiter backed by golang.org/x/time/rate.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows perSecond requests on average with bursts of burst.
// A non-positive perSecond disables pacing.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if perSecond <= 0 {
		return Unlimited()
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Unlimited returns a TokenBucket that never waits.
func Unlimited() *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Inf, 0)}
}

func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
