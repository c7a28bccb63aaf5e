package image

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer is implemented by generators that throttle locally. Callers that put
// a deadline on Generate call Pace first, without that deadline, and pass the
// returned context on so the token is not taken twice.
type Pacer interface {
	Pace(ctx context.Context) (context.Context, error)
}

type pacedKey struct{}

// RateLimited shares one token bucket across every caller so a pool of
// workers stays inside the provider quota.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one.
// A non-positive perMinute disables limiting.
func NewRateLimited(next Generator, perMinute int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Pace blocks until a token is available and marks the returned context as
// holding it.
func (r *RateLimited) Pace(ctx context.Context) (context.Context, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, pacedKey{}, r), nil
}

func (r *RateLimited) Generate(ctx context.Context, req Request) (*Result, error) {
	if ctx.Value(pacedKey{}) != r {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.next.Generate(ctx, req)
}

var (
	_ Generator = (*RateLimited)(nil)
	_ Pacer     = (*RateLimited)(nil)
)
