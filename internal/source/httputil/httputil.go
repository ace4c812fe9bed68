// Package httputil provides a retry-with-backoff and optional
// rate-limiting wrapper for outbound calls to an HTTP-ish remote (object
// storage APIs, REST endpoints). The Source adapters in this repository
// do not use it.
package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"connectorsync/internal/logging"
)

// DefaultRetries is the number of attempts (beyond the first) a Retrier
// makes before giving up.
const DefaultRetries = 3

// Retrier retries a fallible operation with exponential backoff
// (2^attempt seconds) and an optional outbound rate limit.
type Retrier struct {
	retries int
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithRetries overrides DefaultRetries.
func WithRetries(n int) Option {
	return func(r *Retrier) { r.retries = n }
}

// WithRateLimit caps outbound calls to limit events per second, bursting
// up to burst. A nil limiter (the zero value of this option) disables
// limiting, which is the default.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(r *Retrier) { r.limiter = rate.NewLimiter(limit, burst) }
}

// WithLogger attaches a logger used to report retried attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retrier) { r.logger = logging.Default(logger) }
}

// New builds a Retrier with DefaultRetries and no rate limit unless
// overridden by opts.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		retries: DefaultRetries,
		logger:  logging.Discard(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn, retrying on error up to r.retries additional times with
// exponential backoff (2^attempt seconds between attempts). If a rate
// limiter is configured, Do waits for a token before every attempt,
// including the first. Returns the last error if every attempt fails, or
// ctx.Err() if ctx is cancelled while waiting.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", op, err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < r.retries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			r.logger.Warn("retrying after failed attempt",
				"operation", op, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			if err := r.sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, r.retries+1, lastErr)
}

// sleepCtx sleeps for d or returns early with ctx.Err() if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
