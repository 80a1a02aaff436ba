package stripegw

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/metrics"
)

// Backoff is exponential backoff with jitter, used only for rate-limited reads.
type Backoff struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// NextInterval returns the delay before retry number attempt (1-based).
// Formula: min(BaseDelay * 2^(attempt-1) * (1 ± JitterFactor), MaxDelay)
func (b Backoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := b.BaseDelay
	if base == 0 {
		base = 500 * time.Millisecond
	}
	max := b.MaxDelay
	if max == 0 {
		max = 10 * time.Second
	}
	interval := float64(base) * math.Pow(2, float64(attempt-1))
	if b.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*b.JitterFactor
	}
	if interval > float64(max) {
		interval = float64(max)
	}
	return time.Duration(interval)
}

// IsRateLimited reports whether err is a processor rate-limit response.
func IsRateLimited(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.HTTPStatusCode == http.StatusTooManyRequests || se.Code == stripe.ErrorCodeRateLimit
}

// retryRead runs fn, retrying only rate-limit failures. Mutations never go through here.
func retryRead[T any](ctx context.Context, b Backoff, op string, fn func() (T, error)) (T, error) {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		out T
		err error
	)
	for attempt := 1; ; attempt++ {
		out, err = fn()
		if err == nil || !IsRateLimited(err) || attempt >= attempts {
			return out, err
		}
		wait := b.NextInterval(attempt)
		slog.WarnContext(ctx, "stripe rate limited, backing off", "op", op, "attempt", attempt, "wait", wait)
		metrics.GatewayRetries.WithLabelValues(op).Inc()
		select {
		case <-ctx.Done():
			return out, errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}
