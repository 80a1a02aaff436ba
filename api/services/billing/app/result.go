package app

import (
	"context"
	"log/slog"
)

// Result carries a best-effort enrichment value or the error that prevented it.
// Callers decide how to degrade; failures are never silently discarded.
type Result[T any] struct {
	Value T
	Err   error
}

func enrich[T any](fn func() (T, error)) Result[T] {
	v, err := fn()
	return Result[T]{Value: v, Err: err}
}

// OrZero logs a failed enrichment and returns the zero value.
func (r Result[T]) OrZero(ctx context.Context, what string) T {
	if r.Err != nil {
		slog.WarnContext(ctx, "enrichment failed", "what", what, "err", r.Err)
		var zero T
		return zero
	}
	return r.Value
}
