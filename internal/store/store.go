// Package store provides the volatile keyed store behind CSRF tokens, OTP
// challenges and rate windows. The memory implementation serves a single
// process; the redis implementation lets several instances share state.
package store

import (
	"context"
	"time"
)

// Mutation is the write an UpdateFunc asks the store to apply
type Mutation[T any] struct {
	Value  T
	TTL    time.Duration
	Delete bool
}

// Put keeps value under the key for ttl
func Put[T any](value T, ttl time.Duration) Mutation[T] {
	return Mutation[T]{Value: value, TTL: ttl}
}

// Remove deletes the key
func Remove[T any]() Mutation[T] {
	return Mutation[T]{Delete: true}
}

// UpdateFunc receives the current value (found=false when absent or expired)
// and returns the mutation to apply atomically. Implementations may call fn
// more than once when a concurrent writer wins; fn must overwrite whatever it
// reports to the caller on every call and never accumulate across calls.
type UpdateFunc[T any] func(current T, found bool) Mutation[T]

// Store is a TTL keyed store with an atomic read-modify-write primitive
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Update runs fn under a per-key critical section and applies its mutation
	Update(ctx context.Context, key string, fn UpdateFunc[T]) error
	// Sweep drops expired entries and returns how many were removed
	Sweep(ctx context.Context) (int, error)
}
