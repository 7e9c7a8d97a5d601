// Package consistency retries lookups against an eventually consistent store.
// A read that misses may simply be ahead of replication, so it is repeated
// with exponential backoff before the miss is accepted as final.
package consistency

import (
	"context"
	"time"
)

type Config struct {
	// MaxAttempts is the number of retries after the initial lookup.
	MaxAttempts int
	// InitialBackoff is the pause before the first retry; it doubles after
	// every further miss.
	InitialBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond}
}

// Retry runs lookup until it reports found, errors, or the attempts are
// exhausted. Exhaustion is not an error: the zero value and found=false are
// returned, and the caller decides what an absent result means.
func Retry[T any](ctx context.Context, cfg Config, lookup func(ctx context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	v, found, err := lookup(ctx)
	if err != nil || found {
		return v, found, err
	}
	backoff := cfg.InitialBackoff
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false, ctx.Err()
		case <-timer.C:
		}
		v, found, err = lookup(ctx)
		if err != nil || found {
			return v, found, err
		}
		backoff *= 2
	}
	return zero, false, nil
}
