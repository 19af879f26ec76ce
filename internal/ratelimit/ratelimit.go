// Package ratelimit counts attempts per (action, client) key within a window.
// Limiters are independent of the handlers they guard and can be switched off
// per route.
package ratelimit

import (
	"context"
	"time"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	// Check records one attempt for key and reports whether it is allowed.
	Check(ctx context.Context, key string) (Decision, error)
	// Reset forgets all attempts for key.
	Reset(ctx context.Context, key string) error
}

func Key(action, identifier string) string {
	return action + ":" + identifier
}

func retryAfterAtLeastOneSecond(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
