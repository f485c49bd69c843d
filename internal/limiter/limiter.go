// Package limiter defines interfaces and implementations for sync-call quotas.
//
// Google Calendar enforces per-project API quotas; a single misbehaving
// client must not be able to burn the whole project's budget. The limiter
// tracks calls per (user, venue) over a sliding window and places a
// temporary block once the window quota is exhausted.
package limiter

import (
	"context"
	"time"
)

// Limiter controls sync-call quotas and temporary blocks.
type Limiter interface {
	// Allow reports whether a sync call is currently allowed and an
	// optional retry-after duration.
	Allow(ctx context.Context, userID string, scopeHash []byte) (bool, time.Duration, error)
	// Record counts a call; reports whether this call exhausted the quota
	// and placed a block.
	Record(ctx context.Context, userID string, scopeHash []byte) (bool, time.Duration, error)
}
