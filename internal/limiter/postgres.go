package limiter

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed limiter implementation with sliding window and block.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxCalls int
	blockFor time.Duration
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, window time.Duration, maxCalls int, blockFor time.Duration) *PG {
	return &PG{pool: pool, window: window, maxCalls: maxCalls, blockFor: blockFor}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, maxCalls int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxCalls: maxCalls, blockFor: blockFor}
}

// HashScope returns a stable hash for a scope id to avoid storing raw ids.
func HashScope(scope string) []byte {
	h := sha256.Sum256([]byte(scope))
	return h[:]
}

// Allow reports whether a sync call is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, userID string, scopeHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM sync_limiter WHERE user_id=$1 AND scope_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, userID, scopeHash).Scan(&blockedUntil)
	switch err {
	case nil:
		if blockedUntil.After(time.Now()) {
			return false, time.Until(blockedUntil), nil
		}
		return true, 0, nil
	case pgx.ErrNoRows:
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Record counts a call; the counter resets when the window has elapsed since
// the previous call. Once the quota is reached a block is placed.
func (l *PG) Record(ctx context.Context, userID string, scopeHash []byte) (bool, time.Duration, error) {
	now := time.Now()

	const q = `
INSERT INTO sync_limiter (user_id, scope_hash, call_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (user_id, scope_hash) DO UPDATE
SET
  call_count = CASE WHEN EXCLUDED.updated_at - sync_limiter.updated_at > $3::interval THEN 1 ELSE sync_limiter.call_count + 1 END,
  updated_at = now()
RETURNING call_count`
	var calls int
	if err := l.pool.QueryRow(ctx, q, userID, scopeHash, l.window).Scan(&calls); err != nil {
		return false, 0, err
	}
	if calls >= l.maxCalls {
		blockUntil := now.Add(l.blockFor)
		const upd = `UPDATE sync_limiter SET blocked_until=$3 WHERE user_id=$1 AND scope_hash=$2`
		if _, err := l.pool.Exec(ctx, upd, userID, scopeHash, blockUntil); err != nil {
			return false, 0, err
		}
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
