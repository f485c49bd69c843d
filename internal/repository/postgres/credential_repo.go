package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/venuehq/calsync/internal/errs"
	"github.com/venuehq/calsync/internal/model"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

const credentialColumns = `id, venue_id, user_id, access_token, refresh_token, token_expires_at, COALESCE(calendar_id,'')`

func scanCredential(row pgx.Row) (*model.CalendarCredential, error) {
	var c model.CalendarCredential
	err := row.Scan(&c.ID, &c.VenueID, &c.UserID, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.CalendarID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetForUser selects the credential scoped to one staff member.
func (r *CredentialRepo) GetForUser(ctx context.Context, venueID, userID uuid.UUID) (*model.CalendarCredential, error) {
	const q = `
SELECT ` + credentialColumns + `
FROM calendar_credentials WHERE venue_id=$1 AND user_id=$2`
	return scanCredential(r.db.Pool.QueryRow(ctx, q, venueID, userID))
}

// GetShared selects the venue-wide credential.
func (r *CredentialRepo) GetShared(ctx context.Context, venueID uuid.UUID) (*model.CalendarCredential, error) {
	const q = `
SELECT ` + credentialColumns + `
FROM calendar_credentials WHERE venue_id=$1 AND user_id IS NULL`
	return scanCredential(r.db.Pool.QueryRow(ctx, q, venueID))
}

// UpdateTokens overwrites the encrypted token pair and expiry. Concurrent
// refreshes race last-writer-wins; the provider tolerates briefly stale
// tokens.
func (r *CredentialRepo) UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error {
	const q = `
UPDATE calendar_credentials
SET access_token=$2, refresh_token=$3, token_expires_at=$4, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, accessEnc, refreshEnc, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
