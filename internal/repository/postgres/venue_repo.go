package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/venuehq/calsync/internal/errs"
)

// VenueRepo implements VenueRepository using PostgreSQL.
type VenueRepo struct{ db *DB }

// NewVenueRepo constructs a venue repository.
func NewVenueRepo(db *DB) *VenueRepo { return &VenueRepo{db: db} }

// IsMember reports whether the user belongs to the venue.
func (r *VenueRepo) IsMember(ctx context.Context, userID, venueID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM venue_members WHERE user_id=$1 AND venue_id=$2)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, userID, venueID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ProfessionalUserID resolves a professional to their linked platform user.
// Returns (nil, nil) when the professional exists but has no linked account.
func (r *VenueRepo) ProfessionalUserID(ctx context.Context, professionalID uuid.UUID) (*uuid.UUID, error) {
	const q = `SELECT user_id FROM professionals WHERE id=$1`
	var userID *uuid.UUID
	if err := r.db.Pool.QueryRow(ctx, q, professionalID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return userID, nil
}
