package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/venuehq/calsync/internal/errs"
	"github.com/venuehq/calsync/internal/model"
)

// BookingRepo implements BookingRepository using PostgreSQL.
type BookingRepo struct{ db *DB }

// NewBookingRepo constructs a booking repository.
func NewBookingRepo(db *DB) *BookingRepo { return &BookingRepo{db: db} }

// GetInVenue selects a booking by id AND venue in one query. Filtering on
// both columns server-side is the tenant-isolation contract: an id from
// another venue never resolves.
func (r *BookingRepo) GetInVenue(ctx context.Context, bookingID, venueID uuid.UUID) (*model.Booking, error) {
	const q = `
SELECT b.id, b.venue_id, b.professional_id,
       b.customer_name, COALESCE(b.customer_phone,''), COALESCE(b.customer_email,''),
       b.start_time, b.end_time, COALESCE(b.notes,''), COALESCE(b.google_event_id,''),
       COALESCE(s.name,''), v.name
FROM bookings b
JOIN venues v ON v.id = b.venue_id
LEFT JOIN spaces s ON s.id = b.space_id
WHERE b.id=$1 AND b.venue_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, bookingID, venueID)
	var b model.Booking
	err := row.Scan(&b.ID, &b.VenueID, &b.ProfessionalID,
		&b.CustomerName, &b.CustomerPhone, &b.CustomerEmail,
		&b.StartTime, &b.EndTime, &b.Notes, &b.GoogleEventID,
		&b.SpaceName, &b.VenueName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// SetEventID persists the provider event id.
func (r *BookingRepo) SetEventID(ctx context.Context, bookingID uuid.UUID, eventID string) error {
	const q = `UPDATE bookings SET google_event_id=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, bookingID, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ClearEventID removes the provider event id after deletion.
func (r *BookingRepo) ClearEventID(ctx context.Context, bookingID uuid.UUID) error {
	const q = `UPDATE bookings SET google_event_id=NULL WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
