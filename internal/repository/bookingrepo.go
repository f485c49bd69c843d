// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/venuehq/calsync/internal/model"
)

// BookingRepository provides venue-scoped access to bookings.
type BookingRepository interface {
	// GetInVenue loads a booking filtered by both id and venue in a single
	// query, with joined space and venue display names. A booking outside
	// the venue is indistinguishable from a missing one (errs.ErrNotFound).
	GetInVenue(ctx context.Context, bookingID, venueID uuid.UUID) (*model.Booking, error)

	// SetEventID persists the provider event id onto the booking.
	SetEventID(ctx context.Context, bookingID uuid.UUID, eventID string) error

	// ClearEventID removes the provider event id after the event is deleted.
	ClearEventID(ctx context.Context, bookingID uuid.UUID) error
}
