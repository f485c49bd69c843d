package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// VenueRepository answers membership and staff-identity questions for venues.
type VenueRepository interface {
	// IsMember reports whether the user belongs to the venue. This is the
	// tenant-isolation predicate checked before any booking data is read.
	IsMember(ctx context.Context, userID, venueID uuid.UUID) (bool, error)

	// ProfessionalUserID resolves a professional to their linked platform
	// user, or nil when the professional has no linked account.
	ProfessionalUserID(ctx context.Context, professionalID uuid.UUID) (*uuid.UUID, error)
}
