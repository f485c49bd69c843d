package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/venuehq/calsync/internal/model"
)

// CredentialRepository provides access to stored calendar OAuth credentials.
// At most one row exists per (venue, user), including the venue-wide
// null-user row.
type CredentialRepository interface {
	// GetForUser loads the credential scoped to one staff member.
	GetForUser(ctx context.Context, venueID, userID uuid.UUID) (*model.CalendarCredential, error)

	// GetShared loads the venue-wide credential (user_id IS NULL).
	GetShared(ctx context.Context, venueID uuid.UUID) (*model.CalendarCredential, error)

	// UpdateTokens overwrites the stored (encrypted) token pair and expiry.
	// Used both for refresh results and for legacy-format re-encryption.
	UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error
}
