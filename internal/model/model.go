// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// SyncAction is the requested calendar operation for a booking.
type SyncAction string

// Supported sync actions.
const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// Valid reports whether the action is one of the supported values.
func (a SyncAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Booking is the slice of a booking row this service reads and writes.
// SpaceName and VenueName are joined display names used for event text.
type Booking struct {
	ID             uuid.UUID
	VenueID        uuid.UUID
	ProfessionalID *uuid.UUID // nil when the booking has no assigned professional
	CustomerName   string
	CustomerPhone  string
	CustomerEmail  string
	StartTime      time.Time
	EndTime        time.Time
	Notes          string
	SpaceName      string
	VenueName      string
	GoogleEventID  string // empty until the booking has been synced
}

// CalendarCredential is a stored OAuth token pair for one venue, optionally
// scoped to one staff member. Token fields hold envelope-encrypted values,
// never plaintext.
type CalendarCredential struct {
	ID             uuid.UUID
	VenueID        uuid.UUID
	UserID         *uuid.UUID // nil means venue-wide (shared) credential
	AccessToken    string     // encrypted at rest
	RefreshToken   string     // encrypted at rest
	TokenExpiresAt time.Time
	CalendarID     string // empty means the provider's primary calendar
}

// SyncRequest is the parsed body of one sync call.
type SyncRequest struct {
	Action    SyncAction
	BookingID uuid.UUID
	VenueID   uuid.UUID
}

// SyncResult reports the outcome of one sync call.
type SyncResult struct {
	Synced  bool   `json:"synced"`
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ReasonNotConnected marks a venue with no calendar credential; not an error.
const ReasonNotConnected = "not_connected"
