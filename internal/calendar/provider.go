// Package calendar talks to the external calendar provider: OAuth token
// refresh and event CRUD.
package calendar

import (
	"context"
	"time"
)

// DefaultCalendarID is the provider's sentinel for the account's primary calendar.
const DefaultCalendarID = "primary"

// Token is the result of a refresh grant. RefreshToken is empty unless the
// provider rotated it.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Event is the provider-neutral event payload built from a booking.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Provider abstracts the calendar backend so the sync service can be tested
// without network access.
type Provider interface {
	// RefreshToken exchanges a refresh token for a fresh access token.
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// InsertEvent creates an event and returns the provider event id.
	InsertEvent(ctx context.Context, accessToken, calendarID string, ev *Event) (string, error)

	// UpdateEvent overwrites an existing event and returns its id.
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, ev *Event) (string, error)

	// DeleteEvent removes an event. A provider 404/410 is treated as
	// already-deleted and returns nil.
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
}
