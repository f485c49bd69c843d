package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/venuehq/calsync/internal/errs"
)

// Google implements Provider against the Google Calendar API.
type Google struct {
	conf *oauth2.Config
}

// NewGoogle constructs a Google provider with the configured OAuth client
// credentials.
func NewGoogle(clientID, clientSecret string) *Google {
	return &Google{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
		},
	}
}

// RefreshToken runs the refresh-token grant. A provider rejection maps to
// ErrUpstreamAuth; the raw provider response is never propagated.
func (g *Google) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	src := g.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("token refresh rejected (status %d): %w", re.Response.StatusCode, errs.ErrUpstreamAuth)
		}
		return nil, fmt.Errorf("token refresh: %w", errs.ErrUpstreamAuth)
	}
	out := &Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	if tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

func (g *Google) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return gcal.NewService(ctx, option.WithTokenSource(src))
}

// InsertEvent creates an event and returns the provider event id.
func (g *Google) InsertEvent(ctx context.Context, accessToken, calendarID string, ev *Event) (string, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("calendar service: %w", err)
	}
	created, err := svc.Events.Insert(calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", wrapUpstream("insert event", err)
	}
	return created.Id, nil
}

// UpdateEvent overwrites an existing event.
func (g *Google) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, ev *Event) (string, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("calendar service: %w", err)
	}
	updated, err := svc.Events.Update(calendarID, eventID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", wrapUpstream("update event", err)
	}
	return updated.Id, nil
}

// DeleteEvent removes an event; a 404/410 means the desired end state
// already holds and is not an error.
func (g *Google) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("calendar service: %w", err)
	}
	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		if isGone(err) {
			return nil
		}
		return wrapUpstream("delete event", err)
	}
	return nil
}

func toGoogleEvent(ev *Event) *gcal.Event {
	return &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
}

func isGone(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && (ge.Code == http.StatusNotFound || ge.Code == http.StatusGone)
}

// wrapUpstream maps a provider failure to ErrUpstream, keeping the status
// code but dropping the response body (it may contain tokens or PII).
func wrapUpstream(op string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return fmt.Errorf("%s: status %d: %w", op, ge.Code, errs.ErrUpstream)
	}
	return fmt.Errorf("%s: %w", op, errs.ErrUpstream)
}
