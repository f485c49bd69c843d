// Package service contains the calendar sync application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/venuehq/calsync/internal/calendar"
	"github.com/venuehq/calsync/internal/crypto/tokencipher"
	"github.com/venuehq/calsync/internal/errs"
	"github.com/venuehq/calsync/internal/mask"
	"github.com/venuehq/calsync/internal/model"
	"github.com/venuehq/calsync/internal/repository"
)

// refreshSkew is how close to expiry a stored access token is still trusted.
const refreshSkew = 5 * time.Minute

// Syncer drives one booking's calendar synchronization.
type Syncer interface {
	// Sync authorizes the caller for the venue, resolves the applicable
	// credential, refreshes tokens as needed and executes the action.
	Sync(ctx context.Context, userID uuid.UUID, req model.SyncRequest) (model.SyncResult, error)
}

// SyncService implements Syncer over injected repositories and a calendar
// provider.
type SyncService struct {
	bookings repository.BookingRepository
	creds    repository.CredentialRepository
	venues   repository.VenueRepository
	provider calendar.Provider
	cipher   *tokencipher.Cipher
	log      *zap.Logger

	now        func() time.Time
	background func(fn func()) // detaches best-effort work; tests run it inline
}

// NewSyncService constructs a SyncService with required dependencies.
func NewSyncService(
	bookings repository.BookingRepository,
	creds repository.CredentialRepository,
	venues repository.VenueRepository,
	provider calendar.Provider,
	cipher *tokencipher.Cipher,
	log *zap.Logger,
) *SyncService {
	return &SyncService{
		bookings:   bookings,
		creds:      creds,
		venues:     venues,
		provider:   provider,
		cipher:     cipher,
		log:        log,
		now:        time.Now,
		background: func(fn func()) { go fn() },
	}
}

// Sync runs the per-request state machine, terminal on first error.
func (s *SyncService) Sync(ctx context.Context, userID uuid.UUID, req model.SyncRequest) (model.SyncResult, error) {
	if !req.Action.Valid() || req.BookingID == uuid.Nil || req.VenueID == uuid.Nil {
		return model.SyncResult{}, errors.New("validation: action/booking_id/venue_id")
	}

	// Membership gates everything below: no booking data is read before
	// this check passes.
	ok, err := s.venues.IsMember(ctx, userID, req.VenueID)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return model.SyncResult{}, errs.ErrForbidden
	}

	booking, err := s.bookings.GetInVenue(ctx, req.BookingID, req.VenueID)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("booking lookup: %w", err)
	}

	cred, err := s.resolveCredential(ctx, booking, userID)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("credential lookup: %w", err)
	}
	if cred == nil {
		s.log.Info("calendar not connected",
			zap.String("venue", mask.ID(req.VenueID.String())),
			zap.String("booking", mask.ID(req.BookingID.String())),
		)
		return model.SyncResult{Synced: false, Reason: model.ReasonNotConnected}, nil
	}

	access, err := s.ensureAccessToken(ctx, cred)
	if err != nil {
		return model.SyncResult{}, err
	}

	res, err := s.execute(ctx, booking, cred, access, req.Action)
	if err != nil {
		return model.SyncResult{}, err
	}
	s.log.Info("calendar sync",
		zap.String("action", string(req.Action)),
		zap.String("booking", mask.ID(req.BookingID.String())),
		zap.String("venue", mask.ID(req.VenueID.String())),
		zap.Bool("synced", res.Synced),
	)
	return res, nil
}

// resolveCredential walks the ordered resolver list: the booking's
// professional, the requesting user, then the venue-wide credential. First
// match wins; nil means the venue has no calendar connection.
func (s *SyncService) resolveCredential(ctx context.Context, b *model.Booking, requester uuid.UUID) (*model.CalendarCredential, error) {
	resolvers := []func(context.Context) (*model.CalendarCredential, error){
		func(ctx context.Context) (*model.CalendarCredential, error) {
			if b.ProfessionalID == nil {
				return nil, errs.ErrNotFound
			}
			proUser, err := s.venues.ProfessionalUserID(ctx, *b.ProfessionalID)
			if err != nil {
				return nil, err
			}
			if proUser == nil {
				return nil, errs.ErrNotFound
			}
			return s.creds.GetForUser(ctx, b.VenueID, *proUser)
		},
		func(ctx context.Context) (*model.CalendarCredential, error) {
			return s.creds.GetForUser(ctx, b.VenueID, requester)
		},
		func(ctx context.Context) (*model.CalendarCredential, error) {
			return s.creds.GetShared(ctx, b.VenueID)
		},
	}

	for _, resolve := range resolvers {
		cred, err := resolve(ctx)
		switch {
		case err == nil:
			return cred, nil
		case errors.Is(err, errs.ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

// ensureAccessToken returns a usable plaintext access token: the stored one
// when it is fresh enough, otherwise the result of a refresh grant persisted
// back onto the credential row.
func (s *SyncService) ensureAccessToken(ctx context.Context, cred *model.CalendarCredential) (string, error) {
	access, accessLegacy, err := s.decryptStored(cred.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, refreshLegacy, err := s.decryptStored(cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	if accessLegacy || refreshLegacy {
		s.upgradeLegacy(cred.ID, access, refresh, cred.TokenExpiresAt)
	}

	if cred.TokenExpiresAt.After(s.now().Add(refreshSkew)) {
		return access, nil
	}

	tok, err := s.provider.RefreshToken(ctx, refresh)
	if err != nil {
		return "", err
	}
	newRefresh := refresh
	if tok.RefreshToken != "" {
		newRefresh = tok.RefreshToken
	}
	accessEnc, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.cipher.Encrypt(newRefresh)
	if err != nil {
		return "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	if err := s.creds.UpdateTokens(ctx, cred.ID, accessEnc, refreshEnc, tok.Expiry); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}
	return tok.AccessToken, nil
}

// decryptStored opens a stored token value, trying the per-record-salt
// format first and falling back to the legacy fixed-salt format. Length
// classification only picks the first path to try: a legacy blob long
// enough to land in the new-format range still recovers via the fallback.
// The second return value reports whether the value needs re-encryption.
func (s *SyncService) decryptStored(value string) (string, bool, error) {
	switch {
	case tokencipher.IsEncrypted(value):
		plain, err := s.cipher.Decrypt(value)
		if err == nil {
			return plain, false, nil
		}
		if errors.Is(err, tokencipher.ErrAuthentication) {
			if legacyPlain, lerr := s.cipher.DecryptLegacy(value); lerr == nil {
				return legacyPlain, true, nil
			}
		}
		return "", false, err
	case tokencipher.IsLegacyEncrypted(value):
		plain, err := s.cipher.DecryptLegacy(value)
		if err != nil {
			return "", false, err
		}
		return plain, true, nil
	default:
		return "", false, tokencipher.ErrMalformed
	}
}

// upgradeLegacy re-encrypts a credential recovered from the legacy format
// with fresh salts. Detached: the in-flight sync never waits on it and its
// failure only logs — the next read of the same record retries naturally.
func (s *SyncService) upgradeLegacy(credID uuid.UUID, access, refresh string, expiresAt time.Time) {
	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := func() error {
			accessEnc, err := s.cipher.Encrypt(access)
			if err != nil {
				return err
			}
			refreshEnc, err := s.cipher.Encrypt(refresh)
			if err != nil {
				return err
			}
			return s.creds.UpdateTokens(ctx, credID, accessEnc, refreshEnc, expiresAt)
		}()
		if err != nil {
			s.log.Warn("legacy token upgrade failed",
				zap.String("credential", mask.ID(credID.String())),
				zap.Error(err),
			)
			return
		}
		s.log.Info("legacy token upgraded", zap.String("credential", mask.ID(credID.String())))
	})
}

func (s *SyncService) execute(ctx context.Context, b *model.Booking, cred *model.CalendarCredential, access string, action model.SyncAction) (model.SyncResult, error) {
	calID := cred.CalendarID
	if calID == "" {
		calID = calendar.DefaultCalendarID
	}

	switch action {
	case model.ActionCreate:
		return s.createEvent(ctx, b, access, calID)

	case model.ActionUpdate:
		// An update on a never-synced booking creates the event instead.
		if b.GoogleEventID == "" {
			return s.createEvent(ctx, b, access, calID)
		}
		id, err := s.provider.UpdateEvent(ctx, access, calID, b.GoogleEventID, buildEvent(b))
		if err != nil {
			return model.SyncResult{}, err
		}
		return model.SyncResult{Synced: true, EventID: id}, nil

	case model.ActionDelete:
		if b.GoogleEventID == "" {
			return model.SyncResult{Synced: false}, nil
		}
		if err := s.provider.DeleteEvent(ctx, access, calID, b.GoogleEventID); err != nil {
			return model.SyncResult{}, err
		}
		if err := s.bookings.ClearEventID(ctx, b.ID); err != nil {
			return model.SyncResult{}, fmt.Errorf("clear event id: %w", err)
		}
		return model.SyncResult{Synced: true}, nil
	}
	return model.SyncResult{}, fmt.Errorf("unknown action %q", action)
}

func (s *SyncService) createEvent(ctx context.Context, b *model.Booking, access, calID string) (model.SyncResult, error) {
	id, err := s.provider.InsertEvent(ctx, access, calID, buildEvent(b))
	if err != nil {
		return model.SyncResult{}, err
	}
	if err := s.bookings.SetEventID(ctx, b.ID, id); err != nil {
		return model.SyncResult{}, fmt.Errorf("persist event id: %w", err)
	}
	return model.SyncResult{Synced: true, EventID: id}, nil
}

// buildEvent renders a booking as a calendar event. Optional contact lines
// appear only when present.
func buildEvent(b *model.Booking) *calendar.Event {
	summary := b.CustomerName
	if b.SpaceName != "" {
		summary = b.CustomerName + " - " + b.SpaceName
	}
	var lines []string
	if b.VenueName != "" {
		lines = append(lines, "Venue: "+b.VenueName)
	}
	if b.CustomerPhone != "" {
		lines = append(lines, "Phone: "+b.CustomerPhone)
	}
	if b.CustomerEmail != "" {
		lines = append(lines, "Email: "+b.CustomerEmail)
	}
	if b.Notes != "" {
		lines = append(lines, "Notes: "+b.Notes)
	}
	return &calendar.Event{
		Summary:     summary,
		Description: strings.Join(lines, "\n"),
		Start:       b.StartTime,
		End:         b.EndTime,
	}
}
