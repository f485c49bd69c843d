package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/venuehq/calsync/internal/calendar"
	"github.com/venuehq/calsync/internal/crypto/tokencipher"
	"github.com/venuehq/calsync/internal/errs"
	"github.com/venuehq/calsync/internal/model"
	"github.com/venuehq/calsync/internal/repository"
)

/************ fakes ************/

type fakeBookings struct {
	bookings map[uuid.UUID]*model.Booking // keyed by booking id; venue checked on read

	setCalls   int
	clearCalls int
	setErr     error
}

var _ repository.BookingRepository = (*fakeBookings)(nil)

func (f *fakeBookings) GetInVenue(_ context.Context, bookingID, venueID uuid.UUID) (*model.Booking, error) {
	b, ok := f.bookings[bookingID]
	if !ok || b.VenueID != venueID {
		return nil, errs.ErrNotFound
	}
	cpy := *b
	return &cpy, nil
}

func (f *fakeBookings) SetEventID(_ context.Context, bookingID uuid.UUID, eventID string) error {
	if f.setErr != nil {
		return f.setErr
	}
	b, ok := f.bookings[bookingID]
	if !ok {
		return errs.ErrNotFound
	}
	f.setCalls++
	b.GoogleEventID = eventID
	return nil
}

func (f *fakeBookings) ClearEventID(_ context.Context, bookingID uuid.UUID) error {
	b, ok := f.bookings[bookingID]
	if !ok {
		return errs.ErrNotFound
	}
	f.clearCalls++
	b.GoogleEventID = ""
	return nil
}

type credKey struct {
	venue uuid.UUID
	user  uuid.UUID
}

type credUpdate struct {
	id                    uuid.UUID
	accessEnc, refreshEnc string
	expiresAt             time.Time
}

type fakeCreds struct {
	byUser map[credKey]*model.CalendarCredential
	shared map[uuid.UUID]*model.CalendarCredential

	updates   []credUpdate
	updateErr error
}

var _ repository.CredentialRepository = (*fakeCreds)(nil)

func (f *fakeCreds) GetForUser(_ context.Context, venueID, userID uuid.UUID) (*model.CalendarCredential, error) {
	c, ok := f.byUser[credKey{venueID, userID}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *c
	return &cpy, nil
}

func (f *fakeCreds) GetShared(_ context.Context, venueID uuid.UUID) (*model.CalendarCredential, error) {
	c, ok := f.shared[venueID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *c
	return &cpy, nil
}

func (f *fakeCreds) UpdateTokens(_ context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, credUpdate{id, accessEnc, refreshEnc, expiresAt})
	return nil
}

type memberKey struct {
	user  uuid.UUID
	venue uuid.UUID
}

type fakeVenues struct {
	members   map[memberKey]bool
	proUsers  map[uuid.UUID]*uuid.UUID
	memberErr error
}

var _ repository.VenueRepository = (*fakeVenues)(nil)

func (f *fakeVenues) IsMember(_ context.Context, userID, venueID uuid.UUID) (bool, error) {
	if f.memberErr != nil {
		return false, f.memberErr
	}
	return f.members[memberKey{userID, venueID}], nil
}

func (f *fakeVenues) ProfessionalUserID(_ context.Context, professionalID uuid.UUID) (*uuid.UUID, error) {
	u, ok := f.proUsers[professionalID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

type eventCall struct {
	access     string
	calendarID string
	eventID    string
	ev         *calendar.Event
}

type fakeProvider struct {
	refreshCalls int
	refreshTok   *calendar.Token
	refreshErr   error

	inserts   []eventCall
	insertID  string
	insertErr error

	updates   []eventCall
	updateErr error

	deletes   []eventCall
	deleteErr error
}

var _ calendar.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) RefreshToken(_ context.Context, refreshToken string) (*calendar.Token, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshTok, nil
}

func (f *fakeProvider) InsertEvent(_ context.Context, access, calendarID string, ev *calendar.Event) (string, error) {
	f.inserts = append(f.inserts, eventCall{access: access, calendarID: calendarID, ev: ev})
	if f.insertErr != nil {
		return "", f.insertErr
	}
	return f.insertID, nil
}

func (f *fakeProvider) UpdateEvent(_ context.Context, access, calendarID, eventID string, ev *calendar.Event) (string, error) {
	f.updates = append(f.updates, eventCall{access: access, calendarID: calendarID, eventID: eventID, ev: ev})
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return eventID, nil
}

func (f *fakeProvider) DeleteEvent(_ context.Context, access, calendarID, eventID string) error {
	f.deletes = append(f.deletes, eventCall{access: access, calendarID: calendarID, eventID: eventID})
	return f.deleteErr
}

/************ fixture ************/

type fixture struct {
	svc      *SyncService
	bookings *fakeBookings
	creds    *fakeCreds
	venues   *fakeVenues
	provider *fakeProvider
	cipher   *tokencipher.Cipher

	userID  uuid.UUID
	venueID uuid.UUID
	booking *model.Booking
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipher, err := tokencipher.New("test-passphrase")
	if err != nil {
		t.Fatalf("tokencipher.New: %v", err)
	}

	userID := uuid.Must(uuid.NewV4())
	venueID := uuid.Must(uuid.NewV4())
	booking := &model.Booking{
		ID:            uuid.Must(uuid.NewV4()),
		VenueID:       venueID,
		CustomerName:  "Jane Doe",
		CustomerPhone: "+15550001122",
		StartTime:     time.Now().Add(24 * time.Hour),
		EndTime:       time.Now().Add(25 * time.Hour),
		SpaceName:     "Room A",
		VenueName:     "Studio North",
	}

	f := &fixture{
		bookings: &fakeBookings{bookings: map[uuid.UUID]*model.Booking{booking.ID: booking}},
		creds:    &fakeCreds{byUser: map[credKey]*model.CalendarCredential{}, shared: map[uuid.UUID]*model.CalendarCredential{}},
		venues:   &fakeVenues{members: map[memberKey]bool{{userID, venueID}: true}, proUsers: map[uuid.UUID]*uuid.UUID{}},
		provider: &fakeProvider{insertID: "evt_new"},
		cipher:   cipher,
		userID:   userID,
		venueID:  venueID,
		booking:  booking,
	}
	f.svc = NewSyncService(f.bookings, f.creds, f.venues, f.provider, cipher, zaptest.NewLogger(t))
	f.svc.background = func(fn func()) { fn() } // run detached work inline in tests
	return f
}

// addSharedCred stores a venue-wide credential with encrypted tokens expiring
// at the given offset from now.
func (f *fixture) addSharedCred(t *testing.T, expiresIn time.Duration, calendarID string) *model.CalendarCredential {
	t.Helper()
	accessEnc, err := f.cipher.Encrypt("plain-access")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	refreshEnc, err := f.cipher.Encrypt("plain-refresh")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	cred := &model.CalendarCredential{
		ID:             uuid.Must(uuid.NewV4()),
		VenueID:        f.venueID,
		AccessToken:    accessEnc,
		RefreshToken:   refreshEnc,
		TokenExpiresAt: time.Now().Add(expiresIn),
		CalendarID:     calendarID,
	}
	f.creds.shared[f.venueID] = cred
	return cred
}

func (f *fixture) request(action model.SyncAction) model.SyncRequest {
	return model.SyncRequest{Action: action, BookingID: f.booking.ID, VenueID: f.venueID}
}

/************ tests ************/

func TestSync_InvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Sync(context.Background(), f.userID, model.SyncRequest{Action: "upsert", BookingID: f.booking.ID, VenueID: f.venueID})
	if err == nil {
		t.Fatalf("want validation error")
	}
}

func TestSync_NotMember_Forbidden(t *testing.T) {
	f := newFixture(t)
	outsider := uuid.Must(uuid.NewV4())

	_, err := f.svc.Sync(context.Background(), outsider, f.request(model.ActionCreate))
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
	if len(f.provider.inserts) != 0 {
		t.Fatalf("provider called for forbidden request")
	}
}

func TestSync_BookingFromAnotherVenue_NotFound(t *testing.T) {
	f := newFixture(t)

	// The caller is a member of venue B; the booking belongs to venue A.
	// Requesting it under venue B must 404, never sync.
	venueB := uuid.Must(uuid.NewV4())
	f.venues.members[memberKey{f.userID, venueB}] = true
	f.addSharedCred(t, time.Hour, "")

	req := model.SyncRequest{Action: model.ActionCreate, BookingID: f.booking.ID, VenueID: venueB}
	_, err := f.svc.Sync(context.Background(), f.userID, req)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if len(f.provider.inserts) != 0 {
		t.Fatalf("cross-venue booking reached the provider")
	}
}

func TestSync_NoCredential_NotConnected(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Synced || res.Reason != model.ReasonNotConnected {
		t.Fatalf("res=%+v, want not_connected", res)
	}
}

func TestSync_CredentialPriority_ProfessionalWins(t *testing.T) {
	f := newFixture(t)

	proID := uuid.Must(uuid.NewV4())
	proUserID := uuid.Must(uuid.NewV4())
	f.booking.ProfessionalID = &proID
	f.venues.proUsers[proID] = &proUserID

	f.addSharedCred(t, time.Hour, "shared-cal")
	accessEnc, _ := f.cipher.Encrypt("pro-access")
	refreshEnc, _ := f.cipher.Encrypt("pro-refresh")
	f.creds.byUser[credKey{f.venueID, proUserID}] = &model.CalendarCredential{
		ID:             uuid.Must(uuid.NewV4()),
		VenueID:        f.venueID,
		UserID:         &proUserID,
		AccessToken:    accessEnc,
		RefreshToken:   refreshEnc,
		TokenExpiresAt: time.Now().Add(time.Hour),
		CalendarID:     "pro-cal",
	}

	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Synced || res.EventID != "evt_new" {
		t.Fatalf("res=%+v", res)
	}
	if len(f.provider.inserts) != 1 || f.provider.inserts[0].calendarID != "pro-cal" {
		t.Fatalf("inserts=%+v, want professional calendar", f.provider.inserts)
	}
	if f.provider.inserts[0].access != "pro-access" {
		t.Fatalf("used wrong credential's token")
	}
}

func TestSync_RequesterCredentialBeforeShared(t *testing.T) {
	f := newFixture(t)

	f.addSharedCred(t, time.Hour, "shared-cal")
	accessEnc, _ := f.cipher.Encrypt("mine-access")
	refreshEnc, _ := f.cipher.Encrypt("mine-refresh")
	f.creds.byUser[credKey{f.venueID, f.userID}] = &model.CalendarCredential{
		ID:             uuid.Must(uuid.NewV4()),
		VenueID:        f.venueID,
		UserID:         &f.userID,
		AccessToken:    accessEnc,
		RefreshToken:   refreshEnc,
		TokenExpiresAt: time.Now().Add(time.Hour),
		CalendarID:     "mine-cal",
	}

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(f.provider.inserts) != 1 || f.provider.inserts[0].calendarID != "mine-cal" {
		t.Fatalf("inserts=%+v, want requester calendar", f.provider.inserts)
	}
}

func TestSync_FreshToken_NoRefresh(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, 10*time.Minute, "")

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.provider.refreshCalls != 0 {
		t.Fatalf("refreshCalls=%d, want 0", f.provider.refreshCalls)
	}
	if f.provider.inserts[0].access != "plain-access" {
		t.Fatalf("stale token used: %q", f.provider.inserts[0].access)
	}
}

func TestSync_ExpiringToken_RefreshedOnce(t *testing.T) {
	f := newFixture(t)
	cred := f.addSharedCred(t, 2*time.Minute, "")
	newExpiry := time.Now().Add(time.Hour)
	f.provider.refreshTok = &calendar.Token{AccessToken: "fresh-access", Expiry: newExpiry}

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.provider.refreshCalls != 1 {
		t.Fatalf("refreshCalls=%d, want 1", f.provider.refreshCalls)
	}
	if f.provider.inserts[0].access != "fresh-access" {
		t.Fatalf("refreshed token not used: %q", f.provider.inserts[0].access)
	}

	if len(f.creds.updates) != 1 {
		t.Fatalf("updates=%d, want 1", len(f.creds.updates))
	}
	up := f.creds.updates[0]
	if up.id != cred.ID || !up.expiresAt.Equal(newExpiry) {
		t.Fatalf("update=%+v", up)
	}
	gotAccess, err := f.cipher.Decrypt(up.accessEnc)
	if err != nil || gotAccess != "fresh-access" {
		t.Fatalf("persisted access: %q, err=%v", gotAccess, err)
	}
	// Provider did not rotate the refresh token; the old one is re-encrypted.
	gotRefresh, err := f.cipher.Decrypt(up.refreshEnc)
	if err != nil || gotRefresh != "plain-refresh" {
		t.Fatalf("persisted refresh: %q, err=%v", gotRefresh, err)
	}
}

func TestSync_RotatedRefreshTokenPersisted(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, -time.Minute, "")
	f.provider.refreshTok = &calendar.Token{
		AccessToken:  "fresh-access",
		RefreshToken: "rotated-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	gotRefresh, err := f.cipher.Decrypt(f.creds.updates[0].refreshEnc)
	if err != nil || gotRefresh != "rotated-refresh" {
		t.Fatalf("persisted refresh: %q, err=%v", gotRefresh, err)
	}
}

func TestSync_RefreshRejected(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, time.Minute, "")
	f.provider.refreshErr = errs.ErrUpstreamAuth

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if !errors.Is(err, errs.ErrUpstreamAuth) {
		t.Fatalf("err=%v, want ErrUpstreamAuth", err)
	}
}

func TestSync_Create_PersistsEventID(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, time.Hour, "")

	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Synced || res.EventID != "evt_new" {
		t.Fatalf("res=%+v", res)
	}
	if f.booking.GoogleEventID != "evt_new" {
		t.Fatalf("event id not persisted: %q", f.booking.GoogleEventID)
	}

	ev := f.provider.inserts[0].ev
	if ev.Summary != "Jane Doe - Room A" {
		t.Fatalf("summary=%q", ev.Summary)
	}
	if ev.Description != "Venue: Studio North\nPhone: +15550001122" {
		t.Fatalf("description=%q", ev.Description)
	}
}

func TestSync_Update_SelfHeal(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, time.Hour, "")

	// Never-synced booking: update falls back to create.
	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionUpdate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Synced || res.EventID != "evt_new" {
		t.Fatalf("res=%+v", res)
	}
	if len(f.provider.inserts) != 1 || len(f.provider.updates) != 0 {
		t.Fatalf("inserts=%d updates=%d, want 1/0", len(f.provider.inserts), len(f.provider.updates))
	}
	if f.booking.GoogleEventID != "evt_new" {
		t.Fatalf("event id not persisted")
	}

	// Second update goes through the update path.
	res, err = f.svc.Sync(context.Background(), f.userID, f.request(model.ActionUpdate))
	if err != nil {
		t.Fatalf("Sync(2): %v", err)
	}
	if !res.Synced || res.EventID != "evt_new" {
		t.Fatalf("res=%+v", res)
	}
	if len(f.provider.inserts) != 1 || len(f.provider.updates) != 1 {
		t.Fatalf("inserts=%d updates=%d, want 1/1", len(f.provider.inserts), len(f.provider.updates))
	}
}

func TestSync_Delete_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, time.Hour, "")
	f.booking.GoogleEventID = "evt_old"

	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionDelete))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Synced {
		t.Fatalf("res=%+v, want synced", res)
	}
	if len(f.provider.deletes) != 1 || f.provider.deletes[0].eventID != "evt_old" {
		t.Fatalf("deletes=%+v", f.provider.deletes)
	}
	if f.booking.GoogleEventID != "" {
		t.Fatalf("event id not cleared")
	}

	// Second delete is a no-op: no provider call, synced=false.
	res, err = f.svc.Sync(context.Background(), f.userID, f.request(model.ActionDelete))
	if err != nil {
		t.Fatalf("Sync(2): %v", err)
	}
	if res.Synced {
		t.Fatalf("res=%+v, want no-op", res)
	}
	if len(f.provider.deletes) != 1 {
		t.Fatalf("deletes=%d, want 1", len(f.provider.deletes))
	}
}

func TestSync_LegacyTokens_UpgradedInBackground(t *testing.T) {
	f := newFixture(t)

	accessEnc, err := f.cipher.EncryptLegacy("old-access")
	if err != nil {
		t.Fatalf("EncryptLegacy: %v", err)
	}
	refreshEnc, err := f.cipher.EncryptLegacy("old-refresh")
	if err != nil {
		t.Fatalf("EncryptLegacy: %v", err)
	}
	expiry := time.Now().Add(time.Hour)
	cred := &model.CalendarCredential{
		ID:             uuid.Must(uuid.NewV4()),
		VenueID:        f.venueID,
		AccessToken:    accessEnc,
		RefreshToken:   refreshEnc,
		TokenExpiresAt: expiry,
	}
	f.creds.shared[f.venueID] = cred

	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Synced {
		t.Fatalf("res=%+v", res)
	}
	if f.provider.inserts[0].access != "old-access" {
		t.Fatalf("legacy token not recovered: %q", f.provider.inserts[0].access)
	}

	// background runs inline in tests, so the upgrade already happened.
	if len(f.creds.updates) != 1 {
		t.Fatalf("updates=%d, want 1 legacy upgrade", len(f.creds.updates))
	}
	up := f.creds.updates[0]
	if up.id != cred.ID || !up.expiresAt.Equal(expiry) {
		t.Fatalf("update=%+v", up)
	}
	if !tokencipher.IsEncrypted(up.accessEnc) {
		t.Fatalf("upgrade did not use the new format")
	}
	got, err := f.cipher.Decrypt(up.accessEnc)
	if err != nil || got != "old-access" {
		t.Fatalf("upgraded access: %q, err=%v", got, err)
	}
}

func TestSync_LegacyUpgradeFailure_DoesNotFailSync(t *testing.T) {
	f := newFixture(t)

	accessEnc, _ := f.cipher.EncryptLegacy("old-access")
	refreshEnc, _ := f.cipher.EncryptLegacy("old-refresh")
	f.creds.shared[f.venueID] = &model.CalendarCredential{
		ID:             uuid.Must(uuid.NewV4()),
		VenueID:        f.venueID,
		AccessToken:    accessEnc,
		RefreshToken:   refreshEnc,
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
	f.creds.updateErr = errors.New("db down")

	res, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Synced {
		t.Fatalf("res=%+v", res)
	}
}

func TestSync_TamperedToken_Fails(t *testing.T) {
	f := newFixture(t)
	cred := f.addSharedCred(t, time.Hour, "")
	cred.AccessToken = cred.AccessToken[:len(cred.AccessToken)-8] + "AAAAAAA="

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err == nil {
		t.Fatalf("want decrypt failure")
	}
	if len(f.provider.inserts) != 0 {
		t.Fatalf("provider called with undecryptable credential")
	}
}

func TestSync_UpstreamError_Propagates(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, time.Hour, "")
	f.provider.insertErr = errs.ErrUpstream

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("err=%v, want ErrUpstream", err)
	}
}

func TestSync_DefaultCalendarID(t *testing.T) {
	f := newFixture(t)
	f.addSharedCred(t, time.Hour, "")

	_, err := f.svc.Sync(context.Background(), f.userID, f.request(model.ActionCreate))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.provider.inserts[0].calendarID != calendar.DefaultCalendarID {
		t.Fatalf("calendarID=%q, want primary", f.provider.inserts[0].calendarID)
	}
}
