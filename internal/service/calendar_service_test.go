package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/timeslot"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
)

type linkRepoStub struct {
	link    *models.ExternalCalendarLink
	mapping *models.SyncMapping

	updatedTokens  *models.ExternalCalendarLink
	revoked        []string
	upsertedMap    *models.SyncMapping
	upsertedLink   *models.ExternalCalendarLink
	mappingLookups int
}

func (s *linkRepoStub) GetLinkByUser(ctx context.Context, userID string) (*models.ExternalCalendarLink, error) {
	if s.link == nil {
		return nil, sql.ErrNoRows
	}
	copied := *s.link
	return &copied, nil
}

func (s *linkRepoStub) UpsertLink(ctx context.Context, link *models.ExternalCalendarLink) error {
	s.upsertedLink = link
	return nil
}

func (s *linkRepoStub) UpdateTokens(ctx context.Context, linkID, accessToken, refreshToken string, expiresAt time.Time) error {
	s.updatedTokens = &models.ExternalCalendarLink{
		ID:           linkID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
	return nil
}

func (s *linkRepoStub) RevokeLink(ctx context.Context, userID string) error {
	s.revoked = append(s.revoked, userID)
	return nil
}

func (s *linkRepoStub) GetMappingByBooking(ctx context.Context, bookingID string) (*models.SyncMapping, error) {
	s.mappingLookups++
	if s.mapping == nil {
		return nil, sql.ErrNoRows
	}
	copied := *s.mapping
	return &copied, nil
}

func (s *linkRepoStub) UpsertMapping(ctx context.Context, mapping *models.SyncMapping) error {
	s.upsertedMap = mapping
	return nil
}

type providerStub struct {
	busy       []timeslot.Interval
	busyErr    error
	refreshed  *TokenSet
	refreshErr error
	eventID    string
	upsertErr  error
	deleteErr  error

	freeBusyToken string
	upsertedEvent *CalendarEvent
	upsertedExtID string
	deletedExtID  string
}

func (s *providerStub) FreeBusy(ctx context.Context, accessToken string, window timeslot.Interval) ([]timeslot.Interval, error) {
	s.freeBusyToken = accessToken
	return s.busy, s.busyErr
}

func (s *providerStub) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return s.refreshed, s.refreshErr
}

func (s *providerStub) UpsertEvent(ctx context.Context, accessToken, externalEventID string, event CalendarEvent) (string, error) {
	s.upsertedEvent = &event
	s.upsertedExtID = externalEventID
	if s.upsertErr != nil {
		return "", s.upsertErr
	}
	return s.eventID, nil
}

func (s *providerStub) DeleteEvent(ctx context.Context, accessToken, externalEventID string) error {
	s.deletedExtID = externalEventID
	return s.deleteErr
}

type syncBookingStub struct {
	booking *models.Booking
}

func (s syncBookingStub) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	if s.booking == nil {
		return nil, sql.ErrNoRows
	}
	return s.booking, nil
}

func freshLink() *models.ExternalCalendarLink {
	return &models.ExternalCalendarLink{
		ID:           "link-1",
		UserID:       "agent-1",
		Provider:     "google",
		AccessToken:  "live-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}
}

func expiredLink() *models.ExternalCalendarLink {
	link := freshLink()
	link.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	return link
}

func syncWindow() timeslot.Interval {
	return timeslot.Interval{Start: testMonday.Add(9 * time.Hour), End: testMonday.Add(17 * time.Hour)}
}

func TestBusyIntervalsNoLinkIsNotDegraded(t *testing.T) {
	svc := NewCalendarService(&linkRepoStub{}, syncBookingStub{}, &providerStub{}, nil, nil, true)

	busy, degraded := svc.BusyIntervals(context.Background(), "agent-1", syncWindow())
	assert.Nil(t, busy)
	assert.False(t, degraded)
}

func TestBusyIntervalsDisabledBridgeIsSilent(t *testing.T) {
	provider := &providerStub{busyErr: errors.New("should not be called")}
	svc := NewCalendarService(&linkRepoStub{link: freshLink()}, syncBookingStub{}, provider, nil, nil, false)

	busy, degraded := svc.BusyIntervals(context.Background(), "agent-1", syncWindow())
	assert.Nil(t, busy)
	assert.False(t, degraded)
	assert.Empty(t, provider.freeBusyToken)
}

func TestBusyIntervalsReadsProvider(t *testing.T) {
	window := timeslot.Interval{Start: testMonday.Add(10 * time.Hour), End: testMonday.Add(11 * time.Hour)}
	provider := &providerStub{busy: []timeslot.Interval{window}}
	svc := NewCalendarService(&linkRepoStub{link: freshLink()}, syncBookingStub{}, provider, nil, nil, true)

	busy, degraded := svc.BusyIntervals(context.Background(), "agent-1", syncWindow())
	assert.False(t, degraded)
	require.Len(t, busy, 1)
	assert.Equal(t, window, busy[0])
	assert.Equal(t, "live-token", provider.freeBusyToken)
}

func TestBusyIntervalsProviderFailureDegrades(t *testing.T) {
	provider := &providerStub{busyErr: errors.New("upstream 503")}
	svc := NewCalendarService(&linkRepoStub{link: freshLink()}, syncBookingStub{}, provider, nil, nil, true)

	busy, degraded := svc.BusyIntervals(context.Background(), "agent-1", syncWindow())
	assert.Nil(t, busy)
	assert.True(t, degraded)
}

func TestBusyIntervalsRefreshesExpiredToken(t *testing.T) {
	repo := &linkRepoStub{link: expiredLink()}
	provider := &providerStub{refreshed: &TokenSet{
		AccessToken:  "new-token",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	_, degraded := svc.BusyIntervals(context.Background(), "agent-1", syncWindow())
	assert.False(t, degraded)
	assert.Equal(t, "new-token", provider.freeBusyToken)

	require.NotNil(t, repo.updatedTokens)
	assert.Equal(t, "link-1", repo.updatedTokens.ID)
	assert.Equal(t, "new-refresh", repo.updatedTokens.RefreshToken)
}

func TestBusyIntervalsRefreshFailureRevokesLink(t *testing.T) {
	repo := &linkRepoStub{link: expiredLink()}
	provider := &providerStub{refreshErr: errors.New("invalid_grant")}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	_, degraded := svc.BusyIntervals(context.Background(), "agent-1", syncWindow())
	assert.True(t, degraded)
	assert.Equal(t, []string{"agent-1"}, repo.revoked)
}

func TestPushBookingRecordsSyncedMapping(t *testing.T) {
	repo := &linkRepoStub{link: freshLink()}
	provider := &providerStub{eventID: "evt-42"}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	err := svc.PushBooking(context.Background(), confirmedBooking())
	require.NoError(t, err)

	require.NotNil(t, repo.upsertedMap)
	assert.Equal(t, models.SyncSynced, repo.upsertedMap.SyncStatus)
	require.NotNil(t, repo.upsertedMap.ExternalEventID)
	assert.Equal(t, "evt-42", *repo.upsertedMap.ExternalEventID)
	assert.Nil(t, repo.upsertedMap.SyncError)
	assert.NotNil(t, repo.upsertedMap.LastSyncedAt)

	require.NotNil(t, provider.upsertedEvent)
	assert.Equal(t, testMonday.Add(10*time.Hour), provider.upsertedEvent.Start)
}

func TestPushBookingReusesExternalEventID(t *testing.T) {
	existing := "evt-old"
	repo := &linkRepoStub{
		link: freshLink(),
		mapping: &models.SyncMapping{
			BookingID:       "b-1",
			LinkID:          "link-1",
			ExternalEventID: &existing,
			SyncStatus:      models.SyncSynced,
		},
	}
	provider := &providerStub{eventID: "evt-old"}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	require.NoError(t, svc.PushBooking(context.Background(), confirmedBooking()))
	assert.Equal(t, "evt-old", provider.upsertedExtID)
}

func TestPushBookingCancelledRemovesExternalEvent(t *testing.T) {
	existing := "evt-old"
	repo := &linkRepoStub{
		link: freshLink(),
		mapping: &models.SyncMapping{
			BookingID:       "b-1",
			LinkID:          "link-1",
			ExternalEventID: &existing,
			SyncStatus:      models.SyncSynced,
		},
	}
	provider := &providerStub{}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	booking := confirmedBooking()
	booking.Status = models.StatusCancelled

	require.NoError(t, svc.PushBooking(context.Background(), booking))
	assert.Equal(t, "evt-old", provider.deletedExtID)
	assert.Nil(t, provider.upsertedEvent)

	require.NotNil(t, repo.upsertedMap)
	assert.Equal(t, models.SyncSynced, repo.upsertedMap.SyncStatus)
	assert.Nil(t, repo.upsertedMap.ExternalEventID)
	assert.Nil(t, repo.upsertedMap.SyncError)
	assert.NotNil(t, repo.upsertedMap.LastSyncedAt)
}

func TestPushBookingCancelledWithoutMirrorIsNoOp(t *testing.T) {
	repo := &linkRepoStub{link: freshLink()}
	provider := &providerStub{}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	booking := confirmedBooking()
	booking.Status = models.StatusCancelled

	require.NoError(t, svc.PushBooking(context.Background(), booking))
	assert.Empty(t, provider.deletedExtID)
	assert.Nil(t, provider.upsertedEvent)
	assert.Nil(t, repo.upsertedMap)
}

func TestPushBookingDeleteFailureRecordsError(t *testing.T) {
	existing := "evt-old"
	repo := &linkRepoStub{
		link: freshLink(),
		mapping: &models.SyncMapping{
			BookingID:       "b-1",
			LinkID:          "link-1",
			ExternalEventID: &existing,
			SyncStatus:      models.SyncSynced,
		},
	}
	provider := &providerStub{deleteErr: errors.New("upstream 500")}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	booking := confirmedBooking()
	booking.Status = models.StatusCancelled

	err := svc.PushBooking(context.Background(), booking)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSyncFailure.Code, appErrors.FromError(err).Code)

	require.NotNil(t, repo.upsertedMap)
	assert.Equal(t, models.SyncError, repo.upsertedMap.SyncStatus)
	require.NotNil(t, repo.upsertedMap.SyncError)
	assert.Contains(t, *repo.upsertedMap.SyncError, "upstream 500")
}

func TestPushBookingUpsertFailureRecordsError(t *testing.T) {
	repo := &linkRepoStub{link: freshLink()}
	provider := &providerStub{upsertErr: errors.New("quota exceeded")}
	svc := NewCalendarService(repo, syncBookingStub{}, provider, nil, nil, true)

	err := svc.PushBooking(context.Background(), confirmedBooking())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSyncFailure.Code, appErrors.FromError(err).Code)

	require.NotNil(t, repo.upsertedMap)
	assert.Equal(t, models.SyncError, repo.upsertedMap.SyncStatus)
	require.NotNil(t, repo.upsertedMap.SyncError)
	assert.Contains(t, *repo.upsertedMap.SyncError, "quota exceeded")
}

func TestPushBookingNoLinkIsNoOp(t *testing.T) {
	repo := &linkRepoStub{}
	svc := NewCalendarService(repo, syncBookingStub{}, &providerStub{}, nil, nil, true)

	require.NoError(t, svc.PushBooking(context.Background(), confirmedBooking()))
	assert.Zero(t, repo.mappingLookups)
	assert.Nil(t, repo.upsertedMap)
}

func TestLinkCalendarRequiresTokens(t *testing.T) {
	svc := NewCalendarService(&linkRepoStub{}, syncBookingStub{}, &providerStub{}, nil, nil, true)

	_, err := svc.LinkCalendar(context.Background(), "agent-1", "google", "", "", "calendar.events", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGetLinkNotFound(t *testing.T) {
	svc := NewCalendarService(&linkRepoStub{}, syncBookingStub{}, &providerStub{}, nil, nil, true)

	_, err := svc.GetLink(context.Background(), "agent-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
