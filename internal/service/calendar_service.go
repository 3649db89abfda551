package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/timeslot"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
	"github.com/hearthview/tours-api/pkg/jobs"
)

// JobTypeCalendarSync is the queued job kind for lazy booking pushes.
const JobTypeCalendarSync = "calendar_sync"

type calendarLinkRepository interface {
	GetLinkByUser(ctx context.Context, userID string) (*models.ExternalCalendarLink, error)
	UpsertLink(ctx context.Context, link *models.ExternalCalendarLink) error
	UpdateTokens(ctx context.Context, linkID, accessToken, refreshToken string, expiresAt time.Time) error
	RevokeLink(ctx context.Context, userID string) error
	GetMappingByBooking(ctx context.Context, bookingID string) (*models.SyncMapping, error)
	UpsertMapping(ctx context.Context, mapping *models.SyncMapping) error
}

type syncBookingReader interface {
	FindByID(ctx context.Context, id string) (*models.Booking, error)
}

// CalendarService bridges the scheduler to external calendars. Reads are
// best-effort: any failure degrades the availability picture instead of
// failing the caller. Writes go through the sync queue and record their
// outcome on the booking's SyncMapping.
type CalendarService struct {
	repo     calendarLinkRepository
	bookings syncBookingReader
	provider CalendarProvider
	queue    *jobs.Queue
	metrics  *MetricsService
	logger   *zap.Logger
	enabled  bool
}

// NewCalendarService constructs a CalendarService. The sync queue is attached
// afterwards via AttachQueue because the queue's handler is this service.
func NewCalendarService(repo calendarLinkRepository, bookings syncBookingReader, provider CalendarProvider, metrics *MetricsService, logger *zap.Logger, enabled bool) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{
		repo:     repo,
		bookings: bookings,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		enabled:  enabled,
	}
}

// AttachQueue wires the background sync queue.
func (s *CalendarService) AttachQueue(queue *jobs.Queue) {
	s.queue = queue
}

// LinkCalendar stores a user's calendar credential.
func (s *CalendarService) LinkCalendar(ctx context.Context, userID, provider, accessToken, refreshToken, scope string, expiresAt time.Time) (*models.ExternalCalendarLink, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "access and refresh tokens are required")
	}
	link := &models.ExternalCalendarLink{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scope:        scope,
		ExpiresAt:    expiresAt.UTC(),
	}
	if err := s.repo.UpsertLink(ctx, link); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store calendar link")
	}
	return link, nil
}

// UnlinkCalendar revokes a user's stored credential.
func (s *CalendarService) UnlinkCalendar(ctx context.Context, userID string) error {
	if err := s.repo.RevokeLink(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke calendar link")
	}
	return nil
}

// GetLink returns the user's active calendar link, or ErrNotFound.
func (s *CalendarService) GetLink(ctx context.Context, userID string) (*models.ExternalCalendarLink, error) {
	link, err := s.repo.GetLinkByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no calendar linked")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch calendar link")
	}
	return link, nil
}

// BusyIntervals reads the external busy windows for a user. The degraded flag
// is true whenever a linked calendar could not be consulted; no link at all is
// not degradation.
func (s *CalendarService) BusyIntervals(ctx context.Context, userID string, window timeslot.Interval) (busy []timeslot.Interval, degraded bool) {
	if !s.enabled || s.provider == nil {
		return nil, false
	}

	link, err := s.repo.GetLinkByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false
		}
		s.logger.Sugar().Warnw("calendar link lookup failed", "user_id", userID, "error", err)
		return nil, true
	}

	token, err := s.freshAccessToken(ctx, link)
	if err != nil {
		s.logger.Sugar().Warnw("calendar token refresh failed", "user_id", userID, "error", err)
		return nil, true
	}

	busy, err = s.provider.FreeBusy(ctx, token, window)
	if err != nil {
		s.logger.Sugar().Warnw("calendar freebusy read failed", "user_id", userID, "error", err)
		return nil, true
	}
	return busy, false
}

// EnqueueSync schedules a lazy push of the booking to the agent's calendar.
// Missing queue or disabled bridge is a silent no-op.
func (s *CalendarService) EnqueueSync(bookingID string) {
	if !s.enabled || s.queue == nil {
		return
	}
	job := jobs.Job{ID: bookingID, Type: JobTypeCalendarSync, Payload: bookingID}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Sugar().Warnw("failed to enqueue calendar sync", "booking_id", bookingID, "error", err)
	}
}

// HandleSyncJob is the queue handler performing the actual push.
func (s *CalendarService) HandleSyncJob(ctx context.Context, job jobs.Job) error {
	bookingID, ok := job.Payload.(string)
	if !ok || bookingID == "" {
		return fmt.Errorf("calendar sync job missing booking id")
	}

	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load booking for sync: %w", err)
	}
	return s.PushBooking(ctx, booking)
}

// PushBooking mirrors the booking's active interval onto the agent's external
// calendar, removing the mirror when the booking no longer occupies its slot,
// and records the result on the sync mapping.
func (s *CalendarService) PushBooking(ctx context.Context, booking *models.Booking) error {
	if !s.enabled || s.provider == nil {
		return nil
	}

	link, err := s.repo.GetLinkByUser(ctx, booking.AgentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load calendar link: %w", err)
	}

	mapping, err := s.repo.GetMappingByBooking(ctx, booking.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load sync mapping: %w", err)
	}
	if mapping == nil {
		mapping = &models.SyncMapping{BookingID: booking.ID, LinkID: link.ID, SyncStatus: models.SyncPending}
	}

	token, err := s.freshAccessToken(ctx, link)
	if err != nil {
		return s.recordSyncFailure(ctx, mapping, err)
	}

	// A booking that no longer holds its slot must disappear from the
	// external calendar, not linger as a live event.
	if !booking.Occupies() {
		if mapping.ExternalEventID == nil {
			return nil
		}
		if err := s.provider.DeleteEvent(ctx, token, *mapping.ExternalEventID); err != nil {
			return s.recordSyncFailure(ctx, mapping, err)
		}
		now := time.Now().UTC()
		mapping.ExternalEventID = nil
		mapping.SyncStatus = models.SyncSynced
		mapping.SyncError = nil
		mapping.LastSyncedAt = &now
		if err := s.repo.UpsertMapping(ctx, mapping); err != nil {
			return fmt.Errorf("store sync mapping: %w", err)
		}
		if s.metrics != nil {
			s.metrics.CountSyncResult("deleted")
		}
		return nil
	}

	interval := booking.ActiveInterval()
	event := CalendarEvent{
		Title:       fmt.Sprintf("Property tour (%s)", booking.BookingType),
		Description: fmt.Sprintf("Tour booking %s, property %s", booking.ID, booking.PropertyID),
		Start:       interval.Start,
		End:         interval.End,
	}
	if booking.IsVirtual && booking.MeetingLink != nil {
		event.Location = *booking.MeetingLink
	}

	externalID := ""
	if mapping.ExternalEventID != nil {
		externalID = *mapping.ExternalEventID
	}

	eventID, err := s.provider.UpsertEvent(ctx, token, externalID, event)
	if err != nil {
		return s.recordSyncFailure(ctx, mapping, err)
	}

	now := time.Now().UTC()
	mapping.ExternalEventID = &eventID
	mapping.SyncStatus = models.SyncSynced
	mapping.SyncError = nil
	mapping.LastSyncedAt = &now
	if err := s.repo.UpsertMapping(ctx, mapping); err != nil {
		return fmt.Errorf("store sync mapping: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CountSyncResult("synced")
	}
	return nil
}

// freshAccessToken returns a usable access token, refreshing transparently
// when expired. A failed refresh revokes the link so the caller degrades
// instead of retrying a dead credential.
func (s *CalendarService) freshAccessToken(ctx context.Context, link *models.ExternalCalendarLink) (string, error) {
	if !link.Expired(time.Now().UTC()) {
		return link.AccessToken, nil
	}

	refreshed, err := s.provider.RefreshToken(ctx, link.RefreshToken)
	if err != nil {
		if revokeErr := s.repo.RevokeLink(ctx, link.UserID); revokeErr != nil {
			s.logger.Sugar().Warnw("failed to revoke dead calendar link", "user_id", link.UserID, "error", revokeErr)
		}
		return "", appErrors.Wrap(err, appErrors.ErrSyncFailure.Code, appErrors.ErrSyncFailure.Status, "calendar token refresh failed")
	}

	if err := s.repo.UpdateTokens(ctx, link.ID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
		s.logger.Sugar().Warnw("failed to persist refreshed tokens", "link_id", link.ID, "error", err)
	}
	link.AccessToken = refreshed.AccessToken
	link.RefreshToken = refreshed.RefreshToken
	link.ExpiresAt = refreshed.ExpiresAt
	return refreshed.AccessToken, nil
}

func (s *CalendarService) recordSyncFailure(ctx context.Context, mapping *models.SyncMapping, cause error) error {
	msg := cause.Error()
	mapping.SyncStatus = models.SyncError
	mapping.SyncError = &msg
	if err := s.repo.UpsertMapping(ctx, mapping); err != nil {
		s.logger.Sugar().Errorw("failed to store sync failure", "booking_id", mapping.BookingID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.CountSyncResult("error")
	}
	return appErrors.Wrap(cause, appErrors.ErrSyncFailure.Code, appErrors.ErrSyncFailure.Status, "external calendar sync failed")
}
