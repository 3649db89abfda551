package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/repository"
	"github.com/hearthview/tours-api/internal/timeslot"
	"github.com/hearthview/tours-api/pkg/config"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
)

type availabilityRepository interface {
	ListRecurring(ctx context.Context, agentID string) ([]models.RecurringAvailability, error)
	GetRecurring(ctx context.Context, id string) (*models.RecurringAvailability, error)
	CreateRecurring(ctx context.Context, row *models.RecurringAvailability) error
	UpdateRecurring(ctx context.Context, row *models.RecurringAvailability) error
	DeleteRecurring(ctx context.Context, id string) error
	ListBlocked(ctx context.Context, agentID string, from, to time.Time) ([]models.BlockedTime, error)
	CreateBlocked(ctx context.Context, row *models.BlockedTime) error
	DeleteBlocked(ctx context.Context, id, agentID string) error
}

type occupyingBookingReader interface {
	ListOccupyingForAgentDay(ctx context.Context, agentID string, day time.Time) ([]models.Booking, error)
}

type availabilityCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type externalBusyReader interface {
	BusyIntervals(ctx context.Context, userID string, window timeslot.Interval) ([]timeslot.Interval, bool)
}

// AvailabilityService resolves an agent's bookable slots for a day and
// manages the underlying recurring windows and blocked times.
type AvailabilityService struct {
	repo      availabilityRepository
	bookings  occupyingBookingReader
	cache     availabilityCache
	bridge    externalBusyReader
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    config.ToursConfig
}

// NewAvailabilityService constructs an AvailabilityService instance.
func NewAvailabilityService(
	repo availabilityRepository,
	bookings occupyingBookingReader,
	cache availabilityCache,
	bridge externalBusyReader,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.ToursConfig,
) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSlotDuration <= 0 {
		cfg.DefaultSlotDuration = time.Hour
	}
	if cfg.DefaultBufferTime < 0 {
		cfg.DefaultBufferTime = 0
	}
	return &AvailabilityService{
		repo:      repo,
		bookings:  bookings,
		cache:     cache,
		bridge:    bridge,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
	}
}

// ResolveDay computes the bookable slots for one agent and UTC day:
// recurring windows, minus blocked times, minus buffered bookings, minus
// external busy windows, sliced into slots from each free interval's start.
func (s *AvailabilityService) ResolveDay(ctx context.Context, agentID string, day time.Time) (*models.AgentDayAvailability, error) {
	day = day.UTC()
	cacheKey := availabilityCacheKey(agentID, day)

	if s.cache != nil {
		var cached models.AgentDayAvailability
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	rows, err := s.repo.ListRecurring(ctx, agentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring availability")
	}

	result := &models.AgentDayAvailability{
		AgentID: agentID,
		Date:    day.Format("2006-01-02"),
	}

	var free []timeslot.Interval
	slotDuration, buffer := s.SlotParams(rows, day)
	for _, row := range rows {
		if !row.AppliesTo(day) {
			continue
		}
		window, err := row.Window(day)
		if err != nil {
			s.logger.Sugar().Warnw("skipping malformed availability window", "row_id", row.ID, "error", err)
			continue
		}
		free = append(free, window)
	}
	free = timeslot.Union(free)
	if len(free) == 0 {
		s.storeResolved(ctx, cacheKey, result)
		return result, nil
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayWindow := timeslot.Interval{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}

	var busy []timeslot.Interval

	blocked, err := s.repo.ListBlocked(ctx, agentID, dayWindow.Start, dayWindow.End)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load blocked times")
	}
	for _, b := range blocked {
		busy = append(busy, b.Occurrences(day)...)
	}

	occupying, err := s.bookings.ListOccupyingForAgentDay(ctx, agentID, day)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}
	for _, b := range occupying {
		busy = append(busy, b.ActiveInterval().WithBuffer(buffer, buffer))
	}

	if s.bridge != nil {
		external, degraded := s.bridge.BusyIntervals(ctx, agentID, dayWindow)
		busy = append(busy, external...)
		if degraded {
			result.Degraded = true
			result.Warnings = append(result.Warnings, "external calendar unavailable; slots may include externally busy times")
			if s.metrics != nil {
				s.metrics.CountBridgeDegraded()
			}
		}
	}

	for _, iv := range timeslot.Subtract(free, busy) {
		result.Slots = append(result.Slots, timeslot.Slots(iv, slotDuration)...)
	}

	s.storeResolved(ctx, cacheKey, result)
	return result, nil
}

// DayParams resolves the slot duration and buffer governing an agent's day.
func (s *AvailabilityService) DayParams(ctx context.Context, agentID string, day time.Time) (slotDuration, buffer time.Duration, err error) {
	rows, err := s.repo.ListRecurring(ctx, agentID)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring availability")
	}
	slotDuration, buffer = s.SlotParams(rows, day.UTC())
	return slotDuration, buffer, nil
}

// SlotParams picks the slot duration and buffer governing the given day.
// When several rows apply, the earliest window (rows are ordered by weekday
// and start time) decides the slot duration, and the largest buffer any row
// sets wins. Rows without overrides fall back to the configured defaults.
func (s *AvailabilityService) SlotParams(rows []models.RecurringAvailability, day time.Time) (slotDuration, buffer time.Duration) {
	slotDuration = s.config.DefaultSlotDuration
	buffer = s.config.DefaultBufferTime

	durationSet := false
	maxBuffer := time.Duration(-1)
	for _, row := range rows {
		if !row.AppliesTo(day) {
			continue
		}
		if row.SlotDuration > 0 && !durationSet {
			slotDuration = time.Duration(row.SlotDuration) * time.Minute
			durationSet = true
		}
		if row.BufferTime > 0 {
			if b := time.Duration(row.BufferTime) * time.Minute; b > maxBuffer {
				maxBuffer = b
			}
		}
	}
	if maxBuffer >= 0 {
		buffer = maxBuffer
	}
	return slotDuration, buffer
}

// ListRecurring returns an agent's recurring availability rows.
func (s *AvailabilityService) ListRecurring(ctx context.Context, agentID string) ([]models.RecurringAvailability, error) {
	rows, err := s.repo.ListRecurring(ctx, agentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list recurring availability")
	}
	return rows, nil
}

// CreateRecurring adds a weekly availability window for the agent.
func (s *AvailabilityService) CreateRecurring(ctx context.Context, agentID string, req models.CreateRecurringAvailabilityRequest) (*models.RecurringAvailability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	if err := validateClockOrder(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	row := &models.RecurringAvailability{
		AgentID:      agentID,
		DayOfWeek:    req.DayOfWeek,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		SlotDuration: req.SlotDuration,
		BufferTime:   req.BufferTime,
		IsActive:     true,
	}
	if req.IsActive != nil {
		row.IsActive = *req.IsActive
	}
	if err := s.repo.CreateRecurring(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create recurring availability")
	}

	s.InvalidateAgent(ctx, agentID)
	return row, nil
}

// UpdateRecurring patches a weekly availability window.
func (s *AvailabilityService) UpdateRecurring(ctx context.Context, agentID, id string, req models.UpdateRecurringAvailabilityRequest) (*models.RecurringAvailability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}

	row, err := s.repo.GetRecurring(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring availability")
	}
	if row.AgentID != agentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "availability window belongs to another agent")
	}

	if req.DayOfWeek != nil {
		row.DayOfWeek = *req.DayOfWeek
	}
	if req.StartTime != nil {
		row.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		row.EndTime = *req.EndTime
	}
	if req.ValidFrom != nil {
		row.ValidFrom = req.ValidFrom
	}
	if req.ValidUntil != nil {
		row.ValidUntil = req.ValidUntil
	}
	if req.SlotDuration != nil {
		row.SlotDuration = *req.SlotDuration
	}
	if req.BufferTime != nil {
		row.BufferTime = *req.BufferTime
	}
	if req.IsActive != nil {
		row.IsActive = *req.IsActive
	}
	if err := validateClockOrder(row.StartTime, row.EndTime); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateRecurring(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update recurring availability")
	}

	s.InvalidateAgent(ctx, agentID)
	return row, nil
}

// DeleteRecurring removes a weekly availability window.
func (s *AvailabilityService) DeleteRecurring(ctx context.Context, agentID, id string) error {
	row, err := s.repo.GetRecurring(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring availability")
	}
	if row.AgentID != agentID {
		return appErrors.Clone(appErrors.ErrForbidden, "availability window belongs to another agent")
	}

	if err := s.repo.DeleteRecurring(ctx, id); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete recurring availability")
	}

	s.InvalidateAgent(ctx, agentID)
	return nil
}

// ListBlocked returns an agent's blocked times touching the window.
func (s *AvailabilityService) ListBlocked(ctx context.Context, agentID string, from, to time.Time) ([]models.BlockedTime, error) {
	rows, err := s.repo.ListBlocked(ctx, agentID, from.UTC(), to.UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list blocked times")
	}
	return rows, nil
}

// CreateBlocked blocks a window off the agent's calendar. Existing bookings
// inside the window are untouched.
func (s *AvailabilityService) CreateBlocked(ctx context.Context, agentID, createdBy string, req models.CreateBlockedTimeRequest) (*models.BlockedTime, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid blocked time payload")
	}
	if _, err := timeslot.New(req.StartAt, req.EndAt); err != nil {
		return nil, err
	}

	row := &models.BlockedTime{
		AgentID:            agentID,
		StartAt:            req.StartAt.UTC(),
		EndAt:              req.EndAt.UTC(),
		Reason:             req.Reason,
		CreatedBy:          createdBy,
		RecurrenceFreq:     req.RecurrenceFreq,
		RecurrenceInterval: req.RecurrenceInterval,
		RecurrenceEndDate:  req.RecurrenceEndDate,
	}
	if err := s.repo.CreateBlocked(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create blocked time")
	}

	s.InvalidateAgent(ctx, agentID)
	return row, nil
}

// DeleteBlocked removes a blocked time.
func (s *AvailabilityService) DeleteBlocked(ctx context.Context, agentID, id string) error {
	if err := s.repo.DeleteBlocked(ctx, id, agentID); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "blocked time not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete blocked time")
	}

	s.InvalidateAgent(ctx, agentID)
	return nil
}

// InvalidateAgent drops every cached availability day for the agent.
func (s *AvailabilityService) InvalidateAgent(ctx context.Context, agentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("availability:%s:*", agentID)); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate availability cache", "agent_id", agentID, "error", err)
	}
}

// storeResolved caches a resolved day. Degraded results are not cached so a
// recovered bridge is reflected on the next read.
func (s *AvailabilityService) storeResolved(ctx context.Context, key string, result *models.AgentDayAvailability) {
	if s.cache == nil || result.Degraded {
		return
	}
	if err := s.cache.Set(ctx, key, result, s.config.AvailabilityTTL); err != nil {
		s.logger.Sugar().Warnw("failed to cache availability", "key", key, "error", err)
	}
}

func availabilityCacheKey(agentID string, day time.Time) string {
	return fmt.Sprintf("availability:%s:%s", agentID, day.Format("2006-01-02"))
}

func validateClockOrder(start, end string) error {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time %q", start))
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time %q", end))
	}
	if !s.Before(e) {
		return appErrors.Clone(appErrors.ErrInvalidInterval, "start time must precede end time")
	}
	return nil
}
