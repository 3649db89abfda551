package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/timeslot"
	"github.com/hearthview/tours-api/pkg/config"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
)

// Monday 2026-03-02.
var testMonday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type availabilityRepoStub struct {
	recurring []models.RecurringAvailability
	blocked   []models.BlockedTime

	created        []*models.RecurringAvailability
	createdBlocked []*models.BlockedTime
	deleted        []string
}

func (s *availabilityRepoStub) ListRecurring(ctx context.Context, agentID string) ([]models.RecurringAvailability, error) {
	return s.recurring, nil
}

func (s *availabilityRepoStub) GetRecurring(ctx context.Context, id string) (*models.RecurringAvailability, error) {
	for i := range s.recurring {
		if s.recurring[i].ID == id {
			return &s.recurring[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *availabilityRepoStub) CreateRecurring(ctx context.Context, row *models.RecurringAvailability) error {
	row.ID = "ra-1"
	s.created = append(s.created, row)
	return nil
}

func (s *availabilityRepoStub) UpdateRecurring(ctx context.Context, row *models.RecurringAvailability) error {
	return nil
}

func (s *availabilityRepoStub) DeleteRecurring(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *availabilityRepoStub) ListBlocked(ctx context.Context, agentID string, from, to time.Time) ([]models.BlockedTime, error) {
	return s.blocked, nil
}

func (s *availabilityRepoStub) CreateBlocked(ctx context.Context, row *models.BlockedTime) error {
	row.ID = "bt-1"
	s.createdBlocked = append(s.createdBlocked, row)
	return nil
}

func (s *availabilityRepoStub) DeleteBlocked(ctx context.Context, id, agentID string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type occupyingStub struct {
	bookings []models.Booking
}

func (s occupyingStub) ListOccupyingForAgentDay(ctx context.Context, agentID string, day time.Time) ([]models.Booking, error) {
	return s.bookings, nil
}

type bridgeStub struct {
	busy     []timeslot.Interval
	degraded bool
	calls    int
}

func (s *bridgeStub) BusyIntervals(ctx context.Context, userID string, window timeslot.Interval) ([]timeslot.Interval, bool) {
	s.calls++
	return s.busy, s.degraded
}

type cacheStub struct {
	stored  map[string]interface{}
	hit     *models.AgentDayAvailability
	deletes []string
}

func (s *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	if s.hit == nil {
		return appErrors.ErrCacheMiss
	}
	*dest.(*models.AgentDayAvailability) = *s.hit
	return nil
}

func (s *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.stored == nil {
		s.stored = map[string]interface{}{}
	}
	s.stored[key] = value
	return nil
}

func (s *cacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	s.deletes = append(s.deletes, pattern)
	return nil
}

func mondaySchedule() []models.RecurringAvailability {
	return []models.RecurringAvailability{{
		ID:        "ra-mon",
		AgentID:   "agent-1",
		DayOfWeek: 1,
		StartTime: "09:00",
		EndTime:   "12:00",
		IsActive:  true,
	}}
}

func newAvailabilityService(repo availabilityRepository, bookings occupyingBookingReader, cache availabilityCache, bridge externalBusyReader) *AvailabilityService {
	return NewAvailabilityService(repo, bookings, cache, bridge, nil, nil, nil, config.ToursConfig{
		DefaultSlotDuration: time.Hour,
		DefaultBufferTime:   15 * time.Minute,
		AvailabilityTTL:     time.Minute,
	})
}

func TestResolveDayPlainSchedule(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{recurring: mondaySchedule()}, occupyingStub{}, nil, nil)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	require.Len(t, result.Slots, 3)
	assert.Equal(t, testMonday.Add(9*time.Hour), result.Slots[0].Start)
	assert.Equal(t, testMonday.Add(11*time.Hour), result.Slots[2].Start)
}

func TestResolveDayBufferedBookingShiftsSlots(t *testing.T) {
	start := testMonday.Add(9 * time.Hour)
	end := start.Add(time.Hour)
	bookings := occupyingStub{bookings: []models.Booking{{
		ID:             "b-1",
		Status:         models.StatusConfirmed,
		ConfirmedStart: &start,
		ConfirmedEnd:   &end,
	}}}

	svc := newAvailabilityService(&availabilityRepoStub{recurring: mondaySchedule()}, bookings, nil, nil)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)

	// Booking 09:00-10:00 with a 15m buffer leaves [10:15, 12:00), so the
	// single remaining slot starts at 10:15.
	require.Len(t, result.Slots, 1)
	assert.Equal(t, testMonday.Add(10*time.Hour+15*time.Minute), result.Slots[0].Start)
	assert.Equal(t, testMonday.Add(11*time.Hour+15*time.Minute), result.Slots[0].End)
}

func TestResolveDayBlockedTimeRemovesSlots(t *testing.T) {
	repo := &availabilityRepoStub{
		recurring: mondaySchedule(),
		blocked: []models.BlockedTime{{
			StartAt: testMonday.Add(10 * time.Hour),
			EndAt:   testMonday.Add(11 * time.Hour),
		}},
	}
	svc := newAvailabilityService(repo, occupyingStub{}, nil, nil)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)
	require.Len(t, result.Slots, 2)
	assert.Equal(t, testMonday.Add(9*time.Hour), result.Slots[0].Start)
	assert.Equal(t, testMonday.Add(11*time.Hour), result.Slots[1].Start)
}

func TestResolveDayNoScheduleYieldsEmpty(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, nil, nil)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)
	assert.Empty(t, result.Slots)
	assert.False(t, result.Degraded)
}

func TestResolveDayDegradedBridge(t *testing.T) {
	bridge := &bridgeStub{degraded: true}
	svc := newAvailabilityService(&availabilityRepoStub{recurring: mondaySchedule()}, occupyingStub{}, nil, bridge)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)

	// Internal data still produces slots; the result is only flagged.
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Warnings)
	assert.Len(t, result.Slots, 3)
}

func TestResolveDayExternalBusySubtracted(t *testing.T) {
	bridge := &bridgeStub{busy: []timeslot.Interval{{
		Start: testMonday.Add(9 * time.Hour),
		End:   testMonday.Add(10 * time.Hour),
	}}}
	svc := newAvailabilityService(&availabilityRepoStub{recurring: mondaySchedule()}, occupyingStub{}, nil, bridge)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)
	require.Len(t, result.Slots, 2)
	assert.Equal(t, testMonday.Add(10*time.Hour), result.Slots[0].Start)
}

func TestResolveDayCacheHitSkipsWork(t *testing.T) {
	cached := &models.AgentDayAvailability{AgentID: "agent-1", Date: "2026-03-02"}
	bridge := &bridgeStub{}
	svc := newAvailabilityService(&availabilityRepoStub{recurring: mondaySchedule()}, occupyingStub{}, &cacheStub{hit: cached}, bridge)

	result, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)
	assert.Equal(t, cached.Date, result.Date)
	assert.Zero(t, bridge.calls)
}

func TestResolveDayDegradedResultNotCached(t *testing.T) {
	cache := &cacheStub{}
	bridge := &bridgeStub{degraded: true}
	svc := newAvailabilityService(&availabilityRepoStub{recurring: mondaySchedule()}, occupyingStub{}, cache, bridge)

	_, err := svc.ResolveDay(context.Background(), "agent-1", testMonday)
	require.NoError(t, err)
	assert.Empty(t, cache.stored)
}

func TestSlotParamsEarliestDurationStrictestBuffer(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, nil, nil)

	rows := []models.RecurringAvailability{
		{ID: "ra-am", AgentID: "agent-1", DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", SlotDuration: 30, BufferTime: 10, IsActive: true},
		{ID: "ra-pm", AgentID: "agent-1", DayOfWeek: 1, StartTime: "13:00", EndTime: "17:00", SlotDuration: 45, BufferTime: 30, IsActive: true},
	}

	slot, buffer := svc.SlotParams(rows, testMonday)
	assert.Equal(t, 30*time.Minute, slot)
	assert.Equal(t, 30*time.Minute, buffer)
}

func TestSlotParamsRowBufferBelowDefaultStillWins(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, nil, nil)

	rows := []models.RecurringAvailability{
		{ID: "ra-mon", AgentID: "agent-1", DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", BufferTime: 5, IsActive: true},
	}

	slot, buffer := svc.SlotParams(rows, testMonday)
	assert.Equal(t, time.Hour, slot)
	assert.Equal(t, 5*time.Minute, buffer)
}

func TestSlotParamsDefaultsWhenRowsSilent(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, nil, nil)

	slot, buffer := svc.SlotParams(mondaySchedule(), testMonday)
	assert.Equal(t, time.Hour, slot)
	assert.Equal(t, 15*time.Minute, buffer)
}

func TestCreateRecurringValidatesClockOrder(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, nil, nil)

	_, err := svc.CreateRecurring(context.Background(), "agent-1", models.CreateRecurringAvailabilityRequest{
		DayOfWeek: 1,
		StartTime: "17:00",
		EndTime:   "09:00",
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidInterval.Code, appErr.Code)
}

func TestCreateRecurringInvalidatesCache(t *testing.T) {
	cache := &cacheStub{}
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, cache, nil)

	_, err := svc.CreateRecurring(context.Background(), "agent-1", models.CreateRecurringAvailabilityRequest{
		DayOfWeek: 1,
		StartTime: "09:00",
		EndTime:   "17:00",
	})
	require.NoError(t, err)
	require.Len(t, cache.deletes, 1)
	assert.Equal(t, "availability:agent-1:*", cache.deletes[0])
}

func TestCreateBlockedRejectsInvertedInterval(t *testing.T) {
	svc := newAvailabilityService(&availabilityRepoStub{}, occupyingStub{}, nil, nil)

	_, err := svc.CreateBlocked(context.Background(), "agent-1", "agent-1", models.CreateBlockedTimeRequest{
		StartAt: testMonday.Add(11 * time.Hour),
		EndAt:   testMonday.Add(10 * time.Hour),
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidInterval)
}

func TestUpdateRecurringForeignAgentForbidden(t *testing.T) {
	repo := &availabilityRepoStub{recurring: mondaySchedule()}
	svc := newAvailabilityService(repo, occupyingStub{}, nil, nil)

	_, err := svc.UpdateRecurring(context.Background(), "agent-2", "ra-mon", models.UpdateRecurringAvailabilityRequest{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}
