package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/timeslot"
	"github.com/hearthview/tours-api/pkg/config"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
)

type bookingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	ListOccupyingForAgentDay(ctx context.Context, agentID string, day time.Time) ([]models.Booking, error)
	CreateIfFree(ctx context.Context, booking *models.Booking, guard timeslot.Interval) ([]models.Booking, error)
	Update(ctx context.Context, booking *models.Booking) error
	AddParticipant(ctx context.Context, p *models.Participant) error
	ListParticipants(ctx context.Context, bookingID string) ([]models.Participant, error)
}

type availabilityResolver interface {
	ResolveDay(ctx context.Context, agentID string, day time.Time) (*models.AgentDayAvailability, error)
	DayParams(ctx context.Context, agentID string, day time.Time) (time.Duration, time.Duration, error)
	InvalidateAgent(ctx context.Context, agentID string)
}

type eventPublisher interface {
	Publish(topic models.Topic, event models.LiveEvent)
}

type calendarSyncer interface {
	EnqueueSync(bookingID string)
}

// BookingService implements tour requests, the conflict checker and the
// booking state machine.
type BookingService struct {
	repo         bookingRepository
	availability availabilityResolver
	events       eventPublisher
	calendar     calendarSyncer
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	config       config.ToursConfig
	now          func() time.Time
}

// NewBookingService constructs a BookingService instance.
func NewBookingService(
	repo bookingRepository,
	availability availabilityResolver,
	events eventPublisher,
	calendar calendarSyncer,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.ToursConfig,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SuggestionCount <= 0 {
		cfg.SuggestionCount = 3
	}
	return &BookingService{
		repo:         repo,
		availability: availability,
		events:       events,
		calendar:     calendar,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		config:       cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RequestTour validates the requested interval against the agent's resolved
// availability and creates a pending booking when it fits. On conflict the
// returned error carries the colliding bookings and ranked alternatives.
func (s *BookingService) RequestTour(ctx context.Context, actor models.JWTClaims, req models.RequestTourRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		s.countRequest("error")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid tour request")
	}

	interval, err := timeslot.New(req.Start, req.End)
	if err != nil {
		s.countRequest("error")
		return nil, err
	}
	if !interval.Start.After(s.now()) {
		s.countRequest("error")
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested interval must be in the future")
	}

	conflict, buffer, err := s.checkInterval(ctx, req.AgentID, interval)
	if err != nil {
		s.countRequest("error")
		return nil, err
	}
	if conflict != nil {
		s.countRequest("conflict")
		return nil, wrapConflict(conflict)
	}

	bookingType := req.BookingType
	if bookingType == "" {
		bookingType = models.TypeTour
	}

	booking := &models.Booking{
		PropertyID:     req.PropertyID,
		RequesterID:    actor.UserID,
		AgentID:        req.AgentID,
		BookingType:    bookingType,
		Status:         models.StatusPending,
		RequestedStart: interval.Start,
		RequestedEnd:   interval.End,
		IsVirtual:      req.IsVirtual,
		MeetingLink:    req.MeetingLink,
		RequesterNotes: req.RequesterNotes,
		LastActionBy:   actor.UserID,
		LastActionType: models.ActionCreated,
	}

	overlapping, err := s.repo.CreateIfFree(ctx, booking, interval.WithBuffer(buffer, buffer))
	if err != nil {
		s.countRequest("error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}
	if len(overlapping) > 0 {
		// Lost the race: another request won the slot between the
		// availability read and the insert.
		s.countRequest("conflict")
		suggestions, suggErr := s.suggestAlternatives(ctx, req.AgentID, interval)
		if suggErr != nil {
			s.logger.Sugar().Warnw("failed to compute suggestions", "agent_id", req.AgentID, "error", suggErr)
		}
		return nil, wrapConflict(&models.BookingConflictError{
			Message:     "requested interval is no longer available",
			Conflicts:   overlapping,
			Suggestions: suggestions,
		})
	}

	for _, p := range req.Participants {
		participant := &models.Participant{
			BookingID:    booking.ID,
			FullName:     p.FullName,
			Phone:        p.Phone,
			Email:        p.Email,
			Relationship: p.Relationship,
		}
		if err := s.repo.AddParticipant(ctx, participant); err != nil {
			s.logger.Sugar().Warnw("failed to store participant", "booking_id", booking.ID, "error", err)
		}
	}

	s.countRequest("created")
	s.availability.InvalidateAgent(ctx, req.AgentID)
	s.publish(models.EventTourCreated, booking, actor.FullName)
	if s.calendar != nil {
		s.calendar.EnqueueSync(booking.ID)
	}
	return booking, nil
}

// CheckInterval reports whether the interval is bookable for the agent. A
// non-nil conflict describes why not; it is an expected outcome.
func (s *BookingService) CheckInterval(ctx context.Context, agentID string, interval timeslot.Interval) (*models.BookingConflictError, error) {
	conflict, _, err := s.checkInterval(ctx, agentID, interval)
	return conflict, err
}

// Transition moves a booking through the state machine on behalf of the
// acting user.
func (s *BookingService) Transition(ctx context.Context, actor models.JWTClaims, bookingID string, req models.TransitionRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	booking, err := s.loadOwned(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	if err := models.CanTransition(booking.Status, req.Status, actor.Role); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, err.Error())
	}

	now := s.now()
	action := ""

	switch req.Status {
	case models.StatusConfirmed:
		if booking.Status == models.StatusRescheduleRequested {
			// Rejecting the proposal: the booking stays on its
			// previously confirmed interval.
			booking.ProposedStart = nil
			booking.ProposedEnd = nil
			action = models.ActionRescheduleRejected
		} else {
			interval := booking.ActiveInterval()
			if err := s.ensureStillFree(ctx, booking, interval); err != nil {
				return nil, err
			}
			booking.ConfirmedStart = &interval.Start
			booking.ConfirmedEnd = &interval.End
			booking.ConfirmedAt = &now
			action = models.ActionConfirmed
		}
		booking.Status = models.StatusConfirmed
		if req.MeetingLink != nil {
			booking.MeetingLink = req.MeetingLink
		}

	case models.StatusRescheduleRequested:
		if req.ProposedStart == nil || req.ProposedEnd == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "proposed interval is required")
		}
		proposed, err := timeslot.New(*req.ProposedStart, *req.ProposedEnd)
		if err != nil {
			return nil, err
		}
		if !proposed.Start.After(now) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "proposed interval must be in the future")
		}
		booking.ProposedStart = &proposed.Start
		booking.ProposedEnd = &proposed.End
		booking.Status = models.StatusRescheduleRequested
		action = models.ActionRescheduleRequested

	case models.StatusRescheduled:
		if booking.ProposedStart == nil || booking.ProposedEnd == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "no proposed interval to accept")
		}
		proposed := timeslot.Interval{Start: booking.ProposedStart.UTC(), End: booking.ProposedEnd.UTC()}
		if err := s.ensureStillFree(ctx, booking, proposed); err != nil {
			return nil, err
		}
		booking.ConfirmedStart = &proposed.Start
		booking.ConfirmedEnd = &proposed.End
		booking.ProposedStart = nil
		booking.ProposedEnd = nil
		booking.ConfirmedAt = &now
		// A resolved reschedule rests in confirmed; rescheduled is the
		// audit label, not a resting state.
		booking.Status = models.StatusConfirmed
		action = models.ActionRescheduled

	case models.StatusCancelled:
		booking.Status = models.StatusCancelled
		booking.CancellationReason = req.Reason
		booking.CancelledAt = &now
		action = models.ActionCancelled

	case models.StatusCompleted:
		if now.Before(booking.ActiveInterval().End) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "tour interval has not elapsed yet")
		}
		booking.Status = models.StatusCompleted
		booking.CompletedAt = &now
		action = models.ActionCompleted

	case models.StatusNoShow:
		if now.Before(booking.ActiveInterval().End) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "tour interval has not elapsed yet")
		}
		booking.Status = models.StatusNoShow
		// A no-show closes the visit window the same way completion does;
		// CompletedAt is the shared closing timestamp for both outcomes.
		booking.CompletedAt = &now
		action = models.ActionNoShow

	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("unknown target status %q", req.Status))
	}

	s.applyNotes(booking, actor.Role, req.Notes)
	booking.LastActionBy = actor.UserID
	booking.LastActionType = action

	if err := s.repo.Update(ctx, booking); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking")
	}

	if s.metrics != nil {
		s.metrics.CountTransition(string(req.Status))
	}
	s.availability.InvalidateAgent(ctx, booking.AgentID)
	s.publish(models.EventTourStatusChanged, booking, actor.FullName)

	switch req.Status {
	case models.StatusConfirmed, models.StatusRescheduled, models.StatusCancelled:
		if s.calendar != nil {
			s.calendar.EnqueueSync(booking.ID)
		}
	}
	return booking, nil
}

// GetBooking loads a booking visible to the actor.
func (s *BookingService) GetBooking(ctx context.Context, actor models.JWTClaims, bookingID string) (*models.Booking, error) {
	return s.loadOwned(ctx, actor, bookingID)
}

// ListBookings returns bookings scoped to what the actor may see.
func (s *BookingService) ListBookings(ctx context.Context, actor models.JWTClaims, filter models.BookingFilter) ([]models.Booking, int, error) {
	switch actor.Role {
	case models.RoleRequester:
		filter.RequesterID = actor.UserID
	case models.RoleAgent:
		filter.AgentID = actor.UserID
	}

	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, total, nil
}

// ListParticipants returns the participants of a booking visible to the actor.
func (s *BookingService) ListParticipants(ctx context.Context, actor models.JWTClaims, bookingID string) ([]models.Participant, error) {
	if _, err := s.loadOwned(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	participants, err := s.repo.ListParticipants(ctx, bookingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list participants")
	}
	return participants, nil
}

// checkInterval runs the conflict checker: the interval must be contained in
// one resolved slot. Returns the buffer in force so callers can guard their
// write with it.
func (s *BookingService) checkInterval(ctx context.Context, agentID string, interval timeslot.Interval) (*models.BookingConflictError, time.Duration, error) {
	_, buffer, err := s.availability.DayParams(ctx, agentID, interval.Start)
	if err != nil {
		return nil, 0, err
	}

	availability, err := s.availability.ResolveDay(ctx, agentID, interval.Start)
	if err != nil {
		return nil, buffer, err
	}

	for _, slot := range availability.Slots {
		if slot.Contains(interval) {
			return nil, buffer, nil
		}
	}

	conflicts, err := s.bufferedConflicts(ctx, agentID, interval, buffer, "")
	if err != nil {
		return nil, buffer, err
	}

	conflict := &models.BookingConflictError{
		Message:     "requested interval is not available",
		Conflicts:   conflicts,
		Suggestions: rankSuggestions(availability.Slots, interval.Start, s.config.SuggestionCount),
	}
	return conflict, buffer, nil
}

// ensureStillFree re-validates an interval right before a confirm or an
// accepted reschedule. Only booking collisions are re-checked; availability
// windows were enforced when the interval was first requested.
func (s *BookingService) ensureStillFree(ctx context.Context, booking *models.Booking, interval timeslot.Interval) error {
	_, buffer, err := s.availability.DayParams(ctx, booking.AgentID, interval.Start)
	if err != nil {
		return err
	}

	conflicts, err := s.bufferedConflicts(ctx, booking.AgentID, interval, buffer, booking.ID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		suggestions, suggErr := s.suggestAlternatives(ctx, booking.AgentID, interval)
		if suggErr != nil {
			s.logger.Sugar().Warnw("failed to compute suggestions", "agent_id", booking.AgentID, "error", suggErr)
		}
		return wrapConflict(&models.BookingConflictError{
			Message:     "interval is no longer available",
			Conflicts:   conflicts,
			Suggestions: suggestions,
		})
	}
	return nil
}

// bufferedConflicts lists occupying bookings whose buffered interval overlaps
// the candidate, excluding the booking being re-validated.
func (s *BookingService) bufferedConflicts(ctx context.Context, agentID string, interval timeslot.Interval, buffer time.Duration, excludeID string) ([]models.Booking, error) {
	occupying, err := s.repo.ListOccupyingForAgentDay(ctx, agentID, interval.Start)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	var conflicts []models.Booking
	for _, b := range occupying {
		if b.ID == excludeID {
			continue
		}
		if b.ActiveInterval().WithBuffer(buffer, buffer).Overlaps(interval) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts, nil
}

func (s *BookingService) suggestAlternatives(ctx context.Context, agentID string, interval timeslot.Interval) ([]timeslot.Interval, error) {
	availability, err := s.availability.ResolveDay(ctx, agentID, interval.Start)
	if err != nil {
		return nil, err
	}
	return rankSuggestions(availability.Slots, interval.Start, s.config.SuggestionCount), nil
}

func (s *BookingService) loadOwned(ctx context.Context, actor models.JWTClaims, bookingID string) (*models.Booking, error) {
	booking, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleAgent:
		if booking.AgentID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another agent")
		}
	case models.RoleRequester:
		if booking.RequesterID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another requester")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	}
	return booking, nil
}

func (s *BookingService) applyNotes(booking *models.Booking, role models.UserRole, notes *string) {
	if notes == nil {
		return
	}
	switch role {
	case models.RoleRequester:
		booking.RequesterNotes = notes
	case models.RoleAgent:
		booking.AgentNotes = notes
	case models.RoleAdmin:
		booking.AdminNotes = notes
	}
}

func (s *BookingService) publish(eventType string, booking *models.Booking, actorName string) {
	if s.events == nil {
		return
	}
	s.events.Publish(models.TopicTours, models.LiveEvent{
		Type: eventType,
		Data: models.EventPayload{
			EntityID:  booking.ID,
			Status:    string(booking.Status),
			ActorName: actorName,
		},
	})
}

func (s *BookingService) countRequest(outcome string) {
	if s.metrics != nil {
		s.metrics.CountTourRequest(outcome)
	}
}

// rankSuggestions orders free slots by distance of their start from the
// requested start; ties go to the earlier slot.
func rankSuggestions(slots []timeslot.Interval, target time.Time, n int) []timeslot.Interval {
	if len(slots) == 0 || n <= 0 {
		return nil
	}

	ranked := make([]timeslot.Interval, len(slots))
	copy(ranked, slots)
	sort.SliceStable(ranked, func(i, j int) bool {
		di := absDuration(ranked[i].Start.Sub(target))
		dj := absDuration(ranked[j].Start.Sub(target))
		if di != dj {
			return di < dj
		}
		return ranked[i].Start.Before(ranked[j].Start)
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func wrapConflict(conflict *models.BookingConflictError) error {
	return appErrors.Wrap(conflict, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflict.Message)
}
