package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/timeslot"
)

const bookingColumns = `id, property_id, requester_id, agent_id, booking_type, status,
requested_start, requested_end, confirmed_start, confirmed_end, proposed_start, proposed_end,
is_virtual, meeting_link, requester_notes, agent_notes, admin_notes, cancellation_reason,
last_action_by, last_action_type, confirmed_at, cancelled_at, completed_at, created_at, updated_at`

// BookingRepository persists tour bookings and their participants.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs a booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// FindByID fetches a booking.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := fmt.Sprintf("SELECT %s FROM bookings WHERE id = $1", bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// List returns bookings matching the filter.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	where := "1=1"
	args := []interface{}{}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		where += fmt.Sprintf(" AND requester_id = $%d", len(args))
	}
	if filter.PropertyID != "" {
		args = append(args, filter.PropertyID)
		where += fmt.Sprintf(" AND property_id = $%d", len(args))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND COALESCE(confirmed_end, requested_end) > $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND COALESCE(confirmed_start, requested_start) < $%d", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE %s
ORDER BY COALESCE(confirmed_start, requested_start) ASC LIMIT %d OFFSET %d`, bookingColumns, where, size, offset)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM bookings WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}
	return bookings, total, nil
}

// ListOccupyingForAgentDay returns non-cancelled bookings whose active
// interval overlaps the given UTC day.
func (r *BookingRepository) ListOccupyingForAgentDay(ctx context.Context, agentID string, day time.Time) ([]models.Booking, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	query := fmt.Sprintf(`SELECT %s FROM bookings
WHERE agent_id = $1 AND status NOT IN ('cancelled', 'completed', 'no_show')
AND COALESCE(confirmed_start, requested_start) < $3
AND COALESCE(confirmed_end, requested_end) > $2
ORDER BY COALESCE(confirmed_start, requested_start) ASC`, bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, agentID, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("list occupying bookings: %w", err)
	}
	return bookings, nil
}

// CreateIfFree inserts the booking only when no occupying booking overlaps
// the guard window. The check and insert run in one transaction serialised
// per agent/day by an advisory lock, so of two racing overlapping requests
// exactly one wins; the loser receives the conflicting rows.
func (r *BookingRepository) CreateIfFree(ctx context.Context, booking *models.Booking, guard timeslot.Interval) ([]models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	day := guard.Start.UTC().Format("2006-01-02")
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", booking.AgentID+":"+day); err != nil {
		return nil, fmt.Errorf("acquire booking lock: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM bookings
WHERE agent_id = $1 AND status NOT IN ('cancelled', 'completed', 'no_show')
AND COALESCE(confirmed_start, requested_start) < $3
AND COALESCE(confirmed_end, requested_end) > $2`, bookingColumns)
	var overlapping []models.Booking
	if err := tx.SelectContext(ctx, &overlapping, query, booking.AgentID, guard.Start, guard.End); err != nil {
		return nil, fmt.Errorf("check overlapping bookings: %w", err)
	}
	if len(overlapping) > 0 {
		return overlapping, nil
	}

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	const insert = `INSERT INTO bookings (id, property_id, requester_id, agent_id, booking_type, status,
requested_start, requested_end, confirmed_start, confirmed_end, proposed_start, proposed_end,
is_virtual, meeting_link, requester_notes, agent_notes, admin_notes, cancellation_reason,
last_action_by, last_action_type, confirmed_at, cancelled_at, completed_at, created_at, updated_at)
VALUES (:id, :property_id, :requester_id, :agent_id, :booking_type, :status,
:requested_start, :requested_end, :confirmed_start, :confirmed_end, :proposed_start, :proposed_end,
:is_virtual, :meeting_link, :requester_notes, :agent_notes, :admin_notes, :cancellation_reason,
:last_action_by, :last_action_type, :confirmed_at, :cancelled_at, :completed_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, booking); err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}
	return nil, nil
}

// Update persists the mutable fields of a booking.
func (r *BookingRepository) Update(ctx context.Context, booking *models.Booking) error {
	booking.UpdatedAt = time.Now().UTC()
	const query = `UPDATE bookings SET status = :status,
confirmed_start = :confirmed_start, confirmed_end = :confirmed_end,
proposed_start = :proposed_start, proposed_end = :proposed_end,
is_virtual = :is_virtual, meeting_link = :meeting_link,
requester_notes = :requester_notes, agent_notes = :agent_notes, admin_notes = :admin_notes,
cancellation_reason = :cancellation_reason,
last_action_by = :last_action_by, last_action_type = :last_action_type,
confirmed_at = :confirmed_at, cancelled_at = :cancelled_at, completed_at = :completed_at,
updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, booking); err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

// AddParticipant attaches participant metadata to a booking.
func (r *BookingRepository) AddParticipant(ctx context.Context, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO booking_participants (id, booking_id, full_name, phone, email, relationship, created_at)
VALUES (:id, :booking_id, :full_name, :phone, :email, :relationship, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// ListParticipants returns the participants attached to a booking.
func (r *BookingRepository) ListParticipants(ctx context.Context, bookingID string) ([]models.Participant, error) {
	const query = `SELECT id, booking_id, full_name, phone, email, relationship, created_at
FROM booking_participants WHERE booking_id = $1 ORDER BY created_at ASC`
	var participants []models.Participant
	if err := r.db.SelectContext(ctx, &participants, query, bookingID); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}
