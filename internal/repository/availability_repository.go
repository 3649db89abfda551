package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hearthview/tours-api/internal/models"
)

// AvailabilityRepository persists recurring availability rows and one-off
// blocked times for agents.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs an availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListRecurring returns every recurring availability row for an agent.
func (r *AvailabilityRepository) ListRecurring(ctx context.Context, agentID string) ([]models.RecurringAvailability, error) {
	const query = `SELECT id, agent_id, day_of_week, start_time, end_time, valid_from, valid_until,
slot_duration_minutes, buffer_time_minutes, is_active, created_at, updated_at
FROM recurring_availability WHERE agent_id = $1 ORDER BY day_of_week ASC, start_time ASC`
	var rows []models.RecurringAvailability
	if err := r.db.SelectContext(ctx, &rows, query, agentID); err != nil {
		return nil, fmt.Errorf("list recurring availability: %w", err)
	}
	return rows, nil
}

// GetRecurring fetches one recurring availability row.
func (r *AvailabilityRepository) GetRecurring(ctx context.Context, id string) (*models.RecurringAvailability, error) {
	const query = `SELECT id, agent_id, day_of_week, start_time, end_time, valid_from, valid_until,
slot_duration_minutes, buffer_time_minutes, is_active, created_at, updated_at
FROM recurring_availability WHERE id = $1`
	var row models.RecurringAvailability
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateRecurring inserts a recurring availability row.
func (r *AvailabilityRepository) CreateRecurring(ctx context.Context, row *models.RecurringAvailability) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now
	const query = `INSERT INTO recurring_availability (id, agent_id, day_of_week, start_time, end_time, valid_from, valid_until,
slot_duration_minutes, buffer_time_minutes, is_active, created_at, updated_at)
VALUES (:id, :agent_id, :day_of_week, :start_time, :end_time, :valid_from, :valid_until,
:slot_duration_minutes, :buffer_time_minutes, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create recurring availability: %w", err)
	}
	return nil
}

// UpdateRecurring modifies a recurring availability row.
func (r *AvailabilityRepository) UpdateRecurring(ctx context.Context, row *models.RecurringAvailability) error {
	row.UpdatedAt = time.Now().UTC()
	const query = `UPDATE recurring_availability SET day_of_week = :day_of_week, start_time = :start_time,
end_time = :end_time, valid_from = :valid_from, valid_until = :valid_until,
slot_duration_minutes = :slot_duration_minutes, buffer_time_minutes = :buffer_time_minutes,
is_active = :is_active, updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("update recurring availability: %w", err)
	}
	return nil
}

// DeleteRecurring removes a recurring availability row.
func (r *AvailabilityRepository) DeleteRecurring(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM recurring_availability WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete recurring availability: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListBlocked returns blocked times for an agent that could affect the given
// window. Rows with a recurrence rule are returned regardless of their base
// interval since occurrences may fall inside the window.
func (r *AvailabilityRepository) ListBlocked(ctx context.Context, agentID string, from, to time.Time) ([]models.BlockedTime, error) {
	const query = `SELECT id, agent_id, start_at, end_at, reason, created_by,
recurrence_frequency, recurrence_interval, recurrence_end_date, created_at, updated_at
FROM blocked_times
WHERE agent_id = $1 AND (recurrence_frequency <> 'NONE' OR (start_at < $3 AND end_at > $2))
ORDER BY start_at ASC`
	var rows []models.BlockedTime
	if err := r.db.SelectContext(ctx, &rows, query, agentID, from, to); err != nil {
		return nil, fmt.Errorf("list blocked times: %w", err)
	}
	return rows, nil
}

// CreateBlocked inserts a blocked time.
func (r *AvailabilityRepository) CreateBlocked(ctx context.Context, row *models.BlockedTime) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.RecurrenceFreq == "" {
		row.RecurrenceFreq = models.RecurrenceNone
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now
	const query = `INSERT INTO blocked_times (id, agent_id, start_at, end_at, reason, created_by,
recurrence_frequency, recurrence_interval, recurrence_end_date, created_at, updated_at)
VALUES (:id, :agent_id, :start_at, :end_at, :reason, :created_by,
:recurrence_frequency, :recurrence_interval, :recurrence_end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create blocked time: %w", err)
	}
	return nil
}

// DeleteBlocked removes a blocked time.
func (r *AvailabilityRepository) DeleteBlocked(ctx context.Context, id, agentID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM blocked_times WHERE id = $1 AND agent_id = $2", id, agentID)
	if err != nil {
		return fmt.Errorf("delete blocked time: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete blocked time: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether the error is the repository's no-rows marker.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
