package models

import (
	"fmt"
	"time"

	"github.com/hearthview/tours-api/internal/timeslot"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
)

// RecurrenceFrequency tags the recurrence pattern of a blocked time.
type RecurrenceFrequency string

const (
	RecurrenceNone    RecurrenceFrequency = "NONE"
	RecurrenceDaily   RecurrenceFrequency = "DAILY"
	RecurrenceWeekly  RecurrenceFrequency = "WEEKLY"
	RecurrenceMonthly RecurrenceFrequency = "MONTHLY"
)

// RecurringAvailability describes one weekly availability window of an agent.
// Multiple rows per agent and weekday are legal and are unioned.
type RecurringAvailability struct {
	ID           string     `db:"id" json:"id"`
	AgentID      string     `db:"agent_id" json:"agent_id"`
	DayOfWeek    int        `db:"day_of_week" json:"day_of_week"`
	StartTime    string     `db:"start_time" json:"start_time"`
	EndTime      string     `db:"end_time" json:"end_time"`
	ValidFrom    *time.Time `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil   *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	SlotDuration int        `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	BufferTime   int        `db:"buffer_time_minutes" json:"buffer_time_minutes"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// AppliesTo reports whether the row is in effect on the given UTC day.
func (r RecurringAvailability) AppliesTo(day time.Time) bool {
	if !r.IsActive {
		return false
	}
	if int(day.Weekday()) != r.DayOfWeek {
		return false
	}
	if r.ValidFrom != nil && day.Before(truncateToDay(*r.ValidFrom)) {
		return false
	}
	if r.ValidUntil != nil && day.After(truncateToDay(*r.ValidUntil)) {
		return false
	}
	return true
}

// Window resolves the time-of-day bounds against a concrete date.
func (r RecurringAvailability) Window(day time.Time) (timeslot.Interval, error) {
	start, err := atTimeOfDay(day, r.StartTime)
	if err != nil {
		return timeslot.Interval{}, err
	}
	end, err := atTimeOfDay(day, r.EndTime)
	if err != nil {
		return timeslot.Interval{}, err
	}
	return timeslot.New(start, end)
}

// BlockedTime removes availability regardless of the recurring schedule.
// A recurrence rule, when present, is expanded into concrete occurrences.
type BlockedTime struct {
	ID                 string              `db:"id" json:"id"`
	AgentID            string              `db:"agent_id" json:"agent_id"`
	StartAt            time.Time           `db:"start_at" json:"start_at"`
	EndAt              time.Time           `db:"end_at" json:"end_at"`
	Reason             *string             `db:"reason" json:"reason,omitempty"`
	CreatedBy          string              `db:"created_by" json:"created_by"`
	RecurrenceFreq     RecurrenceFrequency `db:"recurrence_frequency" json:"recurrence_frequency"`
	RecurrenceInterval int                 `db:"recurrence_interval" json:"recurrence_interval"`
	RecurrenceEndDate  *time.Time          `db:"recurrence_end_date" json:"recurrence_end_date,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// Occurrences expands the blocked time into the concrete intervals that
// overlap the given UTC day. Pure; no I/O.
func (b BlockedTime) Occurrences(day time.Time) []timeslot.Interval {
	dayStart := truncateToDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)
	window := timeslot.Interval{Start: dayStart, End: dayEnd}

	base := timeslot.Interval{Start: b.StartAt.UTC(), End: b.EndAt.UTC()}
	if base.IsZero() {
		return nil
	}

	if b.RecurrenceFreq == "" || b.RecurrenceFreq == RecurrenceNone {
		if base.Overlaps(window) {
			return []timeslot.Interval{base}
		}
		return nil
	}

	step := b.RecurrenceInterval
	if step < 1 {
		step = 1
	}
	duration := base.Duration()

	var out []timeslot.Interval
	for start := base.Start; !start.After(dayEnd); start = advance(start, b.RecurrenceFreq, step) {
		if b.RecurrenceEndDate != nil && start.After(endOfDay(*b.RecurrenceEndDate)) {
			break
		}
		occ := timeslot.Interval{Start: start, End: start.Add(duration)}
		if occ.Overlaps(window) {
			out = append(out, occ)
		}
	}
	return out
}

func advance(t time.Time, freq RecurrenceFrequency, step int) time.Time {
	switch freq {
	case RecurrenceDaily:
		return t.AddDate(0, 0, step)
	case RecurrenceWeekly:
		return t.AddDate(0, 0, 7*step)
	case RecurrenceMonthly:
		return t.AddDate(0, step, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// AgentDayAvailability is the resolved free/busy picture for one agent day.
type AgentDayAvailability struct {
	AgentID  string              `json:"agent_id"`
	Date     string              `json:"date"`
	Slots    []timeslot.Interval `json:"slots"`
	Degraded bool                `json:"degraded"`
	Warnings []string            `json:"warnings,omitempty"`
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return truncateToDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func atTimeOfDay(day time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid time of day %q", clock))
	}
	base := truncateToDay(day)
	offset := time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
	return base.Add(offset), nil
}
