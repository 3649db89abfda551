package models

import (
	"fmt"
	"time"

	"github.com/hearthview/tours-api/internal/timeslot"
)

// BookingStatus is the lifecycle state of a tour booking.
type BookingStatus string

const (
	StatusPending             BookingStatus = "pending"
	StatusConfirmed           BookingStatus = "confirmed"
	StatusRescheduleRequested BookingStatus = "reschedule_requested"
	// StatusRescheduled is a transient audit marker: a resolved reschedule
	// always comes to rest in StatusConfirmed with the new interval.
	StatusRescheduled BookingStatus = "rescheduled"
	StatusCancelled   BookingStatus = "cancelled"
	StatusCompleted   BookingStatus = "completed"
	StatusNoShow      BookingStatus = "no_show"
)

// BookingType categorises the visit.
type BookingType string

const (
	TypeTour         BookingType = "tour"
	TypeViewing      BookingType = "viewing"
	TypeInspection   BookingType = "inspection"
	TypeConsultation BookingType = "consultation"
)

// Action labels recorded on LastActionType.
const (
	ActionCreated             = "created"
	ActionConfirmed           = "confirmed"
	ActionCancelled           = "cancelled"
	ActionRescheduleRequested = "reschedule_requested"
	ActionRescheduled         = "rescheduled"
	ActionRescheduleRejected  = "reschedule_rejected"
	ActionCompleted           = "completed"
	ActionNoShow              = "no_show"
)

// Booking is the central scheduling entity. Bookings are never deleted;
// cancellation is a status.
type Booking struct {
	ID                 string        `db:"id" json:"id"`
	PropertyID         string        `db:"property_id" json:"property_id"`
	RequesterID        string        `db:"requester_id" json:"requester_id"`
	AgentID            string        `db:"agent_id" json:"agent_id"`
	BookingType        BookingType   `db:"booking_type" json:"booking_type"`
	Status             BookingStatus `db:"status" json:"status"`
	RequestedStart     time.Time     `db:"requested_start" json:"requested_start"`
	RequestedEnd       time.Time     `db:"requested_end" json:"requested_end"`
	ConfirmedStart     *time.Time    `db:"confirmed_start" json:"confirmed_start,omitempty"`
	ConfirmedEnd       *time.Time    `db:"confirmed_end" json:"confirmed_end,omitempty"`
	ProposedStart      *time.Time    `db:"proposed_start" json:"proposed_start,omitempty"`
	ProposedEnd        *time.Time    `db:"proposed_end" json:"proposed_end,omitempty"`
	IsVirtual          bool          `db:"is_virtual" json:"is_virtual"`
	MeetingLink        *string       `db:"meeting_link" json:"meeting_link,omitempty"`
	RequesterNotes     *string       `db:"requester_notes" json:"requester_notes,omitempty"`
	AgentNotes         *string       `db:"agent_notes" json:"agent_notes,omitempty"`
	AdminNotes         *string       `db:"admin_notes" json:"admin_notes,omitempty"`
	CancellationReason *string       `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	LastActionBy       string        `db:"last_action_by" json:"last_action_by"`
	LastActionType     string        `db:"last_action_type" json:"last_action_type"`
	ConfirmedAt        *time.Time    `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// ActiveInterval returns the interval the booking occupies: the confirmed
// interval when present, else the requested one.
func (b Booking) ActiveInterval() timeslot.Interval {
	if b.ConfirmedStart != nil && b.ConfirmedEnd != nil {
		return timeslot.Interval{Start: b.ConfirmedStart.UTC(), End: b.ConfirmedEnd.UTC()}
	}
	return timeslot.Interval{Start: b.RequestedStart.UTC(), End: b.RequestedEnd.UTC()}
}

// Occupies reports whether the booking still blocks the agent's calendar.
func (b Booking) Occupies() bool {
	switch b.Status {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return false
	default:
		return true
	}
}

// Participant is metadata attached to a booking; it has no lifecycle of
// its own.
type Participant struct {
	ID           string    `db:"id" json:"id"`
	BookingID    string    `db:"booking_id" json:"booking_id"`
	FullName     string    `db:"full_name" json:"full_name"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Email        *string   `db:"email" json:"email,omitempty"`
	Relationship *string   `db:"relationship" json:"relationship,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// BookingFilter narrows booking listings.
type BookingFilter struct {
	AgentID     string
	RequesterID string
	PropertyID  string
	Status      []BookingStatus
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// transitions enumerates every legal state-machine move and the roles
// allowed to perform it.
var transitions = map[BookingStatus]map[BookingStatus][]UserRole{
	StatusPending: {
		StatusConfirmed: {RoleAgent, RoleAdmin},
		StatusCancelled: {RoleRequester, RoleAgent, RoleAdmin},
	},
	StatusConfirmed: {
		StatusRescheduleRequested: {RoleRequester, RoleAgent},
		StatusCancelled:           {RoleRequester, RoleAgent, RoleAdmin},
		StatusCompleted:           {RoleAgent, RoleAdmin},
		StatusNoShow:              {RoleAgent, RoleAdmin},
	},
	StatusRescheduleRequested: {
		StatusRescheduled: {RoleAgent, RoleAdmin},
		StatusConfirmed:   {RoleAgent, RoleAdmin},
		StatusCancelled:   {RoleRequester, RoleAgent, RoleAdmin},
	},
}

// CanTransition validates a state-machine move for the acting role.
func CanTransition(from, to BookingStatus, role UserRole) error {
	allowed, ok := transitions[from]
	if !ok {
		return &InvalidTransitionError{From: from, To: to, Role: role}
	}
	roles, ok := allowed[to]
	if !ok {
		return &InvalidTransitionError{From: from, To: to, Role: role}
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to, Role: role}
}

// InvalidTransitionError identifies an illegal state-machine move.
type InvalidTransitionError struct {
	From BookingStatus `json:"from"`
	To   BookingStatus `json:"to"`
	Role UserRole      `json:"role"`
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("transition %s -> %s not permitted for role %s", e.From, e.To, e.Role)
}

// BookingConflictError is returned when a requested interval collides with
// the agent's calendar. It is an expected outcome, not a failure.
type BookingConflictError struct {
	Message     string              `json:"message"`
	Conflicts   []Booking           `json:"conflicts,omitempty"`
	Suggestions []timeslot.Interval `json:"suggestions,omitempty"`
}

// Error implements the error interface.
func (e *BookingConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
