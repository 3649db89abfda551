package models

import "time"

// CreateRecurringAvailabilityRequest creates one weekly availability window.
type CreateRecurringAvailabilityRequest struct {
	DayOfWeek    int        `json:"day_of_week" validate:"gte=0,lte=6"`
	StartTime    string     `json:"start_time" validate:"required"`
	EndTime      string     `json:"end_time" validate:"required"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	SlotDuration int        `json:"slot_duration_minutes" validate:"gte=0,lte=480"`
	BufferTime   int        `json:"buffer_time_minutes" validate:"gte=0,lte=120"`
	IsActive     *bool      `json:"is_active,omitempty"`
}

// UpdateRecurringAvailabilityRequest modifies a weekly availability window.
type UpdateRecurringAvailabilityRequest struct {
	DayOfWeek    *int       `json:"day_of_week,omitempty" validate:"omitempty,gte=0,lte=6"`
	StartTime    *string    `json:"start_time,omitempty"`
	EndTime      *string    `json:"end_time,omitempty"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	SlotDuration *int       `json:"slot_duration_minutes,omitempty" validate:"omitempty,gte=0,lte=480"`
	BufferTime   *int       `json:"buffer_time_minutes,omitempty" validate:"omitempty,gte=0,lte=120"`
	IsActive     *bool      `json:"is_active,omitempty"`
}

// CreateBlockedTimeRequest blocks a window off an agent's calendar.
type CreateBlockedTimeRequest struct {
	StartAt            time.Time           `json:"start_at" validate:"required"`
	EndAt              time.Time           `json:"end_at" validate:"required"`
	Reason             *string             `json:"reason,omitempty"`
	RecurrenceFreq     RecurrenceFrequency `json:"recurrence_frequency,omitempty" validate:"omitempty,oneof=NONE DAILY WEEKLY MONTHLY"`
	RecurrenceInterval int                 `json:"recurrence_interval,omitempty" validate:"gte=0,lte=52"`
	RecurrenceEndDate  *time.Time          `json:"recurrence_end_date,omitempty"`
}

// ParticipantInput is participant metadata supplied with a tour request.
type ParticipantInput struct {
	FullName     string  `json:"full_name" validate:"required"`
	Phone        *string `json:"phone,omitempty"`
	Email        *string `json:"email,omitempty" validate:"omitempty,email"`
	Relationship *string `json:"relationship,omitempty"`
}

// RequestTourRequest asks for a tour on a concrete interval.
type RequestTourRequest struct {
	PropertyID     string             `json:"property_id" validate:"required"`
	AgentID        string             `json:"agent_id" validate:"required"`
	BookingType    BookingType        `json:"booking_type,omitempty" validate:"omitempty,oneof=tour viewing inspection consultation"`
	Start          time.Time          `json:"start" validate:"required"`
	End            time.Time          `json:"end" validate:"required"`
	IsVirtual      bool               `json:"is_virtual"`
	MeetingLink    *string            `json:"meeting_link,omitempty"`
	RequesterNotes *string            `json:"requester_notes,omitempty"`
	Participants   []ParticipantInput `json:"participants,omitempty" validate:"dive"`
}

// TransitionRequest moves a booking to a target status.
type TransitionRequest struct {
	Status        BookingStatus `json:"status" validate:"required"`
	Reason        *string       `json:"reason,omitempty"`
	Notes         *string       `json:"notes,omitempty"`
	ProposedStart *time.Time    `json:"proposed_start,omitempty"`
	ProposedEnd   *time.Time    `json:"proposed_end,omitempty"`
	MeetingLink   *string       `json:"meeting_link,omitempty"`
}

// LinkCalendarRequest stores an OAuth credential for an external calendar.
type LinkCalendarRequest struct {
	Provider     string    `json:"provider" validate:"required"`
	AccessToken  string    `json:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token" validate:"required"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at" validate:"required"`
}
