package models

import "time"

// ExternalCalendarLink stores a user's OAuth credential for a third-party
// calendar provider.
type ExternalCalendarLink struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Provider     string    `db:"provider" json:"provider"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	Scope        string    `db:"scope" json:"scope"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	Revoked      bool      `db:"revoked" json:"revoked"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the access token needs a refresh.
func (l ExternalCalendarLink) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// SyncStatus tracks the state of a booking's mirrored calendar event.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// SyncMapping ties one booking to one external calendar event. A booking
// has at most one active mapping per connected calendar.
type SyncMapping struct {
	ID              string     `db:"id" json:"id"`
	BookingID       string     `db:"booking_id" json:"booking_id"`
	LinkID          string     `db:"link_id" json:"link_id"`
	ExternalEventID *string    `db:"external_event_id" json:"external_event_id,omitempty"`
	SyncStatus      SyncStatus `db:"sync_status" json:"sync_status"`
	SyncError       *string    `db:"sync_error" json:"sync_error,omitempty"`
	LastSyncedAt    *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}
