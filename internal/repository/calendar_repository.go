package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hearthview/tours-api/internal/models"
)

// CalendarRepository persists external calendar links and per-booking sync
// mappings.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs a calendar repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// GetLinkByUser returns the active calendar link for a user.
func (r *CalendarRepository) GetLinkByUser(ctx context.Context, userID string) (*models.ExternalCalendarLink, error) {
	const query = `SELECT id, user_id, provider, access_token, refresh_token, scope, expires_at, revoked, created_at, updated_at
FROM external_calendar_links WHERE user_id = $1 AND revoked = FALSE`
	var link models.ExternalCalendarLink
	if err := r.db.GetContext(ctx, &link, query, userID); err != nil {
		return nil, err
	}
	return &link, nil
}

// UpsertLink stores or replaces a user's calendar credential.
func (r *CalendarRepository) UpsertLink(ctx context.Context, link *models.ExternalCalendarLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	const query = `INSERT INTO external_calendar_links (id, user_id, provider, access_token, refresh_token, scope, expires_at, revoked, created_at, updated_at)
VALUES (:id, :user_id, :provider, :access_token, :refresh_token, :scope, :expires_at, :revoked, :created_at, :updated_at)
ON CONFLICT (user_id, provider) DO UPDATE SET access_token = EXCLUDED.access_token,
refresh_token = EXCLUDED.refresh_token, scope = EXCLUDED.scope, expires_at = EXCLUDED.expires_at,
revoked = EXCLUDED.revoked, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, link); err != nil {
		return fmt.Errorf("upsert calendar link: %w", err)
	}
	return nil
}

// UpdateTokens persists refreshed credentials on an existing link.
func (r *CalendarRepository) UpdateTokens(ctx context.Context, linkID, accessToken, refreshToken string, expiresAt time.Time) error {
	const query = `UPDATE external_calendar_links SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = $5
WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, linkID, accessToken, refreshToken, expiresAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update calendar tokens: %w", err)
	}
	return nil
}

// RevokeLink invalidates a user's stored credential.
func (r *CalendarRepository) RevokeLink(ctx context.Context, userID string) error {
	const query = `UPDATE external_calendar_links SET revoked = TRUE, updated_at = $2 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke calendar link: %w", err)
	}
	return nil
}

// GetMappingByBooking returns the sync mapping for a booking, if any.
func (r *CalendarRepository) GetMappingByBooking(ctx context.Context, bookingID string) (*models.SyncMapping, error) {
	const query = `SELECT id, booking_id, link_id, external_event_id, sync_status, sync_error, last_synced_at, created_at, updated_at
FROM sync_mappings WHERE booking_id = $1`
	var mapping models.SyncMapping
	if err := r.db.GetContext(ctx, &mapping, query, bookingID); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// UpsertMapping stores the booking's sync state. One active mapping per
// booking and link.
func (r *CalendarRepository) UpsertMapping(ctx context.Context, mapping *models.SyncMapping) error {
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	mapping.UpdatedAt = now
	const query = `INSERT INTO sync_mappings (id, booking_id, link_id, external_event_id, sync_status, sync_error, last_synced_at, created_at, updated_at)
VALUES (:id, :booking_id, :link_id, :external_event_id, :sync_status, :sync_error, :last_synced_at, :created_at, :updated_at)
ON CONFLICT (booking_id, link_id) DO UPDATE SET external_event_id = EXCLUDED.external_event_id,
sync_status = EXCLUDED.sync_status, sync_error = EXCLUDED.sync_error,
last_synced_at = EXCLUDED.last_synced_at, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("upsert sync mapping: %w", err)
	}
	return nil
}
