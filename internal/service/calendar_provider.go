package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthview/tours-api/internal/timeslot"
)

// TokenSet is a refreshed OAuth credential pair.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CalendarEvent is the payload pushed to the external provider.
type CalendarEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// CalendarProvider abstracts the external calendar API. Implementations must
// treat every call as best-effort; callers decide how to degrade.
type CalendarProvider interface {
	FreeBusy(ctx context.Context, accessToken string, window timeslot.Interval) ([]timeslot.Interval, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
	UpsertEvent(ctx context.Context, accessToken, externalEventID string, event CalendarEvent) (string, error)
	DeleteEvent(ctx context.Context, accessToken, externalEventID string) error
}

// HTTPCalendarProvider talks to a REST calendar API with bearer tokens.
// Requests are bounded by the client timeout so a slow provider cannot stall
// an availability read.
type HTTPCalendarProvider struct {
	baseURL  string
	tokenURL string
	client   *http.Client
}

// NewHTTPCalendarProvider constructs a provider against the given endpoints.
func NewHTTPCalendarProvider(baseURL, tokenURL string, timeout time.Duration) *HTTPCalendarProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPCalendarProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokenURL: tokenURL,
		client:   &http.Client{Timeout: timeout},
	}
}

type freeBusyResponse struct {
	Busy []struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"busy"`
}

// FreeBusy reads the busy intervals overlapping the window.
func (p *HTTPCalendarProvider) FreeBusy(ctx context.Context, accessToken string, window timeslot.Interval) ([]timeslot.Interval, error) {
	endpoint := fmt.Sprintf("%s/freebusy?from=%s&to=%s", p.baseURL,
		url.QueryEscape(window.Start.Format(time.RFC3339)),
		url.QueryEscape(window.End.Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build freebusy request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freebusy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("freebusy request: unexpected status %d", resp.StatusCode)
	}

	var payload freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode freebusy response: %w", err)
	}

	busy := make([]timeslot.Interval, 0, len(payload.Busy))
	for _, b := range payload.Busy {
		iv, err := timeslot.New(b.Start, b.End)
		if err != nil {
			continue
		}
		busy = append(busy, iv)
	}
	return busy, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshToken exchanges a refresh token for a fresh access token.
func (p *HTTPCalendarProvider) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access token")
	}

	refreshed := &TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = refreshToken
	}
	return refreshed, nil
}

type eventResponse struct {
	ID string `json:"id"`
}

// UpsertEvent creates the event, or updates it when an external id is known.
// Returns the external event id.
func (p *HTTPCalendarProvider) UpsertEvent(ctx context.Context, accessToken, externalEventID string, event CalendarEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal calendar event: %w", err)
	}

	method := http.MethodPost
	endpoint := p.baseURL + "/events"
	if externalEventID != "" {
		method = http.MethodPatch
		endpoint = p.baseURL + "/events/" + url.PathEscape(externalEventID)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("event request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("event request: unexpected status %d", resp.StatusCode)
	}

	var payload eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode event response: %w", err)
	}
	if payload.ID == "" {
		payload.ID = externalEventID
	}
	return payload.ID, nil
}

// DeleteEvent removes a previously mirrored event. An already-deleted event is
// not an error; the mirror converges either way.
func (p *HTTPCalendarProvider) DeleteEvent(ctx context.Context, accessToken, externalEventID string) error {
	endpoint := p.baseURL + "/events/" + url.PathEscape(externalEventID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build event delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("event delete request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("event delete request: unexpected status %d", resp.StatusCode)
	}
}
