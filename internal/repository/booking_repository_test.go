package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/timeslot"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

var bookingColumnNames = []string{
	"id", "property_id", "requester_id", "agent_id", "booking_type", "status",
	"requested_start", "requested_end", "confirmed_start", "confirmed_end", "proposed_start", "proposed_end",
	"is_virtual", "meeting_link", "requester_notes", "agent_notes", "admin_notes", "cancellation_reason",
	"last_action_by", "last_action_type", "confirmed_at", "cancelled_at", "completed_at", "created_at", "updated_at",
}

func addBookingRow(rows *sqlmock.Rows, id string, start, end time.Time) {
	rows.AddRow(id, "prop-1", "user-1", "agent-1", "tour", "pending",
		start, end, nil, nil, nil, nil,
		false, nil, nil, nil, nil, nil,
		"user-1", "created", nil, nil, nil, start, start)
}

func TestBookingRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(bookingColumnNames)
	addBookingRow(rows, "b-1", start, start.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
		WithArgs("b-1").
		WillReturnRows(rows)

	booking, err := repo.FindByID(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", booking.ID)
	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, start, booking.RequestedStart.UTC())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
		WithArgs("b-99").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "b-99")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestBookingRepositoryListOccupyingForAgentDay(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	day := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	start := dayStart.Add(10 * time.Hour)
	rows := sqlmock.NewRows(bookingColumnNames)
	addBookingRow(rows, "b-1", start, start.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("status NOT IN ('cancelled', 'completed', 'no_show')")).
		WithArgs("agent-1", dayStart, dayEnd).
		WillReturnRows(rows)

	bookings, err := repo.ListOccupyingForAgentDay(context.Background(), "agent-1", day)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "b-1", bookings[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(bookingColumnNames)
	addBookingRow(rows, "b-1", start, start.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("AND agent_id = $1")).
		WithArgs("agent-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bookings")).
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	bookings, total, err := repo.List(context.Background(), models.BookingFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateIfFreeWins(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	guard := timeslot.Interval{Start: start.Add(-15 * time.Minute), End: start.Add(time.Hour + 15*time.Minute)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("agent-1:2026-03-02").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("status NOT IN ('cancelled', 'completed', 'no_show')")).
		WithArgs("agent-1", guard.Start, guard.End).
		WillReturnRows(sqlmock.NewRows(bookingColumnNames))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	booking := &models.Booking{
		PropertyID:     "prop-1",
		RequesterID:    "user-1",
		AgentID:        "agent-1",
		BookingType:    models.TypeTour,
		Status:         models.StatusPending,
		RequestedStart: start,
		RequestedEnd:   start.Add(time.Hour),
	}
	overlapping, err := repo.CreateIfFree(context.Background(), booking, guard)
	require.NoError(t, err)
	assert.Empty(t, overlapping)
	assert.NotEmpty(t, booking.ID, "id assigned on insert")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateIfFreeLoses(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	guard := timeslot.Interval{Start: start, End: start.Add(time.Hour)}

	winner := sqlmock.NewRows(bookingColumnNames)
	addBookingRow(winner, "b-winner", start, start.Add(time.Hour))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs("agent-1:2026-03-02").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("status NOT IN")).
		WithArgs("agent-1", guard.Start, guard.End).
		WillReturnRows(winner)
	mock.ExpectRollback()

	booking := &models.Booking{AgentID: "agent-1", RequestedStart: start, RequestedEnd: start.Add(time.Hour)}
	overlapping, err := repo.CreateIfFree(context.Background(), booking, guard)
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	assert.Equal(t, "b-winner", overlapping[0].ID)
	assert.Empty(t, booking.ID, "losing booking is not inserted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status =")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	booking := &models.Booking{ID: "b-1", Status: models.StatusConfirmed}
	require.NoError(t, repo.Update(context.Background(), booking))
	assert.False(t, booking.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryParticipants(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_participants")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p := &models.Participant{BookingID: "b-1", FullName: "Sam Visitor"}
	require.NoError(t, repo.AddParticipant(context.Background(), p))
	assert.NotEmpty(t, p.ID)

	rows := sqlmock.NewRows([]string{"id", "booking_id", "full_name", "phone", "email", "relationship", "created_at"}).
		AddRow(p.ID, "b-1", "Sam Visitor", nil, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM booking_participants WHERE booking_id = $1")).
		WithArgs("b-1").
		WillReturnRows(rows)

	participants, err := repo.ListParticipants(context.Background(), "b-1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "Sam Visitor", participants[0].FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}
