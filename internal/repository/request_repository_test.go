package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

func TestRequestRepositoryCreatePending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	requestedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM book_requests WHERE user_id = $1 AND book_id = $2 AND status = $3 LIMIT 1")).
		WithArgs("user-1", "book-1", models.RequestStatusPending).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO book_requests")).
		WithArgs(sqlmock.AnyArg(), "user-1", "book-1", models.RequestStatusPending, requestedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request, err := repo.CreatePending(context.Background(), "user-1", "book-1", requestedAt)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Nil(t, request.ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreatePendingDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM book_requests")).
		WithArgs("user-1", "book-1", models.RequestStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := repo.CreatePending(context.Background(), "user-1", "book-1", time.Now())
	assert.ErrorIs(t, err, appErrors.ErrDuplicatePending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreatePendingConcurrentInsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM book_requests")).
		WithArgs("user-1", "book-1", models.RequestStatusPending).
		WillReturnError(sql.ErrNoRows)
	// A second writer slipped in between the check and the insert; the
	// partial unique index on PENDING rows rejects the duplicate.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO book_requests")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "book_requests_pending_user_book_idx"})

	_, err := repo.CreatePending(context.Background(), "user-1", "book-1", time.Now())
	assert.ErrorIs(t, err, appErrors.ErrDuplicatePending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApprove(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	processedAt := createdAt.Add(24 * time.Hour)
	dueDate := processedAt.AddDate(0, 0, 14)

	requestRows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "note", "created_at", "processed_at"}).
		AddRow("req-1", "user-1", "book-1", models.RequestStatusPending, nil, createdAt, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM book_requests r WHERE r.id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(requestRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available_copies FROM books WHERE id = $1 FOR UPDATE")).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"available_copies"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM loans")).
		WithArgs("user-1", "book-1", models.LoanStatusOpen).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO loans")).
		WithArgs(sqlmock.AnyArg(), "user-1", "book-1", models.LoanStatusOpen, processedAt, dueDate, decimal.Zero, processedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE books SET available_copies = available_copies - 1")).
		WithArgs("book-1", processedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE book_requests SET status = $2, processed_at = $3 WHERE id = $1")).
		WithArgs("req-1", models.RequestStatusApproved, processedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	request, loan, err := repo.Approve(context.Background(), "req-1", processedAt, dueDate)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, request.Status)
	require.NotNil(t, request.ProcessedAt)
	assert.Equal(t, "user-1", loan.UserID)
	assert.Equal(t, models.LoanStatusOpen, loan.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveNoCopies(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	requestRows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "note", "created_at", "processed_at"}).
		AddRow("req-1", "user-1", "book-1", models.RequestStatusPending, nil, createdAt, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(requestRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available_copies FROM books")).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"available_copies"}).AddRow(0))
	mock.ExpectRollback()

	_, _, err := repo.Approve(context.Background(), "req-1", time.Now(), time.Now().AddDate(0, 0, 14))
	assert.ErrorIs(t, err, appErrors.ErrNotAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveAlreadyProcessed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	processedAt := createdAt.Add(time.Hour)
	requestRows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "note", "created_at", "processed_at"}).
		AddRow("req-1", "user-1", "book-1", models.RequestStatusRejected, "no stock", createdAt, processedAt)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(requestRows)
	mock.ExpectRollback()

	_, _, err := repo.Approve(context.Background(), "req-1", time.Now(), time.Now().AddDate(0, 0, 14))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReject(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	processedAt := createdAt.Add(time.Hour)
	requestRows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "note", "created_at", "processed_at"}).
		AddRow("req-1", "user-1", "book-1", models.RequestStatusPending, nil, createdAt, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(requestRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE book_requests SET status = $2, processed_at = $3, note = $4 WHERE id = $1")).
		WithArgs("req-1", models.RequestStatusRejected, processedAt, "out of print").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	request, err := repo.Reject(context.Background(), "req-1", processedAt, "out of print")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, request.Status)
	require.NotNil(t, request.Note)
	assert.Equal(t, "out of print", *request.Note)
	assert.NoError(t, mock.ExpectationsWereMet())
}
