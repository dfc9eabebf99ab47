package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

func TestLoanRepositoryIssue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	issuedOn := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dueDate := issuedOn.AddDate(0, 0, 14)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available_copies FROM books WHERE id = $1 FOR UPDATE")).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"available_copies"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM loans WHERE user_id = $1 AND book_id = $2 AND status = $3 LIMIT 1")).
		WithArgs("user-1", "book-1", models.LoanStatusOpen).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO loans")).
		WithArgs(sqlmock.AnyArg(), "user-1", "book-1", models.LoanStatusOpen, issuedOn, dueDate, decimal.Zero, issuedOn).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE books SET available_copies = available_copies - 1")).
		WithArgs("book-1", issuedOn).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	loan, err := repo.Issue(context.Background(), "user-1", "book-1", issuedOn, dueDate)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusOpen, loan.Status)
	assert.Equal(t, dueDate, loan.DueDate)
	assert.True(t, loan.FineAmount.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryIssueNoCopies(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available_copies FROM books WHERE id = $1 FOR UPDATE")).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"available_copies"}).AddRow(0))
	mock.ExpectRollback()

	_, err := repo.Issue(context.Background(), "user-1", "book-1", time.Now(), time.Now().AddDate(0, 0, 14))
	assert.ErrorIs(t, err, appErrors.ErrNotAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryIssueDuplicateOpenLoan(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available_copies FROM books WHERE id = $1 FOR UPDATE")).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"available_copies"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM loans")).
		WithArgs("user-1", "book-1", models.LoanStatusOpen).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := repo.Issue(context.Background(), "user-1", "book-1", time.Now(), time.Now().AddDate(0, 0, 14))
	assert.ErrorIs(t, err, appErrors.ErrDuplicateLoan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryClose(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	issuedOn := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dueDate := issuedOn.AddDate(0, 0, 14)
	returnedOn := dueDate.AddDate(0, 0, 3)
	fine := decimal.RequireFromString("6.00")

	rows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "issued_on", "due_date", "returned_on", "fine_amount", "created_at"}).
		AddRow("loan-1", "user-1", "book-1", models.LoanStatusOpen, issuedOn, dueDate, nil, decimal.Zero, issuedOn)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans l WHERE l.id = $1 FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE loans SET status = $2, returned_on = $3, fine_amount = $4 WHERE id = $1")).
		WithArgs("loan-1", models.LoanStatusClosed, returnedOn, fine).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE books SET available_copies = available_copies + 1")).
		WithArgs("book-1", returnedOn).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	loan, err := repo.Close(context.Background(), "loan-1", returnedOn, fine)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusClosed, loan.Status)
	require.NotNil(t, loan.ReturnedOn)
	assert.True(t, loan.FineAmount.Equal(fine))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryCloseAlreadyClosed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	issuedOn := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	returnedOn := issuedOn.AddDate(0, 0, 10)
	rows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "issued_on", "due_date", "returned_on", "fine_amount", "created_at"}).
		AddRow("loan-1", "user-1", "book-1", models.LoanStatusClosed, issuedOn, issuedOn.AddDate(0, 0, 14), returnedOn, decimal.Zero, issuedOn)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := repo.Close(context.Background(), "loan-1", time.Now(), decimal.Zero)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryListOverdue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	asOf := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	issuedOn := asOf.AddDate(0, 0, -20)
	rows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "status", "issued_on", "due_date", "returned_on", "fine_amount", "created_at", "user_name", "user_email", "book_title", "book_isbn"}).
		AddRow("loan-1", "user-1", "book-1", models.LoanStatusOpen, issuedOn, issuedOn.AddDate(0, 0, 14), nil, decimal.Zero, issuedOn, "Ann Chu", "ann@campus.edu", "Discrete Mathematics", "978-0")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE l.status = $1 AND l.due_date < $2")).
		WithArgs(models.LoanStatusOpen, asOf).
		WillReturnRows(rows)

	overdue, err := repo.ListOverdue(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "ann@campus.edu", overdue[0].UserEmail)
	assert.True(t, overdue[0].IsOverdue(asOf))
}
