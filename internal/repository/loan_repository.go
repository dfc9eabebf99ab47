package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

// LoanRepository owns the loan ledger. Every mutation runs in a single
// transaction that locks the book row, so the availability counter and the
// one-open-loan-per-(user,book) invariant cannot be violated by concurrent
// calls.
type LoanRepository struct {
	db *sqlx.DB
}

// NewLoanRepository constructs the repository.
func NewLoanRepository(db *sqlx.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

const loanColumns = `l.id, l.user_id, l.book_id, l.status, l.issued_on, l.due_date, l.returned_on, l.fine_amount, l.created_at`

// lockBookAvailability loads available_copies under a row lock.
func lockBookAvailability(ctx context.Context, tx *sqlx.Tx, bookID string) (int, error) {
	var available int
	const query = `SELECT available_copies FROM books WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &available, query, bookID); err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return 0, fmt.Errorf("lock book row: %w", err)
	}
	return available, nil
}

// issueLoanTx creates an OPEN loan and decrements availability inside the
// caller's transaction. The request approval path shares it so approve and
// issue never double-decrement.
func issueLoanTx(ctx context.Context, tx *sqlx.Tx, userID, bookID string, issuedOn, dueDate time.Time) (*models.LoanRecord, error) {
	available, err := lockBookAvailability(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	if available <= 0 {
		return nil, appErrors.ErrNotAvailable
	}

	var existing int
	const dupQuery = `SELECT 1 FROM loans WHERE user_id = $1 AND book_id = $2 AND status = $3 LIMIT 1`
	if err := tx.GetContext(ctx, &existing, dupQuery, userID, bookID, models.LoanStatusOpen); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("check open loan: %w", err)
		}
	} else {
		return nil, appErrors.ErrDuplicateLoan
	}

	loan := &models.LoanRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		BookID:     bookID,
		Status:     models.LoanStatusOpen,
		IssuedOn:   issuedOn,
		DueDate:    dueDate,
		FineAmount: decimal.Zero,
		CreatedAt:  issuedOn,
	}
	const insertQuery = `INSERT INTO loans (id, user_id, book_id, status, issued_on, due_date, returned_on, fine_amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8)`
	if _, err := tx.ExecContext(ctx, insertQuery, loan.ID, loan.UserID, loan.BookID, loan.Status, loan.IssuedOn, loan.DueDate, loan.FineAmount, loan.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	const decrementQuery = `UPDATE books SET available_copies = available_copies - 1, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, decrementQuery, bookID, issuedOn); err != nil {
		return nil, fmt.Errorf("decrement availability: %w", err)
	}
	return loan, nil
}

// Issue atomically creates an OPEN loan for (user, book) and decrements the
// book's availability.
func (r *LoanRepository) Issue(ctx context.Context, userID, bookID string, issuedOn, dueDate time.Time) (loan *models.LoanRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin issue transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	loan, err = issueLoanTx(ctx, tx, userID, bookID, issuedOn, dueDate)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit issue transaction: %w", err)
	}
	return loan, nil
}

// Close transitions an OPEN loan to CLOSED, freezes the fine and increments
// the book's availability in one transaction. Closing an already-CLOSED
// loan fails without side effects.
func (r *LoanRepository) Close(ctx context.Context, loanID string, returnedOn time.Time, fine decimal.Decimal) (loan *models.LoanRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin return transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.LoanRecord
	query := fmt.Sprintf(`SELECT %s FROM loans l WHERE l.id = $1 FOR UPDATE`, loanColumns)
	if err = tx.GetContext(ctx, &current, query, loanID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, fmt.Errorf("lock loan row: %w", err)
	}
	if current.Status != models.LoanStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "loan already returned")
	}

	const updateQuery = `UPDATE loans SET status = $2, returned_on = $3, fine_amount = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, loanID, models.LoanStatusClosed, returnedOn, fine); err != nil {
		return nil, fmt.Errorf("close loan: %w", err)
	}

	const incrementQuery = `UPDATE books SET available_copies = available_copies + 1, updated_at = $2 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, incrementQuery, current.BookID, returnedOn); err != nil {
		return nil, fmt.Errorf("increment availability: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit return transaction: %w", err)
	}

	current.Status = models.LoanStatusClosed
	current.ReturnedOn = &returnedOn
	current.FineAmount = fine
	return &current, nil
}

// FindByID returns a loan by identifier.
func (r *LoanRepository) FindByID(ctx context.Context, id string) (*models.LoanRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM loans l WHERE l.id = $1`, loanColumns)
	var loan models.LoanRecord
	if err := r.db.GetContext(ctx, &loan, query, id); err != nil {
		return nil, err
	}
	return &loan, nil
}

// FindDetailByID returns a loan joined with user and book context.
func (r *LoanRepository) FindDetailByID(ctx context.Context, id string) (*models.LoanDetail, error) {
	query := fmt.Sprintf(`SELECT %s, u.full_name AS user_name, u.email AS user_email, b.title AS book_title, b.isbn AS book_isbn
        FROM loans l
        JOIN users u ON u.id = l.user_id
        JOIN books b ON b.id = l.book_id
        WHERE l.id = $1`, loanColumns)
	var detail models.LoanDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsOpen reports whether an OPEN loan exists for (user, book).
func (r *LoanRepository) ExistsOpen(ctx context.Context, userID, bookID string) (bool, error) {
	const query = `SELECT 1 FROM loans WHERE user_id = $1 AND book_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, bookID, models.LoanStatusOpen); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open loan: %w", err)
	}
	return true, nil
}

// List returns loan listings filtered by the provided criteria.
func (r *LoanRepository) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	base := `FROM loans l
JOIN users u ON u.id = l.user_id
JOIN books b ON b.id = l.book_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("l.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("l.book_id = $%d", len(args)+1))
		args = append(args, filter.BookID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("l.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("b.department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.OverdueOnly {
		conditions = append(conditions, fmt.Sprintf("l.status = '%s' AND l.due_date < CURRENT_DATE", models.LoanStatusOpen))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"issued_on": "l.issued_on",
		"due_date":  "l.due_date",
		"user_name": "u.full_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "l.issued_on"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, u.full_name AS user_name, u.email AS user_email, b.title AS book_title, b.isbn AS book_isbn
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, loanColumns, base+clause, orderBy, order, size, offset)

	var loans []models.LoanDetail
	if err := r.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}
	return loans, total, nil
}

// ListOverdue returns all OPEN loans past their due date as of the given
// day, with user and book context for reminder notifications.
func (r *LoanRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]models.LoanDetail, error) {
	query := fmt.Sprintf(`SELECT %s, u.full_name AS user_name, u.email AS user_email, b.title AS book_title, b.isbn AS book_isbn
        FROM loans l
        JOIN users u ON u.id = l.user_id
        JOIN books b ON b.id = l.book_id
        WHERE l.status = $1 AND l.due_date < $2
        ORDER BY l.due_date ASC`, loanColumns)
	var loans []models.LoanDetail
	if err := r.db.SelectContext(ctx, &loans, query, models.LoanStatusOpen, asOf); err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}
	return loans, nil
}

// CountByStatus counts loans in the given status, optionally per user.
func (r *LoanRepository) CountByStatus(ctx context.Context, status models.LoanStatus, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM loans WHERE status = $1`
	args := []interface{}{status}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count loans: %w", err)
	}
	return count, nil
}

// CountOverdue counts OPEN loans past due as of the given day.
func (r *LoanRepository) CountOverdue(ctx context.Context, asOf time.Time, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM loans WHERE status = $1 AND due_date < $2`
	args := []interface{}{models.LoanStatusOpen, asOf}
	if userID != "" {
		query += " AND user_id = $3"
		args = append(args, userID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count overdue loans: %w", err)
	}
	return count, nil
}

// SumFines totals fine amounts, collected (CLOSED) or accrued-but-open.
func (r *LoanRepository) SumFines(ctx context.Context, status models.LoanStatus, userID string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(fine_amount), 0) FROM loans WHERE status = $1`
	args := []interface{}{status}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}
	var total decimal.Decimal
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return decimal.Zero, fmt.Errorf("sum fines: %w", err)
	}
	return total, nil
}

// IssuesPerDepartment counts all loans grouped by the book's department.
func (r *LoanRepository) IssuesPerDepartment(ctx context.Context) ([]models.DepartmentIssue, error) {
	const query = `SELECT COALESCE(d.name, 'Unknown') AS department_name, COUNT(l.id) AS issue_count
        FROM loans l
        JOIN books b ON b.id = l.book_id
        LEFT JOIN departments d ON d.id = b.department_id
        GROUP BY d.name
        ORDER BY issue_count DESC`
	var rows []models.DepartmentIssue
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("issues per department: %w", err)
	}
	return rows, nil
}

// MostIssuedBooks returns the most borrowed books overall.
func (r *LoanRepository) MostIssuedBooks(ctx context.Context, limit int) ([]models.BookIssueCount, error) {
	const query = `SELECT b.id AS book_id, b.title, COUNT(l.id) AS issue_count
        FROM loans l
        JOIN books b ON b.id = l.book_id
        GROUP BY b.id, b.title
        ORDER BY issue_count DESC, b.id ASC
        LIMIT $1`
	var rows []models.BookIssueCount
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("most issued books: %w", err)
	}
	return rows, nil
}
