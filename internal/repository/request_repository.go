package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

// RequestRepository manages the borrow-request workflow. Approval is the
// only path other than a direct issue that creates a loan, and it performs
// both writes in one transaction.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `r.id, r.user_id, r.book_id, r.status, r.note, r.created_at, r.processed_at`

// CreatePending inserts a new PENDING request. At most one PENDING request
// may exist per (user, book): the pre-check catches the common case and the
// partial unique index on (user_id, book_id) WHERE status = 'PENDING' closes
// the race between concurrent inserts.
func (r *RequestRepository) CreatePending(ctx context.Context, userID, bookID string, requestedAt time.Time) (*models.BookRequest, error) {
	var existing int
	const dupQuery = `SELECT 1 FROM book_requests WHERE user_id = $1 AND book_id = $2 AND status = $3 LIMIT 1`
	if err := r.db.GetContext(ctx, &existing, dupQuery, userID, bookID, models.RequestStatusPending); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("check pending request: %w", err)
		}
	} else {
		return nil, appErrors.ErrDuplicatePending
	}

	request := &models.BookRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		BookID:    bookID,
		Status:    models.RequestStatusPending,
		CreatedAt: requestedAt,
	}
	const insertQuery = `INSERT INTO book_requests (id, user_id, book_id, status, note, created_at, processed_at)
        VALUES ($1, $2, $3, $4, NULL, $5, NULL)`
	if _, err := r.db.ExecContext(ctx, insertQuery, request.ID, request.UserID, request.BookID, request.Status, request.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, appErrors.ErrDuplicatePending
		}
		return nil, fmt.Errorf("insert request: %w", err)
	}
	return request, nil
}

// FindByID returns a request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.BookRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM book_requests r WHERE r.id = $1`, requestColumns)
	var request models.BookRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindDetailByID returns a request joined with user and book context.
func (r *RequestRepository) FindDetailByID(ctx context.Context, id string) (*models.BookRequestDetail, error) {
	query := fmt.Sprintf(`SELECT %s, u.full_name AS user_name, u.email AS user_email, b.title AS book_title, b.available_copies
        FROM book_requests r
        JOIN users u ON u.id = r.user_id
        JOIN books b ON b.id = r.book_id
        WHERE r.id = $1`, requestColumns)
	var detail models.BookRequestDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns request listings filtered by the provided criteria.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.BookRequestDetail, int, error) {
	base := `FROM book_requests r
JOIN users u ON u.id = r.user_id
JOIN books b ON b.id = r.book_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("r.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("r.book_id = $%d", len(args)+1))
		args = append(args, filter.BookID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf(`SELECT %s, u.full_name AS user_name, u.email AS user_email, b.title AS book_title, b.available_copies
        %s ORDER BY r.created_at DESC LIMIT %d OFFSET %d`, requestColumns, base+clause, size, offset)

	var requests []models.BookRequestDetail
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return requests, total, nil
}

// Approve transitions a PENDING request to APPROVED and issues the loan in
// the same transaction, decrementing availability exactly once. If no copy
// is available or the borrower already holds the book, nothing is written
// and the request stays PENDING.
func (r *RequestRepository) Approve(ctx context.Context, requestID string, processedAt time.Time, dueDate time.Time) (request *models.BookRequest, loan *models.LoanRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin approve transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request, err = r.lockPending(ctx, tx, requestID)
	if err != nil {
		return nil, nil, err
	}

	loan, err = issueLoanTx(ctx, tx, request.UserID, request.BookID, processedAt, dueDate)
	if err != nil {
		return nil, nil, err
	}

	const updateQuery = `UPDATE book_requests SET status = $2, processed_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, requestID, models.RequestStatusApproved, processedAt); err != nil {
		return nil, nil, fmt.Errorf("approve request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit approve transaction: %w", err)
	}

	request.Status = models.RequestStatusApproved
	request.ProcessedAt = &processedAt
	return request, loan, nil
}

// Reject transitions a PENDING request to REJECTED with an optional note.
func (r *RequestRepository) Reject(ctx context.Context, requestID string, processedAt time.Time, note string) (request *models.BookRequest, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reject transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request, err = r.lockPending(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	var noteArg interface{}
	if note != "" {
		noteArg = note
	}
	const updateQuery = `UPDATE book_requests SET status = $2, processed_at = $3, note = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, requestID, models.RequestStatusRejected, processedAt, noteArg); err != nil {
		return nil, fmt.Errorf("reject request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reject transaction: %w", err)
	}

	request.Status = models.RequestStatusRejected
	request.ProcessedAt = &processedAt
	if note != "" {
		request.Note = &note
	}
	return request, nil
}

// CountByStatus counts requests in the given status.
func (r *RequestRepository) CountByStatus(ctx context.Context, status models.RequestStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM book_requests WHERE status = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return count, nil
}

func (r *RequestRepository) lockPending(ctx context.Context, tx *sqlx.Tx, requestID string) (*models.BookRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM book_requests r WHERE r.id = $1 FOR UPDATE`, requestColumns)
	var request models.BookRequest
	if err := tx.GetContext(ctx, &request, query, requestID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, fmt.Errorf("lock request row: %w", err)
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request already %s", strings.ToLower(string(request.Status))))
	}
	return &request, nil
}
