package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

const loanResource = "loan"

type loanLedger interface {
	Issue(ctx context.Context, userID, bookID string, issuedOn, dueDate time.Time) (*models.LoanRecord, error)
	Close(ctx context.Context, loanID string, returnedOn time.Time, fine decimal.Decimal) (*models.LoanRecord, error)
	FindByID(ctx context.Context, id string) (*models.LoanRecord, error)
	FindDetailByID(ctx context.Context, id string) (*models.LoanDetail, error)
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]models.LoanDetail, error)
}

type loanUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type loanBookReader interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// notifier delivers user-facing events. Implementations must not block.
type notifier interface {
	Notify(event models.NotificationEvent)
}

// recommendationInvalidator drops cached recommendations after the
// borrowing history changes.
type recommendationInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// LoanService orchestrates the issue and return lifecycle.
type LoanService struct {
	repo      loanLedger
	users     loanUserReader
	books     loanBookReader
	policy    FinePolicy
	audit     auditLogger
	notify    notifier
	recs      recommendationInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLoanService builds a LoanService with sane defaults.
func NewLoanService(
	repo loanLedger,
	users loanUserReader,
	books loanBookReader,
	policy FinePolicy,
	audit auditLogger,
	notify notifier,
	recs recommendationInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
) *LoanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoanService{
		repo:      repo,
		users:     users,
		books:     books,
		policy:    policy,
		audit:     audit,
		notify:    notify,
		recs:      recs,
		validator: validate,
		logger:    logger,
	}
}

// Issue lends a book directly to a borrower. Staff only; the borrower must
// be an active account and the book must have an available copy.
func (s *LoanService) Issue(ctx context.Context, req models.IssueLoanRequest, actor *models.JWTClaims) (*models.LoanDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid loan payload")
	}

	borrower, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "borrower not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrower")
	}
	if !borrower.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "borrower account inactive")
	}
	if _, err := s.books.FindByID(ctx, req.BookID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}

	issuedOn := time.Now().UTC()
	loan, err := s.repo.Issue(ctx, req.UserID, req.BookID, issuedOn, s.policy.DueDate(issuedOn))
	if err != nil {
		return nil, s.ledgerError(err, "failed to issue loan")
	}

	if s.recs != nil {
		s.recs.Invalidate(ctx, req.UserID)
	}
	s.emitAudit(ctx, actor, models.AuditActionLoanIssue, loan.ID, loan)

	detail, err := s.repo.FindDetailByID(ctx, loan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}
	return detail, nil
}

// Return closes an open loan. Staff may return any loan; a student may only
// return their own. The fine is computed against the due date and frozen on
// the record.
func (s *LoanService) Return(ctx context.Context, loanID string, actor *models.JWTClaims) (*models.LoanDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if loanID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "loan id is required")
	}

	loan, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}
	if !actor.Role.CanManageLoans() && loan.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}

	returnedOn := time.Now().UTC()
	fine := s.policy.Fine(loan.DueDate, returnedOn)
	closed, err := s.repo.Close(ctx, loanID, returnedOn, fine)
	if err != nil {
		return nil, s.ledgerError(err, "failed to return loan")
	}

	s.emitAudit(ctx, actor, models.AuditActionLoanReturn, closed.ID, closed)

	detail, err := s.repo.FindDetailByID(ctx, closed.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}
	return detail, nil
}

// Get returns a single loan. Students only see their own.
func (s *LoanService) Get(ctx context.Context, loanID string, actor *models.JWTClaims) (*models.LoanDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	detail, err := s.repo.FindDetailByID(ctx, loanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}
	if !actor.Role.CanManageLoans() && detail.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

// List returns loans matching the filter. Students are pinned to their own
// history regardless of the requested filter.
func (s *LoanService) List(ctx context.Context, filter models.LoanFilter, actor *models.JWTClaims) ([]models.LoanDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		filter.UserID = actor.UserID
	}
	loans, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return loans, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// OverdueScan finds every open loan past due as of today and enqueues a
// reminder for each borrower, carrying the fine accrued so far. It returns
// the number of reminders dispatched.
func (s *LoanService) OverdueScan(ctx context.Context) (int, error) {
	asOf := time.Now().UTC()
	overdue, err := s.repo.ListOverdue(ctx, asOf)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan overdue loans")
	}
	for i := range overdue {
		loan := overdue[i]
		if s.notify != nil {
			due := loan.DueDate
			s.notify.Notify(models.NotificationEvent{
				Kind:       models.NotificationOverdueReminder,
				UserID:     loan.UserID,
				UserName:   loan.UserName,
				UserEmail:  loan.UserEmail,
				BookTitle:  loan.BookTitle,
				DueDate:    &due,
				FineAmount: s.policy.Accrued(loan.DueDate, asOf).StringFixed(2),
			})
		}
	}
	if len(overdue) > 0 {
		s.logger.Info("overdue scan dispatched reminders", zap.Int("count", len(overdue)))
	}
	return len(overdue), nil
}

func (s *LoanService) ledgerError(err error, fallback string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fallback)
}

func (s *LoanService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	newValues, _ := json.Marshal(payload)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   loanResource,
		ResourceID: &resourceID,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "loan-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record loan audit", zap.Error(err))
	}
}
