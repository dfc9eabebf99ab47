package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

const requestResource = "book_request"

type requestStore interface {
	CreatePending(ctx context.Context, userID, bookID string, requestedAt time.Time) (*models.BookRequest, error)
	FindByID(ctx context.Context, id string) (*models.BookRequest, error)
	FindDetailByID(ctx context.Context, id string) (*models.BookRequestDetail, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.BookRequestDetail, int, error)
	Approve(ctx context.Context, requestID string, processedAt time.Time, dueDate time.Time) (*models.BookRequest, *models.LoanRecord, error)
	Reject(ctx context.Context, requestID string, processedAt time.Time, note string) (*models.BookRequest, error)
}

type requestBookReader interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

type requestOpenLoanChecker interface {
	ExistsOpen(ctx context.Context, userID, bookID string) (bool, error)
}

// RequestService runs the borrow-request workflow: students place PENDING
// requests, staff approve or reject them, and approval issues the loan.
type RequestService struct {
	repo      requestStore
	books     requestBookReader
	loans     requestOpenLoanChecker
	policy    FinePolicy
	audit     auditLogger
	notify    notifier
	recs      recommendationInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService builds a RequestService with sane defaults.
func NewRequestService(
	repo requestStore,
	books requestBookReader,
	loans requestOpenLoanChecker,
	policy FinePolicy,
	audit auditLogger,
	notify notifier,
	recs recommendationInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		repo:      repo,
		books:     books,
		loans:     loans,
		policy:    policy,
		audit:     audit,
		notify:    notify,
		recs:      recs,
		validator: validate,
		logger:    logger,
	}
}

// Create places a PENDING request for the acting user. The book must exist
// and the user may not already hold an open loan or a pending request for it.
func (s *RequestService) Create(ctx context.Context, req models.CreateRequestRequest, actor *models.JWTClaims) (*models.BookRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students place borrow requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	book, err := s.books.FindByID(ctx, req.BookID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	if book.AvailableCopies <= 0 {
		return nil, appErrors.ErrNotAvailable
	}

	holding, err := s.loans.ExistsOpen(ctx, actor.UserID, req.BookID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open loans")
	}
	if holding {
		return nil, appErrors.ErrActiveLoanExists
	}

	request, err := s.repo.CreatePending(ctx, actor.UserID, req.BookID, time.Now().UTC())
	if err != nil {
		return nil, s.workflowError(err, "failed to create request")
	}
	return request, nil
}

// Get returns a single request. Students only see their own.
func (s *RequestService) Get(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.BookRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	detail, err := s.repo.FindDetailByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !actor.Role.CanManageLoans() && detail.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

// List returns requests matching the filter. Students are pinned to their
// own requests regardless of the requested filter.
func (s *RequestService) List(ctx context.Context, filter models.RequestFilter, actor *models.JWTClaims) ([]models.BookRequestDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		filter.UserID = actor.UserID
	}
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Approve accepts a PENDING request and issues the loan in one transaction.
// On success the borrower is notified and their cached recommendations are
// invalidated.
func (s *RequestService) Approve(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.BookRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}

	processedAt := time.Now().UTC()
	request, loan, err := s.repo.Approve(ctx, requestID, processedAt, s.policy.DueDate(processedAt))
	if err != nil {
		return nil, s.workflowError(err, "failed to approve request")
	}

	if s.recs != nil {
		s.recs.Invalidate(ctx, request.UserID)
	}
	s.emitAudit(ctx, actor, models.AuditActionRequestApprove, request.ID, loan)

	detail, err := s.repo.FindDetailByID(ctx, request.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if s.notify != nil {
		due := loan.DueDate
		s.notify.Notify(models.NotificationEvent{
			Kind:      models.NotificationRequestApproved,
			UserID:    detail.UserID,
			UserName:  detail.UserName,
			UserEmail: detail.UserEmail,
			BookTitle: detail.BookTitle,
			DueDate:   &due,
		})
	}
	return detail, nil
}

// Reject declines a PENDING request with an optional note for the borrower.
func (s *RequestService) Reject(ctx context.Context, requestID string, req models.RejectRequestRequest, actor *models.JWTClaims) (*models.BookRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}

	request, err := s.repo.Reject(ctx, requestID, time.Now().UTC(), req.Note)
	if err != nil {
		return nil, s.workflowError(err, "failed to reject request")
	}

	s.emitAudit(ctx, actor, models.AuditActionRequestReject, request.ID, request)

	detail, err := s.repo.FindDetailByID(ctx, request.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if s.notify != nil {
		s.notify.Notify(models.NotificationEvent{
			Kind:      models.NotificationRequestRejected,
			UserID:    detail.UserID,
			UserName:  detail.UserName,
			UserEmail: detail.UserEmail,
			BookTitle: detail.BookTitle,
		})
	}
	return detail, nil
}

func (s *RequestService) workflowError(err error, fallback string) error {
	if appErr := appErrors.FromError(err); appErr.Code != appErrors.ErrInternal.Code {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fallback)
}

func (s *RequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	newValues, _ := json.Marshal(payload)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   requestResource,
		ResourceID: &resourceID,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record request audit", zap.Error(err))
	}
}
