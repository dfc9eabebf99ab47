package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

const lowStockThreshold = 2

type dashboardLoanReader interface {
	CountByStatus(ctx context.Context, status models.LoanStatus, userID string) (int, error)
	CountOverdue(ctx context.Context, asOf time.Time, userID string) (int, error)
	SumFines(ctx context.Context, status models.LoanStatus, userID string) (decimal.Decimal, error)
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]models.LoanDetail, error)
	IssuesPerDepartment(ctx context.Context) ([]models.DepartmentIssue, error)
	MostIssuedBooks(ctx context.Context, limit int) ([]models.BookIssueCount, error)
}

type dashboardRequestReader interface {
	CountByStatus(ctx context.Context, status models.RequestStatus) (int, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.BookRequestDetail, int, error)
}

type dashboardBookReader interface {
	Count(ctx context.Context) (int, error)
	ListLowStock(ctx context.Context, threshold, limit int) ([]models.BookDetail, error)
}

type dashboardUserCounter interface {
	Count(ctx context.Context) (int, error)
}

// DashboardService assembles role-scoped overviews. Results are cached
// briefly; lending mutations invalidate the dashboard keys alongside the
// book listings.
type DashboardService struct {
	loans    dashboardLoanReader
	requests dashboardRequestReader
	books    dashboardBookReader
	users    dashboardUserCounter
	policy   FinePolicy
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewDashboardService builds a DashboardService with sane defaults.
func NewDashboardService(
	loans dashboardLoanReader,
	requests dashboardRequestReader,
	books dashboardBookReader,
	users dashboardUserCounter,
	policy FinePolicy,
	cache *CacheService,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *DashboardService {
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		loans:    loans,
		requests: requests,
		books:    books,
		users:    users,
		policy:   policy,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Student summarises the acting student's lending activity.
func (s *DashboardService) Student(ctx context.Context, actor *models.JWTClaims) (*models.StudentDashboard, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	key := fmt.Sprintf("dashboard:student:%s", actor.UserID)
	var cached models.StudentDashboard
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	now := time.Now().UTC()
	active, err := s.loans.CountByStatus(ctx, models.LoanStatusOpen, actor.UserID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	overdue, err := s.loans.CountOverdue(ctx, now, actor.UserID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	fines, err := s.loans.SumFines(ctx, models.LoanStatusClosed, actor.UserID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	pending, _, err := s.requests.List(ctx, models.RequestFilter{UserID: actor.UserID, Status: models.RequestStatusPending, PageSize: 1})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	recent, _, err := s.loans.List(ctx, models.LoanFilter{UserID: actor.UserID, PageSize: 5, SortBy: "issued_on", SortOrder: "DESC"})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}

	dashboard := &models.StudentDashboard{
		ActiveLoans:     active,
		OverdueLoans:    overdue,
		PendingRequests: len(pending),
		TotalFines:      fines.StringFixed(2),
		RecentLoans:     recent,
	}
	s.store(ctx, key, dashboard)
	return dashboard, false, nil
}

// Librarian summarises the operational queue: what needs processing today.
func (s *DashboardService) Librarian(ctx context.Context, actor *models.JWTClaims) (*models.LibrarianDashboard, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, false, appErrors.ErrForbidden
	}
	key := "dashboard:librarian"
	var cached models.LibrarianDashboard
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	now := time.Now().UTC()
	pending, err := s.requests.CountByStatus(ctx, models.RequestStatusPending)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	active, err := s.loans.CountByStatus(ctx, models.LoanStatusOpen, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	overdue, err := s.loans.CountOverdue(ctx, now, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	lowStock, err := s.books.ListLowStock(ctx, lowStockThreshold, 10)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}

	dashboard := &models.LibrarianDashboard{
		PendingRequests: pending,
		ActiveLoans:     active,
		OverdueLoans:    overdue,
		LowStockBooks:   lowStock,
	}
	s.store(ctx, key, dashboard)
	return dashboard, false, nil
}

// Admin aggregates library-wide statistics, including the fines frozen on
// closed loans and the fines still accruing on overdue open ones.
func (s *DashboardService) Admin(ctx context.Context, actor *models.JWTClaims) (*models.AdminDashboard, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, false, appErrors.ErrForbidden
	}
	key := "dashboard:admin"
	var cached models.AdminDashboard
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	now := time.Now().UTC()
	totalBooks, err := s.books.Count(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	totalUsers, err := s.users.Count(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	active, err := s.loans.CountByStatus(ctx, models.LoanStatusOpen, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	overdueLoans, err := s.loans.ListOverdue(ctx, now)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	collected, err := s.loans.SumFines(ctx, models.LoanStatusClosed, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	perDept, err := s.loans.IssuesPerDepartment(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	mostIssued, err := s.loans.MostIssuedBooks(ctx, 10)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}

	pendingFines := decimal.Zero
	for _, loan := range overdueLoans {
		pendingFines = pendingFines.Add(s.policy.Accrued(loan.DueDate, now))
	}

	dashboard := &models.AdminDashboard{
		TotalBooks:         totalBooks,
		TotalUsers:         totalUsers,
		ActiveLoans:        active,
		OverdueLoans:       len(overdueLoans),
		TotalFineCollected: collected.StringFixed(2),
		PendingFines:       pendingFines.StringFixed(2),
		IssuesPerDept:      perDept,
		MostIssuedBooks:    mostIssued,
	}
	s.store(ctx, key, dashboard)
	return dashboard, false, nil
}

func (s *DashboardService) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache dashboard", zap.String("key", key), zap.Error(err))
	}
}
