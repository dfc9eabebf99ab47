package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

type mockDashboardLoans struct {
	openCount    int
	overdueCount int
	fines        decimal.Decimal
	loans        []models.LoanDetail
	overdue      []models.LoanDetail
	perDept      []models.DepartmentIssue
	mostIssued   []models.BookIssueCount
}

func (m *mockDashboardLoans) CountByStatus(ctx context.Context, status models.LoanStatus, userID string) (int, error) {
	return m.openCount, nil
}

func (m *mockDashboardLoans) CountOverdue(ctx context.Context, asOf time.Time, userID string) (int, error) {
	return m.overdueCount, nil
}

func (m *mockDashboardLoans) SumFines(ctx context.Context, status models.LoanStatus, userID string) (decimal.Decimal, error) {
	return m.fines, nil
}

func (m *mockDashboardLoans) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	return m.loans, len(m.loans), nil
}

func (m *mockDashboardLoans) ListOverdue(ctx context.Context, asOf time.Time) ([]models.LoanDetail, error) {
	return m.overdue, nil
}

func (m *mockDashboardLoans) IssuesPerDepartment(ctx context.Context) ([]models.DepartmentIssue, error) {
	return m.perDept, nil
}

func (m *mockDashboardLoans) MostIssuedBooks(ctx context.Context, limit int) ([]models.BookIssueCount, error) {
	return m.mostIssued, nil
}

type mockDashboardRequests struct {
	pendingCount int
	pending      []models.BookRequestDetail
}

func (m *mockDashboardRequests) CountByStatus(ctx context.Context, status models.RequestStatus) (int, error) {
	return m.pendingCount, nil
}

func (m *mockDashboardRequests) List(ctx context.Context, filter models.RequestFilter) ([]models.BookRequestDetail, int, error) {
	return m.pending, len(m.pending), nil
}

type mockDashboardBooks struct {
	total    int
	lowStock []models.BookDetail
}

func (m *mockDashboardBooks) Count(ctx context.Context) (int, error) {
	return m.total, nil
}

func (m *mockDashboardBooks) ListLowStock(ctx context.Context, threshold, limit int) ([]models.BookDetail, error) {
	return m.lowStock, nil
}

type mockDashboardUsers struct {
	total int
}

func (m *mockDashboardUsers) Count(ctx context.Context) (int, error) {
	return m.total, nil
}

func newDashboardServiceForTest(loans *mockDashboardLoans, requests *mockDashboardRequests, books *mockDashboardBooks, users *mockDashboardUsers, cache *CacheService) *DashboardService {
	if loans == nil {
		loans = &mockDashboardLoans{}
	}
	if requests == nil {
		requests = &mockDashboardRequests{}
	}
	if books == nil {
		books = &mockDashboardBooks{}
	}
	if users == nil {
		users = &mockDashboardUsers{}
	}
	return NewDashboardService(loans, requests, books, users, NewFinePolicy(14, "2.00"), cache, time.Minute, nil)
}

func TestDashboardStudent(t *testing.T) {
	loans := &mockDashboardLoans{
		openCount:    2,
		overdueCount: 1,
		fines:        decimal.RequireFromString("8.00"),
		loans:        []models.LoanDetail{{LoanRecord: models.LoanRecord{ID: "loan-1"}}},
	}
	requests := &mockDashboardRequests{pending: []models.BookRequestDetail{{BookRequest: models.BookRequest{ID: "req-1"}}}}
	svc := newDashboardServiceForTest(loans, requests, nil, nil, nil)

	dashboard, cached, err := svc.Student(context.Background(), studentClaims("user-1"))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, dashboard.ActiveLoans)
	assert.Equal(t, 1, dashboard.OverdueLoans)
	assert.Equal(t, 1, dashboard.PendingRequests)
	assert.Equal(t, "8.00", dashboard.TotalFines)
	assert.Len(t, dashboard.RecentLoans, 1)
}

func TestDashboardLibrarianRequiresStaff(t *testing.T) {
	svc := newDashboardServiceForTest(nil, nil, nil, nil, nil)
	_, _, err := svc.Librarian(context.Background(), studentClaims("user-1"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestDashboardLibrarian(t *testing.T) {
	loans := &mockDashboardLoans{openCount: 7, overdueCount: 3}
	requests := &mockDashboardRequests{pendingCount: 4}
	books := &mockDashboardBooks{lowStock: []models.BookDetail{{Book: models.Book{ID: "book-1", AvailableCopies: 1}}}}
	svc := newDashboardServiceForTest(loans, requests, books, nil, nil)

	dashboard, _, err := svc.Librarian(context.Background(), librarianClaims())
	require.NoError(t, err)
	assert.Equal(t, 4, dashboard.PendingRequests)
	assert.Equal(t, 7, dashboard.ActiveLoans)
	assert.Equal(t, 3, dashboard.OverdueLoans)
	assert.Len(t, dashboard.LowStockBooks, 1)
}

func TestDashboardAdminOnly(t *testing.T) {
	svc := newDashboardServiceForTest(nil, nil, nil, nil, nil)
	_, _, err := svc.Admin(context.Background(), librarianClaims())
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestDashboardAdminAccruesPendingFines(t *testing.T) {
	now := time.Now().UTC()
	loans := &mockDashboardLoans{
		openCount: 5,
		fines:     decimal.RequireFromString("42.00"),
		overdue: []models.LoanDetail{
			{LoanRecord: models.LoanRecord{ID: "loan-1", DueDate: now.AddDate(0, 0, -3)}},
			{LoanRecord: models.LoanRecord{ID: "loan-2", DueDate: now.AddDate(0, 0, -1)}},
		},
		perDept:    []models.DepartmentIssue{{DepartmentName: "Mathematics", IssueCount: 12}},
		mostIssued: []models.BookIssueCount{{BookID: "book-1", Title: "Calculus", IssueCount: 9}},
	}
	books := &mockDashboardBooks{total: 120}
	users := &mockDashboardUsers{total: 300}
	svc := newDashboardServiceForTest(loans, nil, books, users, nil)

	dashboard, _, err := svc.Admin(context.Background(), adminClaims())
	require.NoError(t, err)
	assert.Equal(t, 120, dashboard.TotalBooks)
	assert.Equal(t, 300, dashboard.TotalUsers)
	assert.Equal(t, 2, dashboard.OverdueLoans)
	assert.Equal(t, "42.00", dashboard.TotalFineCollected)
	// 3 days late plus 1 day late at 2.00/day.
	assert.Equal(t, "8.00", dashboard.PendingFines)
	require.Len(t, dashboard.IssuesPerDept, 1)
	assert.Equal(t, "Mathematics", dashboard.IssuesPerDept[0].DepartmentName)
}

func TestDashboardStudentCached(t *testing.T) {
	loans := &mockDashboardLoans{openCount: 2}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := newDashboardServiceForTest(loans, nil, nil, nil, cache)
	actor := studentClaims("user-1")

	_, _, err := svc.Student(context.Background(), actor)
	require.NoError(t, err)
	require.Contains(t, cacheRepo.entries, "dashboard:student:user-1")

	loans.openCount = 9
	dashboard, cached, err := svc.Student(context.Background(), actor)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 2, dashboard.ActiveLoans)
}
