package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

type mockRecommendationReader struct {
	borrowed   map[string][]string
	candidates []models.Book
	coCounts   map[string][]models.BookPopularity
	global     []models.BookPopularity
	dept       map[string][]models.BookPopularity
}

func (m *mockRecommendationReader) BorrowedBookIDs(ctx context.Context, userID string) ([]string, error) {
	return m.borrowed[userID], nil
}

func (m *mockRecommendationReader) Candidates(ctx context.Context) ([]models.Book, error) {
	return m.candidates, nil
}

func (m *mockRecommendationReader) CoBorrowerCounts(ctx context.Context, userID string) ([]models.BookPopularity, error) {
	return m.coCounts[userID], nil
}

func (m *mockRecommendationReader) GlobalPopularity(ctx context.Context) ([]models.BookPopularity, error) {
	return m.global, nil
}

func (m *mockRecommendationReader) DepartmentPopularity(ctx context.Context, departmentID string) ([]models.BookPopularity, error) {
	return m.dept[departmentID], nil
}

// memoryCacheRepo is a map-backed stand-in for the redis repository.
type memoryCacheRepo struct {
	entries map[string][]byte
	deleted []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	delete(m.entries, pattern)
	return nil
}

func strPtr(s string) *string {
	return &s
}

func studentWithDept(id, deptID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, DepartmentID: &deptID}
}

func recommendationFixture() *mockRecommendationReader {
	return &mockRecommendationReader{
		borrowed: map[string][]string{"user-1": {"book-1"}},
		candidates: []models.Book{
			{ID: "book-1", Title: "Calculus", Subject: "MATH", DepartmentID: strPtr("dept-1"), CategoryID: strPtr("cat-1")},
			{ID: "book-2", Title: "Linear Algebra", Subject: "MATH", DepartmentID: strPtr("dept-1"), CategoryID: strPtr("cat-1")},
			{ID: "book-3", Title: "Art History", Subject: "ART", DepartmentID: strPtr("dept-2"), CategoryID: strPtr("cat-2")},
			{ID: "book-4", Title: "Topology", Subject: "GEOM", DepartmentID: strPtr("dept-1")},
		},
		coCounts: map[string][]models.BookPopularity{
			"user-1": {{BookID: "book-2", BorrowCount: 2}},
		},
		global: []models.BookPopularity{
			{BookID: "book-1", BorrowCount: 10},
			{BookID: "book-2", BorrowCount: 5},
			{BookID: "book-3", BorrowCount: 5},
		},
		dept: map[string][]models.BookPopularity{
			"dept-1": {{BookID: "book-2", BorrowCount: 3}},
		},
	}
}

func TestRecommendationScoring(t *testing.T) {
	svc := NewRecommendationService(recommendationFixture(), nil, nil, 0, 0, nil)

	set, err := svc.Recommend(context.Background(), studentWithDept("user-1", "dept-1"), 10)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationSourceEngine, set.Source)
	require.Len(t, set.Items, 3)

	// book-2: dept 0.5 + subject 1.5 + category 1.0 + co-borrowers 2*0.3
	// + global 5*0.02 + dept popularity 3*0.1 = 4.0
	assert.Equal(t, "book-2", set.Items[0].Book.ID)
	assert.InDelta(t, 4.0, set.Items[0].Score, 1e-9)

	// book-4: dept affinity only.
	assert.Equal(t, "book-4", set.Items[1].Book.ID)
	assert.InDelta(t, 0.5, set.Items[1].Score, 1e-9)

	// book-3: global popularity only, 5*0.02.
	assert.Equal(t, "book-3", set.Items[2].Book.ID)
	assert.InDelta(t, 0.1, set.Items[2].Score, 1e-9)
}

func TestRecommendationExcludesBorrowed(t *testing.T) {
	svc := NewRecommendationService(recommendationFixture(), nil, nil, 0, 0, nil)
	set, err := svc.Recommend(context.Background(), studentWithDept("user-1", "dept-1"), 10)
	require.NoError(t, err)
	for _, item := range set.Items {
		assert.NotEqual(t, "book-1", item.Book.ID)
	}
}

func TestRecommendationTieBreakByBookID(t *testing.T) {
	repo := &mockRecommendationReader{
		borrowed: map[string][]string{"user-1": {}},
		candidates: []models.Book{
			{ID: "book-b", DepartmentID: strPtr("dept-1")},
			{ID: "book-a", DepartmentID: strPtr("dept-1")},
		},
		coCounts: map[string][]models.BookPopularity{},
		dept:     map[string][]models.BookPopularity{},
	}
	svc := NewRecommendationService(repo, nil, nil, 0, 0, nil)

	set, err := svc.Recommend(context.Background(), studentWithDept("user-1", "dept-1"), 10)
	require.NoError(t, err)
	require.Len(t, set.Items, 2)
	assert.Equal(t, "book-a", set.Items[0].Book.ID)
	assert.Equal(t, "book-b", set.Items[1].Book.ID)
}

func TestRecommendationNonStudentGetsPopular(t *testing.T) {
	svc := NewRecommendationService(recommendationFixture(), nil, nil, 0, 0, nil)

	set, err := svc.Recommend(context.Background(), librarianClaims(), 10)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationSourcePopular, set.Source)
	require.NotEmpty(t, set.Items)
	assert.Equal(t, "book-1", set.Items[0].Book.ID)
}

func TestRecommendationAnonymousGetsPopular(t *testing.T) {
	svc := NewRecommendationService(recommendationFixture(), nil, nil, 0, 0, nil)

	set, err := svc.Recommend(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationSourcePopular, set.Source)
	require.NotEmpty(t, set.Items)
	assert.Equal(t, "book-1", set.Items[0].Book.ID)
}

func TestRecommendationEmptyScoresFallBackToDepartment(t *testing.T) {
	repo := &mockRecommendationReader{
		borrowed: map[string][]string{"user-1": {}},
		candidates: []models.Book{
			{ID: "book-3", DepartmentID: strPtr("dept-2")},
		},
		coCounts: map[string][]models.BookPopularity{},
		dept: map[string][]models.BookPopularity{
			"dept-2": {{BookID: "book-3", BorrowCount: 4}},
		},
	}
	svc := NewRecommendationService(repo, nil, nil, 0, 0, nil)

	// The user belongs to dept-1 but the only book is housed in dept-2,
	// so nothing scores and the department fallback comes up empty too.
	set, err := svc.Recommend(context.Background(), studentWithDept("user-1", "dept-1"), 10)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationSourcePopular, set.Source)
}

func TestRecommendationCacheRoundTrip(t *testing.T) {
	repo := recommendationFixture()
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewRecommendationService(repo, cache, nil, time.Minute, 10, nil)
	actor := studentWithDept("user-1", "dept-1")

	first, err := svc.Recommend(context.Background(), actor, 10)
	require.NoError(t, err)
	require.Contains(t, cacheRepo.entries, "recommendations:user-1")

	// Mutate the backing data; the cached set must win until invalidated.
	repo.candidates = nil
	second, err := svc.Recommend(context.Background(), actor, 10)
	require.NoError(t, err)
	assert.Equal(t, len(first.Items), len(second.Items))

	svc.Invalidate(context.Background(), "user-1")
	assert.Contains(t, cacheRepo.deleted, "recommendations:user-1")
}

func TestRecommendationLimitClamp(t *testing.T) {
	svc := NewRecommendationService(recommendationFixture(), nil, nil, 0, 1, nil)
	set, err := svc.Recommend(context.Background(), studentWithDept("user-1", "dept-1"), 500)
	require.NoError(t, err)
	assert.Len(t, set.Items, 1)
}

type stubReranker struct {
	source string
}

func (s *stubReranker) Rerank(ctx context.Context, user *models.JWTClaims, items []models.RecommendedBook) ([]models.RecommendedBook, string) {
	// Reverse order to make the effect observable.
	out := make([]models.RecommendedBook, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	return out, s.source
}

func TestRecommendationRerankerApplied(t *testing.T) {
	svc := NewRecommendationService(recommendationFixture(), nil, &stubReranker{source: models.RecommendationSourceAssisted}, 0, 0, nil)

	set, err := svc.Recommend(context.Background(), studentWithDept("user-1", "dept-1"), 10)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationSourceAssisted, set.Source)
	require.Len(t, set.Items, 3)
	assert.Equal(t, "book-3", set.Items[0].Book.ID)
}
