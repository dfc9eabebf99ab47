package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

// Scoring weights for the deterministic engine.
const (
	departmentAffinityScore = 0.5
	subjectAffinityScore    = 1.5
	categoryAffinityScore   = 1.0
	coBorrowerWeight        = 0.3
	globalPopularityWeight  = 0.02
	deptPopularityWeight    = 0.1
)

type recommendationReader interface {
	BorrowedBookIDs(ctx context.Context, userID string) ([]string, error)
	Candidates(ctx context.Context) ([]models.Book, error)
	CoBorrowerCounts(ctx context.Context, userID string) ([]models.BookPopularity, error)
	GlobalPopularity(ctx context.Context) ([]models.BookPopularity, error)
	DepartmentPopularity(ctx context.Context, departmentID string) ([]models.BookPopularity, error)
}

// Reranker reorders an engine-produced recommendation list. Implementations
// must swallow their own failures and return the input untouched instead.
type Reranker interface {
	Rerank(ctx context.Context, user *models.JWTClaims, items []models.RecommendedBook) ([]models.RecommendedBook, string)
}

// RecommendationService scores candidate books per user from borrowing
// history. Results are cached per user and invalidated whenever a loan is
// created for that user; the cache is disposable, never authoritative.
type RecommendationService struct {
	repo         recommendationReader
	cache        *CacheService
	reranker     Reranker
	cacheTTL     time.Duration
	defaultLimit int
	logger       *zap.Logger
}

// NewRecommendationService builds a RecommendationService with sane defaults.
func NewRecommendationService(repo recommendationReader, cache *CacheService, reranker Reranker, cacheTTL time.Duration, defaultLimit int, logger *zap.Logger) *RecommendationService {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecommendationService{
		repo:         repo,
		cache:        cache,
		reranker:     reranker,
		cacheTTL:     cacheTTL,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

func recommendationCacheKey(userID string) string {
	return fmt.Sprintf("recommendations:%s", userID)
}

// Recommend returns up to limit books ordered by affinity for the acting
// user. Non-student callers get the global most-borrowed list.
func (s *RecommendationService) Recommend(ctx context.Context, actor *models.JWTClaims, limit int) (*models.RecommendationSet, error) {
	if limit <= 0 || limit > 50 {
		limit = s.defaultLimit
	}
	if actor == nil || actor.Role != models.RoleStudent {
		return s.popularFallback(ctx, "", limit)
	}

	key := recommendationCacheKey(actor.UserID)
	if s.cache != nil {
		var cached models.RecommendationSet
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			if len(cached.Items) > limit {
				cached.Items = cached.Items[:limit]
			}
			return &cached, nil
		}
	}

	set, err := s.score(ctx, actor, limit)
	if err != nil {
		return nil, err
	}

	if s.reranker != nil && len(set.Items) > 0 {
		items, source := s.reranker.Rerank(ctx, actor, set.Items)
		set.Items = items
		set.Source = source
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, set, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache recommendations", zap.String("user_id", actor.UserID), zap.Error(err))
		}
	}
	return set, nil
}

// Invalidate drops the cached recommendations for a user. Called whenever a
// new loan is created for them.
func (s *RecommendationService) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, recommendationCacheKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate recommendations", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *RecommendationService) score(ctx context.Context, actor *models.JWTClaims, limit int) (*models.RecommendationSet, error) {
	borrowedIDs, err := s.repo.BorrowedBookIDs(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrowing history")
	}
	books, err := s.repo.Candidates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidates")
	}

	borrowed := make(map[string]bool, len(borrowedIDs))
	for _, id := range borrowedIDs {
		borrowed[id] = true
	}

	// Dimension sets derived from the user's own history.
	borrowedSubjects := make(map[string]bool)
	borrowedCategories := make(map[string]bool)
	byID := make(map[string]models.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
		if borrowed[b.ID] {
			if b.Subject != "" {
				borrowedSubjects[b.Subject] = true
			}
			if b.CategoryID != nil {
				borrowedCategories[*b.CategoryID] = true
			}
		}
	}

	coCounts, err := s.repo.CoBorrowerCounts(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load co-borrower counts")
	}
	coByBook := make(map[string]int, len(coCounts))
	for _, c := range coCounts {
		coByBook[c.BookID] = c.BorrowCount
	}

	global, err := s.repo.GlobalPopularity(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load popularity")
	}
	globalByBook := make(map[string]int, len(global))
	for _, p := range global {
		globalByBook[p.BookID] = p.BorrowCount
	}

	deptByBook := map[string]int{}
	if actor.DepartmentID != nil {
		deptPop, err := s.repo.DepartmentPopularity(ctx, *actor.DepartmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department popularity")
		}
		for _, p := range deptPop {
			deptByBook[p.BookID] = p.BorrowCount
		}
	}

	var scored []models.RecommendedBook
	for _, b := range books {
		if borrowed[b.ID] {
			continue
		}
		score := 0.0
		sameDept := actor.DepartmentID != nil && b.DepartmentID != nil && *b.DepartmentID == *actor.DepartmentID
		if sameDept {
			score += departmentAffinityScore
		}
		if b.Subject != "" && borrowedSubjects[b.Subject] {
			score += subjectAffinityScore
		}
		if b.CategoryID != nil && borrowedCategories[*b.CategoryID] {
			score += categoryAffinityScore
		}
		if n := coByBook[b.ID]; n > 0 {
			score += coBorrowerWeight * float64(n)
		}
		if n := globalByBook[b.ID]; n > 0 {
			score += globalPopularityWeight * float64(n)
		}
		if sameDept {
			if n := deptByBook[b.ID]; n > 0 {
				score += deptPopularityWeight * float64(n)
			}
		}
		if score > 0 {
			scored = append(scored, models.RecommendedBook{Book: b, Score: score})
		}
	}

	if len(scored) == 0 {
		deptID := ""
		if actor.DepartmentID != nil {
			deptID = *actor.DepartmentID
		}
		return s.popularFallback(ctx, deptID, limit)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Book.ID < scored[j].Book.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	return &models.RecommendationSet{
		UserID:      actor.UserID,
		Source:      models.RecommendationSourceEngine,
		GeneratedAt: time.Now().UTC(),
		Items:       scored,
	}, nil
}

// popularFallback returns the most borrowed books, scoped to a department
// when one is given and it yields results.
func (s *RecommendationService) popularFallback(ctx context.Context, departmentID string, limit int) (*models.RecommendationSet, error) {
	counts := []models.BookPopularity{}
	if departmentID != "" {
		deptCounts, err := s.repo.DepartmentPopularity(ctx, departmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department popularity")
		}
		counts = deptCounts
	}
	if len(counts) == 0 {
		global, err := s.repo.GlobalPopularity(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load popularity")
		}
		counts = global
	}

	books, err := s.repo.Candidates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidates")
	}
	byID := make(map[string]models.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}

	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].BorrowCount != counts[j].BorrowCount {
			return counts[i].BorrowCount > counts[j].BorrowCount
		}
		return counts[i].BookID < counts[j].BookID
	})

	items := make([]models.RecommendedBook, 0, limit)
	for _, c := range counts {
		book, ok := byID[c.BookID]
		if !ok {
			continue
		}
		items = append(items, models.RecommendedBook{Book: book, Score: float64(c.BorrowCount)})
		if len(items) == limit {
			break
		}
	}

	return &models.RecommendationSet{
		Source:      models.RecommendationSourcePopular,
		GeneratedAt: time.Now().UTC(),
		Items:       items,
	}, nil
}
