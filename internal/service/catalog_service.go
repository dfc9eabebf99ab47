package service

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
)

const bookResource = "book"

type catalogStore interface {
	List(ctx context.Context, filter models.BookFilter) ([]models.BookDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Book, error)
	FindDetailByID(ctx context.Context, id string) (*models.BookDetail, error)
	Create(ctx context.Context, book *models.Book) error
	Update(ctx context.Context, book *models.Book) error
	Delete(ctx context.Context, id string) error
	ListDepartments(ctx context.Context) ([]models.DepartmentSummary, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// CatalogService manages books and the department/category dimensions.
type CatalogService struct {
	repo      catalogStore
	cache     *CacheService
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService builds a CatalogService with sane defaults.
func NewCatalogService(repo catalogStore, cache *CacheService, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger}
}

// List returns books matching the filter with pagination metadata.
func (s *CatalogService) List(ctx context.Context, filter models.BookFilter) ([]models.BookDetail, *models.Pagination, error) {
	books, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list books")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return books, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single book with its dimension names.
func (s *CatalogService) Get(ctx context.Context, id string) (*models.BookDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	return detail, nil
}

// Create adds a title to the catalog. Staff only.
func (s *CatalogService) Create(ctx context.Context, req models.CreateBookRequest, actor *models.JWTClaims) (*models.BookDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid book payload")
	}

	book := &models.Book{
		Title:           req.Title,
		Author:          req.Author,
		DepartmentID:    req.DepartmentID,
		CategoryID:      req.CategoryID,
		Subject:         req.Subject,
		ISBN:            req.ISBN,
		Edition:         req.Edition,
		PublicationYear: req.PublicationYear,
		Language:        req.Language,
		Publisher:       req.Publisher,
		ShelfNo:         req.ShelfNo,
		TotalCopies:     req.TotalCopies,
	}
	if err := s.repo.Create(ctx, book); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create book")
	}

	s.invalidateListings(ctx)
	s.emitAudit(ctx, actor, models.AuditActionBookCreate, book.ID, book, nil)
	return s.Get(ctx, book.ID)
}

// Update edits catalog metadata. Changing total_copies moves availability by
// the same delta, clamped at zero so copies out on loan stay accounted for.
func (s *CatalogService) Update(ctx context.Context, id string, req models.UpdateBookRequest, actor *models.JWTClaims) (*models.BookDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid book payload")
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}

	onLoan := current.TotalCopies - current.AvailableCopies
	if req.TotalCopies < onLoan {
		return nil, appErrors.Clone(appErrors.ErrValidation, "total copies cannot drop below copies currently on loan")
	}

	updated := *current
	updated.Title = req.Title
	updated.Author = req.Author
	updated.DepartmentID = req.DepartmentID
	updated.CategoryID = req.CategoryID
	updated.Subject = req.Subject
	updated.ISBN = req.ISBN
	updated.Edition = req.Edition
	updated.PublicationYear = req.PublicationYear
	updated.Language = req.Language
	updated.Publisher = req.Publisher
	updated.ShelfNo = req.ShelfNo
	updated.TotalCopies = req.TotalCopies
	updated.AvailableCopies = req.TotalCopies - onLoan

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update book")
	}

	s.invalidateListings(ctx)
	s.emitAudit(ctx, actor, models.AuditActionBookUpdate, id, &updated, current)
	return s.Get(ctx, id)
}

// Delete removes a title. Blocked while any copy is out on loan.
func (s *CatalogService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	if current.AvailableCopies < current.TotalCopies {
		return appErrors.Clone(appErrors.ErrConflict, "book has copies out on loan")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete book")
	}

	s.invalidateListings(ctx)
	s.emitAudit(ctx, actor, models.AuditActionBookDelete, id, nil, current)
	return nil
}

// Departments returns all departments with copy aggregates.
func (s *CatalogService) Departments(ctx context.Context) ([]models.DepartmentSummary, error) {
	departments, err := s.repo.ListDepartments(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	return departments, nil
}

// Categories returns all categories.
func (s *CatalogService) Categories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list categories")
	}
	return categories, nil
}

func (s *CatalogService) invalidateListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, "books:*")
	_ = s.cache.Invalidate(ctx, "dashboard:*")
}

func (s *CatalogService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, newValue, oldValue interface{}) {
	if s.audit == nil {
		return
	}
	var newValues, oldValues []byte
	if newValue != nil {
		newValues, _ = json.Marshal(newValue)
	}
	if oldValue != nil {
		oldValues, _ = json.Marshal(oldValue)
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   bookResource,
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "catalog-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record catalog audit", zap.Error(err))
	}
}
