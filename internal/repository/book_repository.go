package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/library-api/internal/models"
)

// BookRepository handles persistence for the catalog.
type BookRepository struct {
	db *sqlx.DB
}

// NewBookRepository constructs the repository.
func NewBookRepository(db *sqlx.DB) *BookRepository {
	return &BookRepository{db: db}
}

const bookColumns = `b.id, b.title, b.author, b.department_id, b.category_id, b.subject, b.isbn, b.edition, b.publication_year, b.language, b.publisher, b.shelf_no, b.total_copies, b.available_copies, b.created_at, b.updated_at`

// List returns catalog entries filtered by the provided criteria.
func (r *BookRepository) List(ctx context.Context, filter models.BookFilter) ([]models.BookDetail, int, error) {
	base := `FROM books b
LEFT JOIN departments d ON d.id = b.department_id
LEFT JOIN categories c ON c.id = b.category_id`
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		switch filter.SearchField {
		case "title":
			conditions = append(conditions, fmt.Sprintf("LOWER(b.title) LIKE $%d", len(args)+1))
			args = append(args, like)
		case "author":
			conditions = append(conditions, fmt.Sprintf("LOWER(b.author) LIKE $%d", len(args)+1))
			args = append(args, like)
		case "subject":
			conditions = append(conditions, fmt.Sprintf("LOWER(b.subject) LIKE $%d", len(args)+1))
			args = append(args, like)
		default:
			conditions = append(conditions, fmt.Sprintf("(LOWER(b.title) LIKE $%d OR LOWER(b.author) LIKE $%d OR LOWER(b.subject) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
			args = append(args, like)
		}
	}
	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("b.department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.CategoryID != "" {
		conditions = append(conditions, fmt.Sprintf("b.category_id = $%d", len(args)+1))
		args = append(args, filter.CategoryID)
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(b.subject) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.Subject))
	}
	if filter.AvailableOnly {
		conditions = append(conditions, "b.available_copies > 0")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"title":      "b.title",
		"author":     "b.author",
		"created_at": "b.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "b.created_at"
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

	query := fmt.Sprintf(`SELECT %s, d.name AS department_name, c.name AS category_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, bookColumns, base+clause, orderBy, order, size, offset)

	var books []models.BookDetail
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}
	return books, total, nil
}

// FindByID returns a book by its ID.
func (r *BookRepository) FindByID(ctx context.Context, id string) (*models.Book, error) {
	query := fmt.Sprintf("SELECT %s FROM books b WHERE b.id = $1", bookColumns)
	var book models.Book
	if err := r.db.GetContext(ctx, &book, query, id); err != nil {
		return nil, err
	}
	return &book, nil
}

// FindDetailByID returns a book with reference dimension names.
func (r *BookRepository) FindDetailByID(ctx context.Context, id string) (*models.BookDetail, error) {
	query := fmt.Sprintf(`SELECT %s, d.name AS department_name, c.name AS category_name
        FROM books b
        LEFT JOIN departments d ON d.id = b.department_id
        LEFT JOIN categories c ON c.id = b.category_id
        WHERE b.id = $1`, bookColumns)
	var detail models.BookDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a new catalog entry.
func (r *BookRepository) Create(ctx context.Context, book *models.Book) error {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now
	if book.AvailableCopies == 0 && book.TotalCopies > 0 {
		book.AvailableCopies = book.TotalCopies
	}
	const query = `INSERT INTO books (id, title, author, department_id, category_id, subject, isbn, edition, publication_year, language, publisher, shelf_no, total_copies, available_copies, created_at, updated_at)
        VALUES (:id, :title, :author, :department_id, :category_id, :subject, :isbn, :edition, :publication_year, :language, :publisher, :shelf_no, :total_copies, :available_copies, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, book); err != nil {
		return fmt.Errorf("create book: %w", err)
	}
	return nil
}

// Update updates mutable catalog fields. Copy counters are left to the
// lending transactions except for total_copies adjustments, which keep the
// availability delta intact.
func (r *BookRepository) Update(ctx context.Context, book *models.Book) error {
	book.UpdatedAt = time.Now().UTC()
	const query = `UPDATE books SET title = :title, author = :author, department_id = :department_id, category_id = :category_id,
        subject = :subject, isbn = :isbn, edition = :edition, publication_year = :publication_year, language = :language,
        publisher = :publisher, shelf_no = :shelf_no, total_copies = :total_copies, available_copies = :available_copies,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, book); err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return nil
}

// Delete removes a catalog entry.
func (r *BookRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM books WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Count returns the number of catalogued titles.
func (r *BookRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM books`); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return count, nil
}

// ListDepartments returns departments with copy aggregates.
func (r *BookRepository) ListDepartments(ctx context.Context) ([]models.DepartmentSummary, error) {
	const query = `SELECT d.id, d.name, d.code, d.description, d.active, d.created_at,
        COUNT(b.id) AS book_count,
        COALESCE(SUM(b.total_copies), 0) AS total_copies,
        COALESCE(SUM(b.available_copies), 0) AS available_copies
        FROM departments d
        LEFT JOIN books b ON b.department_id = d.id
        GROUP BY d.id, d.name, d.code, d.description, d.active, d.created_at
        ORDER BY d.name ASC`
	var departments []models.DepartmentSummary
	if err := r.db.SelectContext(ctx, &departments, query); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

// ListCategories returns all categories.
func (r *BookRepository) ListCategories(ctx context.Context) ([]models.Category, error) {
	const query = `SELECT id, name, description, created_at FROM categories ORDER BY name ASC`
	var categories []models.Category
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// ListLowStock returns books with availability at or below the threshold.
func (r *BookRepository) ListLowStock(ctx context.Context, threshold, limit int) ([]models.BookDetail, error) {
	query := fmt.Sprintf(`SELECT %s, d.name AS department_name, c.name AS category_name
        FROM books b
        LEFT JOIN departments d ON d.id = b.department_id
        LEFT JOIN categories c ON c.id = b.category_id
        WHERE b.available_copies <= $1
        ORDER BY b.available_copies ASC, b.title ASC LIMIT $2`, bookColumns)
	var books []models.BookDetail
	if err := r.db.SelectContext(ctx, &books, query, threshold, limit); err != nil {
		return nil, fmt.Errorf("list low stock books: %w", err)
	}
	return books, nil
}
