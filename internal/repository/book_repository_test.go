package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/library-api/internal/models"
)

func bookRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "author", "department_id", "category_id", "subject", "isbn",
		"edition", "publication_year", "language", "publisher", "shelf_no",
		"total_copies", "available_copies", "created_at", "updated_at",
		"department_name", "category_name",
	}).AddRow("book-1", "Compilers", "Aho", "dept-1", "cat-1", "Compilers", "978-0321486813",
		"2nd", 2006, "English", "Pearson", "CS-12", 5, 3, now, now, "Computer Science", "Textbook")
}

func TestBookRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT b.id, b.title, .+ ORDER BY b.created_at DESC LIMIT 20 OFFSET 0").
		WillReturnRows(bookRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM books b")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	books, total, err := repo.List(context.Background(), models.BookFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, books, 1)
	assert.Equal(t, "Compilers", books[0].Title)
	require.NotNil(t, books[0].DepartmentName)
	assert.Equal(t, "Computer Science", *books[0].DepartmentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryListSearchFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	now := time.Now()
	mock.ExpectQuery(`LOWER\(b\.author\) LIKE \$1.+b\.department_id = \$2.+b\.available_copies > 0.+ORDER BY b\.title ASC`).
		WithArgs("%aho%", "dept-1").
		WillReturnRows(bookRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("%aho%", "dept-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, total, err := repo.List(context.Background(), models.BookFilter{
		Search:        "Aho",
		SearchField:   "author",
		DepartmentID:  "dept-1",
		AvailableOnly: true,
		SortBy:        "title",
		SortOrder:     "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryCreateDefaultsAvailability(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	mock.ExpectExec("INSERT INTO books").WillReturnResult(sqlmock.NewResult(1, 1))

	book := &models.Book{Title: "Compilers", Author: "Aho", Subject: "Compilers", ISBN: "978-0321486813", TotalCopies: 4}
	err := repo.Create(context.Background(), book)
	require.NoError(t, err)
	assert.NotEmpty(t, book.ID)
	assert.Equal(t, 4, book.AvailableCopies)
	assert.False(t, book.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	mock.ExpectExec("UPDATE books SET title").WillReturnResult(sqlmock.NewResult(0, 1))

	book := &models.Book{ID: "book-1", Title: "Compilers", TotalCopies: 8, AvailableCopies: 6}
	err := repo.Update(context.Background(), book)
	require.NoError(t, err)
	assert.False(t, book.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM books WHERE id = $1")).
		WithArgs("book-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "book-404")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryListLowStock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	now := time.Now()
	mock.ExpectQuery(`WHERE b\.available_copies <= \$1`).
		WithArgs(2, 5).
		WillReturnRows(bookRows(now))

	books, err := repo.ListLowStock(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, 3, books[0].AvailableCopies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryListDepartments(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "code", "description", "active", "created_at", "book_count", "total_copies", "available_copies"}).
		AddRow("dept-1", "Computer Science", "CS", "", true, now, 12, 40, 25)
	mock.ExpectQuery("FROM departments d").WillReturnRows(rows)

	departments, err := repo.ListDepartments(context.Background())
	require.NoError(t, err)
	require.Len(t, departments, 1)
	assert.Equal(t, 12, departments[0].BookCount)
	assert.Equal(t, 25, departments[0].AvailableCopies)
	assert.NoError(t, mock.ExpectationsWereMet())
}
