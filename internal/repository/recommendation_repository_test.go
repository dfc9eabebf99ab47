package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendationDepartmentPopularityCountsByBookDepartment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecommendationRepository(db)

	rows := sqlmock.NewRows([]string{"book_id", "borrow_count"}).
		AddRow("book-1", 7).
		AddRow("book-2", 3)
	mock.ExpectQuery(`JOIN books b ON b\.id = l\.book_id\s+WHERE b\.department_id = \$1`).
		WithArgs("dept-1").
		WillReturnRows(rows)

	counts, err := repo.DepartmentPopularity(context.Background(), "dept-1")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "book-1", counts[0].BookID)
	assert.Equal(t, 7, counts[0].BorrowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecommendationGlobalPopularity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecommendationRepository(db)

	rows := sqlmock.NewRows([]string{"book_id", "borrow_count"}).AddRow("book-1", 10)
	mock.ExpectQuery(`SELECT book_id, COUNT\(\*\) AS borrow_count FROM loans GROUP BY book_id`).
		WillReturnRows(rows)

	counts, err := repo.GlobalPopularity(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 10, counts[0].BorrowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
