package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campuskit/library-api/internal/models"
)

// RecommendationRepository reads the borrowing signals the scoring engine
// combines: the user's own history, co-borrower overlap and popularity
// counters. All reads span the full ledger, OPEN and CLOSED alike.
type RecommendationRepository struct {
	db *sqlx.DB
}

// NewRecommendationRepository constructs the repository.
func NewRecommendationRepository(db *sqlx.DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

// BorrowedBookIDs returns the distinct books the user has ever borrowed.
func (r *RecommendationRepository) BorrowedBookIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT DISTINCT book_id FROM loans WHERE user_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("borrowed book ids: %w", err)
	}
	return ids, nil
}

// Candidates returns every catalogued book with the dimension fields the
// scorer matches on.
func (r *RecommendationRepository) Candidates(ctx context.Context) ([]models.Book, error) {
	const query = `SELECT id, title, author, department_id, category_id, subject, isbn, edition, publication_year, language, publisher, shelf_no, total_copies, available_copies, created_at, updated_at
        FROM books ORDER BY id ASC`
	var books []models.Book
	if err := r.db.SelectContext(ctx, &books, query); err != nil {
		return nil, fmt.Errorf("candidate books: %w", err)
	}
	return books, nil
}

// CoBorrowerCounts returns, per book, how many distinct other users who
// share at least one borrowed book with the given user have borrowed it.
func (r *RecommendationRepository) CoBorrowerCounts(ctx context.Context, userID string) ([]models.BookPopularity, error) {
	const query = `SELECT l2.book_id, COUNT(DISTINCT l2.user_id) AS borrow_count
        FROM loans l2
        WHERE l2.user_id IN (
            SELECT DISTINCT peer.user_id
            FROM loans peer
            JOIN loans own ON own.book_id = peer.book_id AND own.user_id = $1
            WHERE peer.user_id <> $1
        )
        GROUP BY l2.book_id`
	var counts []models.BookPopularity
	if err := r.db.SelectContext(ctx, &counts, query, userID); err != nil {
		return nil, fmt.Errorf("co-borrower counts: %w", err)
	}
	return counts, nil
}

// GlobalPopularity returns total borrow counts per book.
func (r *RecommendationRepository) GlobalPopularity(ctx context.Context) ([]models.BookPopularity, error) {
	const query = `SELECT book_id, COUNT(*) AS borrow_count FROM loans GROUP BY book_id`
	var counts []models.BookPopularity
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("global popularity: %w", err)
	}
	return counts, nil
}

// DepartmentPopularity returns total borrow counts for books housed in the
// given department.
func (r *RecommendationRepository) DepartmentPopularity(ctx context.Context, departmentID string) ([]models.BookPopularity, error) {
	const query = `SELECT l.book_id, COUNT(*) AS borrow_count
        FROM loans l
        JOIN books b ON b.id = l.book_id
        WHERE b.department_id = $1
        GROUP BY l.book_id`
	var counts []models.BookPopularity
	if err := r.db.SelectContext(ctx, &counts, query, departmentID); err != nil {
		return nil, fmt.Errorf("department popularity: %w", err)
	}
	return counts, nil
}
