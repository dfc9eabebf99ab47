package models

import "time"

// Department is a reference dimension grouping books and users.
type Department struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DepartmentSummary carries copy aggregates for department listings.
type DepartmentSummary struct {
	Department
	BookCount       int `db:"book_count" json:"book_count"`
	TotalCopies     int `db:"total_copies" json:"total_copies"`
	AvailableCopies int `db:"available_copies" json:"available_copies"`
}

// Category is a reference dimension classifying books.
type Category struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Book represents a catalogued title with its copy counters. The invariant
// 0 <= available_copies <= total_copies holds after every operation;
// available_copies is mutated only inside loan and request transactions.
type Book struct {
	ID              string    `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	Author          string    `db:"author" json:"author"`
	DepartmentID    *string   `db:"department_id" json:"department_id,omitempty"`
	CategoryID      *string   `db:"category_id" json:"category_id,omitempty"`
	Subject         string    `db:"subject" json:"subject"`
	ISBN            string    `db:"isbn" json:"isbn"`
	Edition         string    `db:"edition" json:"edition,omitempty"`
	PublicationYear *int      `db:"publication_year" json:"publication_year,omitempty"`
	Language        string    `db:"language" json:"language,omitempty"`
	Publisher       string    `db:"publisher" json:"publisher,omitempty"`
	ShelfNo         string    `db:"shelf_no" json:"shelf_no,omitempty"`
	TotalCopies     int       `db:"total_copies" json:"total_copies"`
	AvailableCopies int       `db:"available_copies" json:"available_copies"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// BookDetail joins reference dimension names onto a book row.
type BookDetail struct {
	Book
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
	CategoryName   *string `db:"category_name" json:"category_name,omitempty"`
}

// BookFilter captures supported filters for catalog listings.
type BookFilter struct {
	Search        string
	SearchField   string
	DepartmentID  string
	CategoryID    string
	Subject       string
	AvailableOnly bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// CreateBookRequest is the payload for adding a title to the catalog.
type CreateBookRequest struct {
	Title           string  `json:"title" validate:"required"`
	Author          string  `json:"author" validate:"required"`
	DepartmentID    *string `json:"department_id,omitempty"`
	CategoryID      *string `json:"category_id,omitempty"`
	Subject         string  `json:"subject"`
	ISBN            string  `json:"isbn" validate:"required"`
	Edition         string  `json:"edition"`
	PublicationYear *int    `json:"publication_year,omitempty"`
	Language        string  `json:"language"`
	Publisher       string  `json:"publisher"`
	ShelfNo         string  `json:"shelf_no"`
	TotalCopies     int     `json:"total_copies" validate:"required,min=1"`
}

// UpdateBookRequest is the payload for editing catalog metadata. Changing
// total_copies shifts available_copies by the same delta, clamped at zero,
// so copies on loan stay accounted for.
type UpdateBookRequest struct {
	Title           string  `json:"title" validate:"required"`
	Author          string  `json:"author" validate:"required"`
	DepartmentID    *string `json:"department_id,omitempty"`
	CategoryID      *string `json:"category_id,omitempty"`
	Subject         string  `json:"subject"`
	ISBN            string  `json:"isbn" validate:"required"`
	Edition         string  `json:"edition"`
	PublicationYear *int    `json:"publication_year,omitempty"`
	Language        string  `json:"language"`
	Publisher       string  `json:"publisher"`
	ShelfNo         string  `json:"shelf_no"`
	TotalCopies     int     `json:"total_copies" validate:"required,min=1"`
}

// BookPopularity pairs a book with its total borrow count.
type BookPopularity struct {
	BookID      string `db:"book_id"`
	BorrowCount int    `db:"borrow_count"`
}
