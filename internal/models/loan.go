package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus enumerates loan lifecycle states.
type LoanStatus string

const (
	LoanStatusOpen   LoanStatus = "OPEN"
	LoanStatusClosed LoanStatus = "CLOSED"
)

// LoanRecord is a single issue-return cycle. It is created OPEN at issue
// time and transitions to CLOSED exactly once when returned_on is set; the
// fine is computed at close time and frozen. At most one OPEN record exists
// per (user, book) pair.
type LoanRecord struct {
	ID         string          `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	BookID     string          `db:"book_id" json:"book_id"`
	Status     LoanStatus      `db:"status" json:"status"`
	IssuedOn   time.Time       `db:"issued_on" json:"issued_on"`
	DueDate    time.Time       `db:"due_date" json:"due_date"`
	ReturnedOn *time.Time      `db:"returned_on" json:"returned_on,omitempty"`
	FineAmount decimal.Decimal `db:"fine_amount" json:"fine_amount"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// IsOverdue reports whether the loan is (or was returned) past its due date.
func (l LoanRecord) IsOverdue(today time.Time) bool {
	if l.ReturnedOn != nil {
		return l.ReturnedOn.After(l.DueDate)
	}
	return today.After(l.DueDate)
}

// LoanDetail joins user and book context onto a loan row for listings,
// exports and notifications.
type LoanDetail struct {
	LoanRecord
	UserName  string `db:"user_name" json:"user_name"`
	UserEmail string `db:"user_email" json:"user_email"`
	BookTitle string `db:"book_title" json:"book_title"`
	BookISBN  string `db:"book_isbn" json:"book_isbn"`
}

// IssueLoanRequest is the payload for a direct issue by library staff.
type IssueLoanRequest struct {
	UserID string `json:"user_id" validate:"required"`
	BookID string `json:"book_id" validate:"required"`
}

// LoanFilter captures filtering criteria for loan listings.
type LoanFilter struct {
	UserID       string
	BookID       string
	Status       LoanStatus
	DepartmentID string
	OverdueOnly  bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
