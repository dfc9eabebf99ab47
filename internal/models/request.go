package models

import "time"

// RequestStatus enumerates book request workflow states. APPROVED and
// REJECTED are terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// BookRequest gates loan creation: a student places a PENDING request and a
// librarian approves or rejects it. At most one PENDING request exists per
// (user, book) pair.
type BookRequest struct {
	ID          string        `db:"id" json:"id"`
	UserID      string        `db:"user_id" json:"user_id"`
	BookID      string        `db:"book_id" json:"book_id"`
	Status      RequestStatus `db:"status" json:"status"`
	Note        *string       `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
}

// BookRequestDetail joins user and book context onto a request row.
type BookRequestDetail struct {
	BookRequest
	UserName        string `db:"user_name" json:"user_name"`
	UserEmail       string `db:"user_email" json:"user_email"`
	BookTitle       string `db:"book_title" json:"book_title"`
	AvailableCopies int    `db:"available_copies" json:"available_copies"`
}

// CreateRequestRequest is the payload for placing a borrow request.
type CreateRequestRequest struct {
	BookID string `json:"book_id" validate:"required"`
}

// RejectRequestRequest carries the optional librarian note.
type RejectRequestRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// RequestFilter captures filtering criteria for request listings.
type RequestFilter struct {
	UserID    string
	BookID    string
	Status    RequestStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
