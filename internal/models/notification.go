package models

import "time"

// NotificationKind enumerates the events delivered to users by mail.
type NotificationKind string

const (
	NotificationRequestApproved NotificationKind = "REQUEST_APPROVED"
	NotificationRequestRejected NotificationKind = "REQUEST_REJECTED"
	NotificationOverdueReminder NotificationKind = "OVERDUE_REMINDER"
)

// NotificationEvent is the payload handed to the asynchronous mailer.
// Delivery is best-effort: producers never block or fail on it.
type NotificationEvent struct {
	Kind       NotificationKind `json:"kind"`
	UserID     string           `json:"user_id"`
	UserName   string           `json:"user_name"`
	UserEmail  string           `json:"user_email"`
	BookTitle  string           `json:"book_title"`
	DueDate    *time.Time       `json:"due_date,omitempty"`
	FineAmount string           `json:"fine_amount,omitempty"`
}
