package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleLibrarian UserRole = "LIBRARIAN"
	RoleStudent   UserRole = "STUDENT"
)

// CanManageLoans reports whether the role may issue, return and approve on
// behalf of other users.
func (r UserRole) CanManageLoans() bool {
	return r == RoleLibrarian || r == RoleAdmin
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	DepartmentID *string    `db:"department_id" json:"department_id,omitempty"`
	StudentID    string     `db:"student_id" json:"student_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserDetail joins the department name onto a user row.
type UserDetail struct {
	User
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role         *UserRole
	DepartmentID string
	Active       *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
