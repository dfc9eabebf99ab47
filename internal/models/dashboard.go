package models

// StudentDashboard summarises a student's lending activity.
type StudentDashboard struct {
	ActiveLoans     int          `json:"active_loans"`
	OverdueLoans    int          `json:"overdue_loans"`
	PendingRequests int          `json:"pending_requests"`
	TotalFines      string       `json:"total_fines"`
	RecentLoans     []LoanDetail `json:"recent_loans"`
}

// LibrarianDashboard summarises day-to-day operational state.
type LibrarianDashboard struct {
	PendingRequests int          `json:"pending_requests"`
	ActiveLoans     int          `json:"active_loans"`
	OverdueLoans    int          `json:"overdue_loans"`
	LowStockBooks   []BookDetail `json:"low_stock_books"`
}

// AdminDashboard aggregates library-wide statistics.
type AdminDashboard struct {
	TotalBooks         int               `json:"total_books"`
	TotalUsers         int               `json:"total_users"`
	ActiveLoans        int               `json:"active_loans"`
	OverdueLoans       int               `json:"overdue_loans"`
	TotalFineCollected string            `json:"total_fine_collected"`
	PendingFines       string            `json:"pending_fines"`
	IssuesPerDept      []DepartmentIssue `json:"issues_per_department"`
	MostIssuedBooks    []BookIssueCount  `json:"most_issued_books"`
}

// DepartmentIssue counts loans grouped by the book's department.
type DepartmentIssue struct {
	DepartmentName string `db:"department_name" json:"department_name"`
	IssueCount     int    `db:"issue_count" json:"issue_count"`
}

// BookIssueCount counts loans per book title.
type BookIssueCount struct {
	BookID     string `db:"book_id" json:"book_id"`
	Title      string `db:"title" json:"title"`
	IssueCount int    `db:"issue_count" json:"issue_count"`
}
