package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	appErrors "github.com/campuskit/library-api/pkg/errors"
	"github.com/campuskit/library-api/pkg/export"
)

// ExportFormat enumerates supported export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered file ready to stream to the client.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type exportLoanReader interface {
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]models.LoanDetail, error)
}

// ExportService renders loan ledgers as downloadable CSV or PDF files. The
// files are generated synchronously and streamed back, never stored.
type ExportService struct {
	loans  exportLoanReader
	policy FinePolicy
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(loans exportLoanReader, policy FinePolicy, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{loans: loans, policy: policy, csv: csv, pdf: pdf, logger: logger}
}

// Loans exports the loan ledger matching the filter. Staff only.
func (s *ExportService) Loans(ctx context.Context, filter models.LoanFilter, format ExportFormat, actor *models.JWTClaims) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}

	filter.Page = 1
	filter.PageSize = 100
	var all []models.LoanDetail
	for {
		page, total, err := s.loans.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loans")
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	dataset := s.loanDataset(all)
	return s.render(dataset, "Loan Ledger", "loans", format)
}

// Overdue exports every open loan past due with the fine accrued so far.
func (s *ExportService) Overdue(ctx context.Context, format ExportFormat, actor *models.JWTClaims) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanManageLoans() {
		return nil, appErrors.ErrForbidden
	}

	asOf := time.Now().UTC()
	overdue, err := s.loans.ListOverdue(ctx, asOf)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load overdue loans")
	}

	dataset := export.Dataset{
		Headers: []string{"Borrower", "Email", "Book", "ISBN", "Issued", "Due", "Days Late", "Accrued Fine"},
	}
	for _, loan := range overdue {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Borrower":     loan.UserName,
			"Email":        loan.UserEmail,
			"Book":         loan.BookTitle,
			"ISBN":         loan.BookISBN,
			"Issued":       loan.IssuedOn.Format("2006-01-02"),
			"Due":          loan.DueDate.Format("2006-01-02"),
			"Days Late":    fmt.Sprintf("%d", s.policy.DaysLate(loan.DueDate, asOf)),
			"Accrued Fine": s.policy.Accrued(loan.DueDate, asOf).StringFixed(2),
		})
	}
	return s.render(dataset, "Overdue Loans", "overdue-loans", format)
}

func (s *ExportService) loanDataset(loans []models.LoanDetail) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Borrower", "Email", "Book", "ISBN", "Status", "Issued", "Due", "Returned", "Fine"},
	}
	for _, loan := range loans {
		returned := ""
		if loan.ReturnedOn != nil {
			returned = loan.ReturnedOn.Format("2006-01-02")
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Borrower": loan.UserName,
			"Email":    loan.UserEmail,
			"Book":     loan.BookTitle,
			"ISBN":     loan.BookISBN,
			"Status":   string(loan.Status),
			"Issued":   loan.IssuedOn.Format("2006-01-02"),
			"Due":      loan.DueDate.Format("2006-01-02"),
			"Returned": returned,
			"Fine":     loan.FineAmount.StringFixed(2),
		})
	}
	return dataset
}

func (s *ExportService) render(dataset export.Dataset, title, stem string, format ExportFormat) (*ExportResult, error) {
	timestamp := time.Now().UTC().Format("20060102-150405")
	switch ExportFormat(strings.ToLower(string(format))) {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("%s-%s.csv", stem, timestamp),
			ContentType: "text/csv",
			Payload:     payload,
		}, nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("%s-%s.pdf", stem, timestamp),
			ContentType: "application/pdf",
			Payload:     payload,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}
