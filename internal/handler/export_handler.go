package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/library-api/internal/service"
	"github.com/campuskit/library-api/pkg/response"
)

// ExportHandler streams rendered loan ledgers as file downloads.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler creates a new export handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Loans godoc
// @Summary Export loan ledger
// @Description Download the loan ledger as CSV or PDF
// @Tags Exports
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Param user_id query string false "Borrower filter"
// @Param status query string false "Status filter"
// @Param department_id query string false "Borrower department filter"
// @Param overdue query bool false "Only overdue loans"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /exports/loans [get]
func (h *ExportHandler) Loans(c *gin.Context) {
	filter := loanFilterFromQuery(c)
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))

	result, err := h.service.Loans(c.Request.Context(), filter, format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	streamExport(c, result)
}

// Overdue godoc
// @Summary Export overdue loans
// @Description Download every overdue loan with its accrued fine
// @Tags Exports
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /exports/overdue [get]
func (h *ExportHandler) Overdue(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))

	result, err := h.service.Overdue(c.Request.Context(), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	streamExport(c, result)
}

func streamExport(c *gin.Context, result *service.ExportResult) {
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
