package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/library-api/internal/models"
	"github.com/campuskit/library-api/internal/service"
	appErrors "github.com/campuskit/library-api/pkg/errors"
	"github.com/campuskit/library-api/pkg/response"
)

// LoanHandler wires the loan ledger to HTTP endpoints.
type LoanHandler struct {
	service *service.LoanService
}

// NewLoanHandler creates a new loan handler.
func NewLoanHandler(svc *service.LoanService) *LoanHandler {
	return &LoanHandler{service: svc}
}

// Issue godoc
// @Summary Issue loan
// @Description Lend a book directly to a borrower
// @Tags Loans
// @Accept json
// @Produce json
// @Param payload body models.IssueLoanRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /loans [post]
func (h *LoanHandler) Issue(c *gin.Context) {
	var req models.IssueLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	loan, err := h.service.Issue(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, loan)
}

// Return godoc
// @Summary Return loan
// @Description Close an open loan and freeze the fine
// @Tags Loans
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /loans/{id}/return [post]
func (h *LoanHandler) Return(c *gin.Context) {
	loan, err := h.service.Return(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, loan, nil)
}

// Get godoc
// @Summary Get loan
// @Description Get a single loan with borrower and book context
// @Tags Loans
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /loans/{id} [get]
func (h *LoanHandler) Get(c *gin.Context) {
	loan, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, loan, nil)
}

// List godoc
// @Summary List loans
// @Description List loans with filters and pagination; students see their own
// @Tags Loans
// @Produce json
// @Param user_id query string false "Borrower filter"
// @Param book_id query string false "Book filter"
// @Param status query string false "Status filter (OPEN or CLOSED)"
// @Param department_id query string false "Borrower department filter"
// @Param overdue query bool false "Only overdue loans"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /loans [get]
func (h *LoanHandler) List(c *gin.Context) {
	filter := loanFilterFromQuery(c)

	loans, pagination, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, loans, pagination)
}

func loanFilterFromQuery(c *gin.Context) models.LoanFilter {
	var filter models.LoanFilter
	filter.UserID = c.Query("user_id")
	filter.BookID = c.Query("book_id")
	filter.Status = models.LoanStatus(c.Query("status"))
	filter.DepartmentID = c.Query("department_id")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	if overdue := c.Query("overdue"); overdue != "" {
		if val, err := strconv.ParseBool(overdue); err == nil {
			filter.OverdueOnly = val
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}
