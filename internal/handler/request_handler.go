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

// RequestHandler wires the borrow-request workflow to HTTP endpoints.
type RequestHandler struct {
	service *service.RequestService
}

// NewRequestHandler creates a new request handler.
func NewRequestHandler(svc *service.RequestService) *RequestHandler {
	return &RequestHandler{service: svc}
}

// Create godoc
// @Summary Place borrow request
// @Description Place a PENDING borrow request for the acting student
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body models.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req models.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	request, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, request)
}

// Get godoc
// @Summary Get borrow request
// @Description Get a single request with borrower and book context
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List borrow requests
// @Description List requests with filters; students see their own
// @Tags Requests
// @Produce json
// @Param user_id query string false "Borrower filter"
// @Param book_id query string false "Book filter"
// @Param status query string false "Status filter (PENDING, APPROVED, REJECTED)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var filter models.RequestFilter
	filter.UserID = c.Query("user_id")
	filter.BookID = c.Query("book_id")
	filter.Status = models.RequestStatus(c.Query("status"))

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	requests, pagination, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, requests, pagination)
}

// Approve godoc
// @Summary Approve borrow request
// @Description Approve a PENDING request and issue the loan
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	request, err := h.service.Approve(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, request, nil)
}

// Reject godoc
// @Summary Reject borrow request
// @Description Decline a PENDING request with an optional note
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body models.RejectRequestRequest false "Rejection note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	var req models.RejectRequestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}

	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, request, nil)
}
