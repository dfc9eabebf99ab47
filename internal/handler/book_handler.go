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

// BookHandler wires catalog endpoints to the catalog service.
type BookHandler struct {
	service *service.CatalogService
}

// NewBookHandler creates a new book handler.
func NewBookHandler(svc *service.CatalogService) *BookHandler {
	return &BookHandler{service: svc}
}

// List godoc
// @Summary List books
// @Description List catalog with search, filters and pagination
// @Tags Catalog
// @Produce json
// @Param search query string false "Search term"
// @Param search_field query string false "Restrict search to title, author or isbn"
// @Param department_id query string false "Department filter"
// @Param category_id query string false "Category filter"
// @Param subject query string false "Subject filter"
// @Param available query bool false "Only books with available copies"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /books [get]
func (h *BookHandler) List(c *gin.Context) {
	var filter models.BookFilter
	filter.Search = c.Query("search")
	filter.SearchField = c.Query("search_field")
	filter.DepartmentID = c.Query("department_id")
	filter.CategoryID = c.Query("category_id")
	filter.Subject = c.Query("subject")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	if available := c.Query("available"); available != "" {
		if val, err := strconv.ParseBool(available); err == nil {
			filter.AvailableOnly = val
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	books, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, books, pagination)
}

// Get godoc
// @Summary Get book
// @Description Get a single book with department and category names
// @Tags Catalog
// @Produce json
// @Param id path string true "Book ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /books/{id} [get]
func (h *BookHandler) Get(c *gin.Context) {
	book, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, book, nil)
}

// Create godoc
// @Summary Create book
// @Description Add a title to the catalog
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body models.CreateBookRequest true "Create book payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /books [post]
func (h *BookHandler) Create(c *gin.Context) {
	var req models.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	book, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, book)
}

// Update godoc
// @Summary Update book
// @Description Edit catalog metadata and copy counts
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Book ID"
// @Param payload body models.UpdateBookRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /books/{id} [put]
func (h *BookHandler) Update(c *gin.Context) {
	var req models.UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	book, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, book, nil)
}

// Delete godoc
// @Summary Delete book
// @Description Remove a title; blocked while copies are on loan
// @Tags Catalog
// @Produce json
// @Param id path string true "Book ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id} [delete]
func (h *BookHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Departments godoc
// @Summary List departments
// @Description List departments with copy aggregates
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /departments [get]
func (h *BookHandler) Departments(c *gin.Context) {
	departments, err := h.service.Departments(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, departments, nil)
}

// Categories godoc
// @Summary List categories
// @Description List book categories
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /categories [get]
func (h *BookHandler) Categories(c *gin.Context) {
	categories, err := h.service.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, categories, nil)
}
