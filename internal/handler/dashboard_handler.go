package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/library-api/internal/middleware"
	"github.com/campuskit/library-api/internal/models"
	"github.com/campuskit/library-api/internal/service"
	appErrors "github.com/campuskit/library-api/pkg/errors"
	"github.com/campuskit/library-api/pkg/response"
)

// DashboardHandler serves the role-scoped overview endpoints.
type DashboardHandler struct {
	service *service.DashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(svc *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: svc}
}

// Me godoc
// @Summary Dashboard for the current user
// @Description Routes to the student, librarian or admin dashboard by role
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var (
		data     interface{}
		cacheHit bool
		err      error
	)
	switch claims.Role {
	case models.RoleAdmin:
		data, cacheHit, err = h.service.Admin(c.Request.Context(), claims)
	case models.RoleLibrarian:
		data, cacheHit, err = h.service.Librarian(c.Request.Context(), claims)
	default:
		data, cacheHit, err = h.service.Student(c.Request.Context(), claims)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c))
}

// Student godoc
// @Summary Student dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/student [get]
func (h *DashboardHandler) Student(c *gin.Context) {
	data, cacheHit, err := h.service.Student(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c))
}

// Librarian godoc
// @Summary Librarian dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /dashboard/librarian [get]
func (h *DashboardHandler) Librarian(c *gin.Context) {
	data, cacheHit, err := h.service.Librarian(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c))
}

// Admin godoc
// @Summary Admin dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /dashboard/admin [get]
func (h *DashboardHandler) Admin(c *gin.Context) {
	data, cacheHit, err := h.service.Admin(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c))
}
