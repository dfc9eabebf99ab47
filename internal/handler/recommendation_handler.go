package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/library-api/internal/service"
	"github.com/campuskit/library-api/pkg/response"
)

// RecommendationHandler exposes the per-user recommendation endpoint.
type RecommendationHandler struct {
	service *service.RecommendationService
}

// NewRecommendationHandler creates a new recommendation handler.
func NewRecommendationHandler(svc *service.RecommendationService) *RecommendationHandler {
	return &RecommendationHandler{service: svc}
}

// Recommend godoc
// @Summary Recommend books
// @Description Books ranked by affinity for the current user
// @Tags Recommendations
// @Produce json
// @Param limit query int false "Maximum number of items"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /recommendations [get]
func (h *RecommendationHandler) Recommend(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil {
			limit = val
		}
	}

	set, err := h.service.Recommend(c.Request.Context(), claimsFromContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, set, nil)
}
