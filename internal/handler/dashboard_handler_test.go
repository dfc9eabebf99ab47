package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestDashboardHandlerMeRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/dashboard", nil)
	c.Request = req

	handler.Me(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
