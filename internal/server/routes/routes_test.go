package routes

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/handler"
)

func TestRegisterMountsAllRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := &handler.Handlers{
		Token: &handler.TokenHandler{},
		Admin: &handler.AdminHandler{},
	}

	require.NotPanics(t, func() {
		Register(router, h)
	})

	require.True(t, hasRoute(router, "GET", "/health"))
	require.True(t, hasRoute(router, "POST", "/api/v1/token/select"))
	require.True(t, hasRoute(router, "POST", "/api/v1/token/rate-limit"))
	require.True(t, hasRoute(router, "GET", "/api/v1/token/rate-limit"))
	require.True(t, hasRoute(router, "POST", "/api/v1/admin/accounts/reload"))
	require.True(t, hasRoute(router, "GET", "/api/v1/admin/stats"))
	require.True(t, hasRoute(router, "GET", "/api/v1/admin/sticky-config"))
	require.True(t, hasRoute(router, "PUT", "/api/v1/admin/sticky-config"))
	require.True(t, hasRoute(router, "DELETE", "/api/v1/admin/sessions"))
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, route := range router.Routes() {
		if route.Method == method && route.Path == path {
			return true
		}
	}
	return false
}
