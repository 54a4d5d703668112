// Package routes registers the HTTP routes onto a gin engine.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/handler"
)

// Register mounts every route group under /api/v1.
func Register(router *gin.Engine, h *handler.Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	token := v1.Group("/token")
	{
		token.POST("/select", h.Token.Select)
		token.POST("/rate-limit", h.Token.ReportRateLimit)
		token.GET("/rate-limit", h.Token.RateLimitStatus)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/accounts/reload", h.Admin.ReloadAccounts)
		admin.GET("/stats", h.Admin.Stats)
		admin.GET("/sticky-config", h.Admin.GetStickyConfig)
		admin.PUT("/sticky-config", h.Admin.UpdateStickyConfig)
		admin.DELETE("/sessions", h.Admin.ClearSessions)
	}
}
