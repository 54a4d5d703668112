// Package server assembles the gin engine and HTTP listener.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/handler"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/server/middleware"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/server/routes"
)

// New builds the engine with the standard middleware chain and all routes.
func New(h *handler.Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())
	routes.Register(router, h)
	return router
}

// Run serves router on addr until ctx is cancelled, then drains for up to
// 10 seconds.
func Run(ctx context.Context, addr string, router *gin.Engine) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
