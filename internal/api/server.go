// Package api implements the REST monitoring and control API for rcond:
// session listing, replies, session teardown, and the command audit trail.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/server"
)

// Server is the REST API server for rcond.
type Server struct {
	cfg     *config.Config
	manager *server.Manager

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, manager *server.Manager) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     cfg,
		manager: manager,
	}
}

// setupRouter builds the gin engine with middleware and routes.
func (s *Server) setupRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplicationData().API

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	corsCfg := cors.DefaultConfig()
	if len(apiCfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = apiCfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	s.registerRoutes(router)
	return router
}

// Start runs the API server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	s.router = s.setupRouter()

	addr := fmt.Sprintf("%s:%d", apiCfg.Host, apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API server started")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API server shutdown failed")
		}
		log.Info().Msg("API server stopped")
		return nil
	}
}

// registerRoutes wires all API endpoints.
func (s *Server) registerRoutes(router *gin.Engine) {
	auth := NewAuthMiddleware(s.cfg)

	api := router.Group("/api", auth.RequireAuth())
	{
		api.GET("/status", s.handleGetStatus)
		api.GET("/sessions", s.handleGetSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.POST("/sessions/:id/reply", s.handlePostReply)
		api.POST("/sessions/:id/close", s.handlePostClose)
		api.GET("/commands", s.handleGetCommands)
	}

	// Liveness probe, no auth.
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
