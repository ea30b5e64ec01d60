// Package server is the HTTP and WebSocket transport: gin routes, auth
// middleware, and the frame protocol for streaming answers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tessellate-ai/raggate/internal/config"
	"github.com/tessellate-ai/raggate/internal/index"
	"github.com/tessellate-ai/raggate/internal/orchestrator"
	"github.com/tessellate-ai/raggate/internal/session"
	"github.com/tessellate-ai/raggate/internal/store"
	"github.com/tessellate-ai/raggate/internal/telemetry"
	"github.com/tessellate-ai/raggate/pkg/version"
)

// Deps are the collaborators the transport exposes. Ring, Sink, and
// Metrics are optional.
type Deps struct {
	Config       *config.Config
	Logger       *slog.Logger
	Gate         *session.Gate
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *index.Pipeline
	Docs         store.DocumentStore
	Lexical      store.LexicalIndex
	Ring         *telemetry.Ring
	Sink         *telemetry.SQLiteSink
	Metrics      *telemetry.Metrics
}

// Server hosts the gateway's external interfaces.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

// New assembles the router. Routes requiring a session or the admin role
// are grouped behind the corresponding middleware.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{deps: deps, logger: deps.Logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLog())
	router.Use(cors.New(s.corsConfig()))

	router.GET("/health", s.handleHealth)
	router.POST("/login", s.handleLogin)

	if deps.Metrics != nil && deps.Config.Telemetry.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	authed := router.Group("/")
	authed.Use(s.requireSession())
	{
		authed.POST("/logout", s.handleLogout)
		authed.GET("/files/list", s.handleFilesList)
		authed.GET("/files/content/:filename", s.handleFileContent)
		authed.POST("/query", s.handleQuery)
		authed.GET("/search/suggest", s.handleSuggest)
		authed.GET("/files/facets", s.handleFacets)
	}

	// The websocket handler authenticates inside the upgrade so it can
	// close with a policy code instead of an HTTP status.
	router.GET("/ws/query", s.handleWSQuery)

	admin := router.Group("/")
	admin.Use(s.requireSession(), s.requireAdmin())
	{
		admin.POST("/upload", s.handleUpload)
		admin.DELETE("/files/delete_by_fileid", s.handleDeleteByFileID)
		admin.POST("/reindex/full", s.handleReindexFull)
		admin.POST("/reindex/file/:filename", s.handleReindexFile)
		admin.POST("/reindex/refresh", s.handleReindexRefresh)
		admin.GET("/analytics/recent", s.handleAnalyticsRecent)
	}

	s.router = router
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then drains in-flight
// requests within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening",
			slog.String("addr", addr),
			slog.String("version", version.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := s.deps.Config.ShutdownGraceDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.logger.Info("shutting down", slog.Duration("grace", grace))
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	origins := s.deps.Config.Server.CORSOrigins
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Session-Token"}
	return cfg
}

// requestLog is a minimal slog access log.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}
