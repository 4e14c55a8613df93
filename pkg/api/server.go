// Package api exposes the archive service over HTTP: file storage, search,
// backups, token administration, the structured memory store, and a
// websocket channel fed by the event hub.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arkived/internal/logger"
	"arkived/internal/ratelimiter"
	"arkived/pkg/backup"
	"arkived/pkg/config"
	"arkived/pkg/events"
	"arkived/pkg/index"
	"arkived/pkg/memory"
	"arkived/pkg/metrics"
	"arkived/pkg/storage"
	"arkived/pkg/token"
)

// Server wires the HTTP surface to the core components. Memory may be nil
// when the memory store is disabled.
type Server struct {
	cfg     *config.ServerConfig
	tokens  *token.Store
	manager *storage.Manager
	index   *index.Index
	engine  *backup.Engine
	hub     *events.Hub
	memory  *memory.Store

	httpMetrics *metrics.HTTPMetrics
	startTime   time.Time
}

// NewServer creates the HTTP server over the given components.
func NewServer(
	cfg *config.ServerConfig,
	tokens *token.Store,
	manager *storage.Manager,
	ix *index.Index,
	engine *backup.Engine,
	hub *events.Hub,
	mem *memory.Store,
	httpMetrics *metrics.HTTPMetrics,
) *Server {
	return &Server{
		cfg:         cfg,
		tokens:      tokens,
		manager:     manager,
		index:       ix,
		engine:      engine,
		hub:         hub,
		memory:      mem,
		httpMetrics: httpMetrics,
		startTime:   time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.observeRequests())

	if s.cfg.RateLimitPerSecond > 0 {
		limits := ratelimiter.NewPerClient(s.cfg.RateLimitPerSecond, s.cfg.RateLimitBurst)
		router.Use(func(c *gin.Context) {
			if !limits.Allow(c.ClientIP()) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"success": false,
					"message": "rate limit exceeded",
				})
				return
			}
			c.Next()
		})
	}

	if len(s.cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", s.handleHealth)
	if metrics.IsEnabled() {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			metrics.GetRegistry(), promhttp.HandlerOpts{},
		)))
	}

	router.GET("/ws", s.handleWebsocket)

	st := router.Group("/storage")
	{
		st.POST("/upload", s.requirePermission(archivePermWrite), s.handleUpload)
		st.GET("/download/:id", s.requirePermission(archivePermRead), s.handleDownload)
		st.POST("/search", s.requirePermission(archivePermRead), s.handleSearch)
		st.DELETE("/files/:id", s.requirePermission(archivePermDelete), s.handleDeleteFile)
		st.POST("/files/:id/tier", s.requirePermission(archivePermWrite), s.handleMoveTier)
		st.GET("/stats", s.requirePermission(archivePermRead), s.handleStorageStats)
	}

	bk := router.Group("/backup")
	{
		bk.POST("/create", s.requirePermission(archivePermWrite), s.handleBackupCreate)
		bk.GET("/list", s.requirePermission(archivePermRead), s.handleBackupList)
		bk.POST("/restore", s.requirePermission(archivePermWrite), s.handleBackupRestore)
		bk.DELETE("/cleanup", s.requirePermission(archivePermDelete), s.handleBackupCleanup)
		bk.GET("/status", s.requirePermission(archivePermRead), s.handleBackupStatus)
	}

	au := router.Group("/auth")
	{
		au.POST("/tokens", s.requirePermission(archivePermWrite), s.handleTokenCreate)
		au.GET("/tokens", s.requirePermission(archivePermRead), s.handleTokenList)
		au.DELETE("/tokens/:name", s.requirePermission(archivePermDelete), s.handleTokenRevoke)
	}

	if s.memory != nil {
		me := router.Group("/memory")
		{
			me.POST("/store", s.requirePermission(archivePermWrite), s.handleMemoryStore)
			me.POST("/search", s.requirePermission(archivePermRead), s.handleMemorySearch)
			me.GET("/stats", s.requirePermission(archivePermRead), s.handleMemoryStats)
		}
	}

	return router
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddress, s.cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"time":           time.Now().Format(time.RFC3339),
	})
}

// observeRequests records per-route request metrics.
func (s *Server) observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.httpMetrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
