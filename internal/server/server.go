package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type Server struct {
	Engine          *gin.Engine
	Addr            string
	ShutdownTimeout time.Duration
	checks          map[string]HealthChecker
}

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Option customizes a Server.
type Option func(*Server)

// WithHealthCheck adds a dependency reported by /health.
func WithHealthCheck(name string, hc HealthChecker) Option {
	return func(s *Server) { s.checks[name] = hc }
}

// WithMiddleware installs handlers ahead of every route.
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return func(s *Server) { s.Engine.Use(mw...) }
}

// WithMetricsEndpoint serves h (usually a Prometheus handler) at path.
func WithMetricsEndpoint(path string, h http.Handler) Option {
	return func(s *Server) { s.Engine.GET(path, gin.WrapH(h)) }
}

func New(addr string, mode string, opts ...Option) *Server {
	// Set Gin mode based on configuration
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	s := &Server{
		Engine:          r,
		Addr:            addr,
		ShutdownTimeout: 5 * time.Second,
		checks:          make(map[string]HealthChecker),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.GET("/health", s.healthHandler)

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	deps := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			slog.Error("[Server] Health check failed", "dependency", name, "error", err)
			deps[name] = "unreachable"
			healthy = false
			continue
		}
		deps[name] = "connected"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "unhealthy",
			"dependencies": deps,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"dependencies": deps,
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("[Server] Starting HTTP server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] Forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
