package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sentinal-relay/config"
	"sentinal-relay/internal/auth"
	"sentinal-relay/internal/handler"
	"sentinal-relay/internal/middleware"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Routes lists what a process serves. Nil members are not mounted, so the
// API and socket processes share one server.
type Routes struct {
	Calls       *handler.CallHandler
	CallLimiter *redis.RateLimiter
	Verifier    *auth.Verifier
	WebSocket   gin.HandlerFunc
	Health      map[string]HealthCheck
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router, mostly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(routes Routes) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		status := gin.H{}
		healthy := true
		for name, check := range routes.Health {
			if err := check(c.Request.Context()); err != nil {
				healthy = false
				status[name] = err.Error()
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, httpdto.Response[gin.H]{Data: status, Error: "unhealthy", Code: "UNHEALTHY"})
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
	})

	if routes.WebSocket != nil {
		s.engine.GET("/ws", routes.WebSocket)
	}

	if routes.Calls != nil && routes.Verifier != nil {
		v1 := s.engine.Group("/v1", middleware.AuthMiddleware(routes.Verifier))
		routes.Calls.Register(v1, middleware.CallRateLimitMiddleware(routes.CallLimiter))
	}
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log().Info("starting http server", zap.String("port", s.config.AppPort))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log().Info("shutting down http server", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.log().Info("http server stopped gracefully")
	return nil
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger.Named("http")
}
