package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/config"
	"example.com/afms/internal/api/handlers"
	"example.com/afms/internal/api/middleware"
	"example.com/afms/internal/cqrs"
	"example.com/afms/internal/metrics"
	"example.com/afms/internal/rules"
	"example.com/afms/internal/service"
	"example.com/afms/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server

	attendance *service.AttendanceService
	engine     *rules.Engine
	readModels *cqrs.ReadModelManager
	collector  *metrics.Collector
	health     *metrics.HealthChecker
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	attendance *service.AttendanceService,
	engine *rules.Engine,
	readModels *cqrs.ReadModelManager,
	collector *metrics.Collector,
	health *metrics.HealthChecker,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:     cfg,
		attendance: attendance,
		engine:     engine,
		readModels: readModels,
		collector:  collector,
		health:     health,
		tracer:     tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      server.router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}
	if s.config.MetricsEnabled {
		router.Use(middleware.Metrics(s.collector))
	}

	metricsHandler := handlers.NewMetricsHandler(s.collector, s.health)
	metricsHandler.RegisterRoutes(router)

	v1 := router.Group("/api/v1", middleware.BearerAuth(s.config.AuthToken))

	attendanceHandler := handlers.NewAttendanceHandler(s.attendance, s.tracer)
	attendanceHandler.RegisterRoutes(v1)

	adminHandler := handlers.NewAdminHandler(s.engine, s.readModels)
	adminHandler.RegisterRoutes(v1.Group("/admin"))

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
