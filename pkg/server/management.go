package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/health"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/metrics"
)

// ManagementServer serves operational endpoints for a worker process:
//   - /health: liveness, always 200
//   - /ready: registered health checks, 503 when any is unhealthy
//   - /metrics: Prometheus metrics
type ManagementServer struct {
	*Server
	engine          *gin.Engine
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
}

// NewManagementServer creates the management listener.
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
) (*ManagementServer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if healthRegistry == nil {
		return nil, errors.New("health registry is required")
	}
	if metricsRegistry == nil {
		return nil, errors.New("metrics registry is required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recovery(log), requestLogging(log))

	s := &ManagementServer{
		Server:          NewServer(Config{Address: cfg.Address}, engine, log),
		engine:          engine,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
	}
	s.registerEndpoints()
	return s, nil
}

func (s *ManagementServer) registerEndpoints() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
	})
	s.engine.GET("/ready", gin.WrapH(s.healthRegistry.Handler()))
	s.engine.GET("/metrics", gin.WrapH(s.metricsRegistry.Handler()))
}

// Handler returns the routed handler, for tests and embedding.
func (s *ManagementServer) Handler() http.Handler {
	return s.engine
}

func recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("management handler panicked", "path", c.Request.URL.Path, "panic", rec)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func requestLogging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("management request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
