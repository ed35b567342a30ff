// Package api exposes the subsystem's operational HTTP surface: embedding
// endpoints for collaborators plus the health, metrics, alerts, and
// production-readiness contract consumed by dashboards and ops tooling.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsage/finsage/pkg/config"
	"github.com/finsage/finsage/pkg/embedding"
	"github.com/finsage/finsage/pkg/observability"
)

// ShadowReporter is the comparator view the readiness endpoint needs
type ShadowReporter interface {
	Stats() embedding.ShadowStats
	Readiness() embedding.ReadinessReport
}

// Server is the ops HTTP server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	service *embedding.HybridService
	shadow  ShadowReporter
	metrics *observability.MetricsRegistry
	logger  observability.Logger

	similarityThreshold float64
}

// NewServer creates the server and registers all routes
func NewServer(
	cfg config.APIConfig,
	service *embedding.HybridService,
	shadow ShadowReporter,
	metrics *observability.MetricsRegistry,
	logger observability.Logger,
	similarityThreshold float64,
) *Server {
	if logger == nil {
		logger = observability.NewLogger("api")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.LogRequests {
		router.Use(RequestLogger(logger))
	}
	router.Use(MetricsMiddleware(metrics))

	s := &Server{
		router:  router,
		service: service,
		shadow:  shadow,
		metrics: metrics,
		logger:  logger,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		similarityThreshold: similarityThreshold,
	}

	router.GET("/health", s.healthHandler)
	router.GET("/metrics", s.metricsHandler)
	router.GET("/alerts", s.alertsHandler)
	router.GET("/production-readiness", s.readinessHandler)

	v1 := router.Group("/api/v1")
	v1.POST("/embed", s.embedHandler)
	v1.POST("/embed/batch", s.embedBatchHandler)

	return s
}

// Start begins serving; blocks until the server stops
func (s *Server) Start() error {
	s.logger.Info("Starting ops server", map[string]interface{}{
		"address": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

type embedRequest struct {
	Text              string `json:"text" binding:"required"`
	Context           string `json:"context"`
	PreferredProvider string `json:"preferred_provider"`
}

type embedBatchRequest struct {
	Texts   []string `json:"texts" binding:"required"`
	Context string   `json:"context"`
}

func (s *Server) embedHandler(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqContext, ok := parseContext(req.Context)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown context: " + req.Context})
		return
	}

	result, err := s.service.Embed(c.Request.Context(), embedding.EmbeddingRequest{
		Text:              req.Text,
		Context:           reqContext,
		PreferredProvider: embedding.ProviderID(req.PreferredProvider),
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) embedBatchHandler(c *gin.Context) {
	var req embedBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqContext, ok := parseContext(req.Context)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown context: " + req.Context})
		return
	}

	results, err := s.service.EmbedBatch(c.Request.Context(), req.Texts, reqContext)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// healthHandler reports provider breaker status and overall health
func (s *Server) healthHandler(c *gin.Context) {
	breakers := s.service.BreakerStatuses()

	healthy := true
	providers := make(map[string]interface{}, len(breakers))
	for id, status := range breakers {
		providers[string(id)] = status
		if status.State == embedding.BreakerOpen {
			healthy = false
		}
	}

	body := gin.H{
		"status":    "healthy",
		"providers": providers,
		"budget":    s.service.BudgetSnapshot(),
	}
	code := http.StatusOK
	if !healthy {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

// metricsHandler serves latency percentiles, cache hit rate, and cost-to-date
func (s *Server) metricsHandler(c *gin.Context) {
	budget := s.service.BudgetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"cache":              s.service.CacheStats(),
		"api_p95_latency_ms": s.service.APILatencyP95(),
		"cost_to_date_usd":   budget.SpentUSD,
		"budget":             budget,
		"registry":           s.metrics.Snapshot(),
	})
}

// alertsHandler serves active threshold breaches
func (s *Server) alertsHandler(c *gin.Context) {
	var shadowStats embedding.ShadowStats
	if s.shadow != nil {
		shadowStats = s.shadow.Stats()
	}

	alerts := evaluateAlerts(
		s.service.BreakerStatuses(),
		s.service.BudgetSnapshot(),
		s.service.CacheStats(),
		shadowStats,
		s.similarityThreshold,
	)
	if alerts == nil {
		alerts = []Alert{}
	}
	c.JSON(http.StatusOK, gin.H{
		"active": alerts,
		"count":  len(alerts),
	})
}

// readinessHandler serves aggregate shadow statistics and the go/no-go signal
func (s *Server) readinessHandler(c *gin.Context) {
	if s.shadow == nil {
		c.JSON(http.StatusOK, gin.H{
			"ready":  false,
			"reason": "shadow mode disabled",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report": s.shadow.Readiness(),
		"stats":  s.shadow.Stats(),
	})
}

// parseContext maps the wire value to a routing context. An omitted value
// defaults to realtime; anything else unknown is rejected so a typo cannot
// land a request under the wrong routing rules.
func parseContext(value string) (embedding.RequestContext, bool) {
	if value == "" {
		return embedding.ContextRealtime, true
	}
	switch embedding.RequestContext(value) {
	case embedding.ContextRealtime, embedding.ContextQuality,
		embedding.ContextBatch, embedding.ContextSensitive:
		return embedding.RequestContext(value), true
	default:
		return "", false
	}
}
