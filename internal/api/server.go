// Package api exposes the operator surface: status and history reads, the
// pause/resume/close controls, and the Prometheus scrape endpoint. Mutating
// routes require a JWT obtained from the operator key.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strategy-engine/internal/engine"
	"strategy-engine/internal/metrics"
	"strategy-engine/internal/monitor"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/logger"
)

// Config carries the authentication settings.
type Config struct {
	JWTSecret   string
	OperatorKey string
	TokenTTL    time.Duration
}

// Server wires HTTP endpoints around the engine controller.
type Server struct {
	router   *gin.Engine
	engine   *engine.Controller
	monitor  *monitor.Monitor
	metrics  *metrics.Recorder
	db       *db.Database
	cfg      Config
	log      *logger.Logger
	limiters *ipLimiters

	http *http.Server
}

func NewServer(cfg Config, ctrl *engine.Controller, mon *monitor.Monitor, rec *metrics.Recorder, database *db.Database, log *logger.Logger) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	s := &Server{
		router:   r,
		engine:   ctrl,
		monitor:  mon,
		metrics:  rec,
		db:       database,
		cfg:      cfg,
		log:      log.With("api"),
		limiters: newIPLimiters(20, 50),
	}

	// Middleware stack, order matters: recovery first, then request ID so
	// the logger can tag every line.
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(s.requestLogger())
	r.Use(s.rateLimit())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.healthz)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/token", s.issueToken)

		v1.GET("/status", s.getStatus)
		v1.GET("/health", s.getHealth)
		v1.GET("/position", s.getPosition)
		v1.GET("/risk", s.getRisk)
		v1.GET("/signals", s.getSignals)
		v1.GET("/trades", s.getTrades)

		protected := v1.Group("/engine")
		protected.Use(s.authRequired())
		{
			protected.POST("/pause", s.pauseEngine)
			protected.POST("/resume", s.resumeEngine)
			protected.POST("/close", s.closePosition)
		}
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
