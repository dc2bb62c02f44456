// Package server assembles the whole service: configuration, logging,
// the update engine, the data source client, the dashboard poll loop, and
// the status API with its WebSocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/wpperf/dashkeeper/internal/api/http"
	"github.com/wpperf/dashkeeper/internal/api/middleware"
	"github.com/wpperf/dashkeeper/internal/api/ws"
	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/dashboard"
	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/engine/manager"
	"github.com/wpperf/dashkeeper/internal/fetch"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
	"github.com/wpperf/dashkeeper/internal/infrastructure/monitoring"
)

// Server wraps the status HTTP server and the dashboard it fronts.
type Server struct {
	cfg      *config.Config
	router   *gin.Engine
	http     *http.Server
	engine   *manager.Manager
	dash     *dashboard.Dashboard
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	stopPoll context.CancelFunc
}

// New builds the full service from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	metrics := monitoring.NewMetrics()

	logOpts := []errlog.Option{errlog.WithCap(cfg.Engine.ErrorLogCap)}
	if cfg.Engine.SessionLogPath != "" {
		store := errlog.NewFileSessionStore(cfg.Engine.SessionLogPath, cfg.Engine.SessionLogCap)
		logOpts = append(logOpts, errlog.WithSessionStore(store))
	} else {
		logOpts = append(logOpts, errlog.WithSessionStore(errlog.NewMemorySessionStore(cfg.Engine.SessionLogCap)))
	}
	eventLog := errlog.New(logOpts...)

	registry := container.NewRegistry()
	engine := manager.New(cfg, registry, eventLog, metrics, logger)
	source := fetch.New(cfg.Source, metrics)
	dash := dashboard.New(cfg, source, engine, registry, logger)

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		dash:    dash,
		metrics: metrics,
		logger:  logger.Named("server"),
	}
	s.router = s.buildRouter(eventLog, logger)
	s.http = &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: s.router,
	}
	return s, nil
}

func (s *Server) buildRouter(eventLog *errlog.Log, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(nil))
	router.Use(middleware.RateLimit(50, 100))

	handlers := apihttp.NewHandlers(s.engine, s.dash)
	hub := ws.NewHub(eventLog)
	wsHandler := ws.NewHandler(hub, eventLog, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)
	router.GET("/errors", handlers.Errors)
	router.GET("/recommendations", handlers.Recommendations)

	router.POST("/refresh", handlers.RefreshAll)
	router.POST("/panels/:id/refresh", handlers.RefreshPanel)
	router.POST("/panels/:id/rollback", handlers.RollbackPanel)
	router.POST("/panels/:id/recreate", handlers.RecreatePanel)
	router.POST("/emergency-stop", handlers.EmergencyStop)
	router.POST("/resume", handlers.Resume)

	router.GET("/demo", handlers.DemoStatus)
	router.POST("/demo/refresh", handlers.DemoRefresh)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{},
	)))

	router.GET("/stream", wsHandler.HandleConnection)
	return router
}

// Engine exposes the update engine, mainly for tests.
func (s *Server) Engine() *manager.Manager { return s.engine }

// Run starts the poll loop and serves the status API until the server is
// closed.
func (s *Server) Run() error {
	pollCtx, cancel := context.WithCancel(context.Background())
	s.stopPoll = cancel
	go s.dash.Run(pollCtx)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.metrics.TickUptime()
			}
		}
	}()

	s.logger.Info("status server listening",
		zap.String("addr", s.http.Addr),
		zap.String("source", s.cfg.Source.BaseURL))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops the poll loop and shuts the HTTP server down gracefully.
func (s *Server) Close() error {
	if s.stopPoll != nil {
		s.stopPoll()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return s.logger.Sync()
}
