// Package server assembles the daemon: bridge, terminal manager, install
// workflow, application supervisor and the HTTP/WebSocket surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/invoke-ai/launcher/internal/api/http"
	"github.com/invoke-ai/launcher/internal/api/middleware"
	"github.com/invoke-ai/launcher/internal/api/ws"
	"github.com/invoke-ai/launcher/internal/app"
	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/config"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/infrastructure/monitoring"
	"github.com/invoke-ai/launcher/internal/install"
	"github.com/invoke-ai/launcher/internal/terminal"
)

// Server wraps the HTTP server and its collaborators.
type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *logging.Logger
	bus        *bridge.Bus
	board      *bridge.Board
	metrics    *monitoring.Metrics
	sampler    *monitoring.Sampler
	manager    *terminal.Manager
	workflow   *install.Workflow
	supervisor *app.Supervisor
}

// NewServer builds the full daemon from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return nil, err
		}
		logger = l
	}

	metrics := monitoring.NewMetrics()
	bus := bridge.NewBus()
	board := bridge.NewBoard(bus, logger.Named("bridge")).WithRecorder(metrics)

	manager := terminal.NewManager(logger.Named("terminal")).
		WithRecorder(metrics).
		WithHistoryLines(cfg.Terminal.HistoryLines)

	installRunner := terminal.NewRunner(manager, bridge.RoleInstall, logger.Named("install"))
	pins := install.NewPinClient(cfg.Install.PinBaseURL)
	workflow := install.New(board, installRunner, pins, cfg.Install.UVPath, logger.Named("install")).
		WithRecorder(metrics)

	supervisor := app.NewSupervisor(manager, board, logger.Named("app"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(board, manager, workflow, supervisor, logger.Named("http"))
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	wsHandler := ws.NewHandler(bus, board, manager, metrics, logger.Named("ws"))
	router.GET("/stream", wsHandler.HandleConnection)

	return &Server{
		router:     router,
		config:     cfg,
		logger:     logger,
		bus:        bus,
		board:      board,
		metrics:    metrics,
		sampler:    monitoring.NewSampler(bus, time.Second),
		manager:    manager,
		workflow:   workflow,
		supervisor: supervisor,
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully and
// tears down all live sessions.
func (s *Server) Run(ctx context.Context) error {
	go s.sampler.Run()

	srv := &http.Server{
		Addr:    s.config.Server.Address(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.sampler.Stop()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.sampler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}

	s.manager.Teardown()
	_ = s.logger.Sync()
	return nil
}
