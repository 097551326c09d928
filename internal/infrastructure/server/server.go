// Package server wires the collaboration server together: configuration,
// logging, storage, the session subsystems and the gin router.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/codehive/backend/internal/api/http"
	"github.com/codehive/backend/internal/api/middleware"
	"github.com/codehive/backend/internal/api/ws"
	"github.com/codehive/backend/internal/auth"
	"github.com/codehive/backend/internal/collab"
	"github.com/codehive/backend/internal/infrastructure/config"
	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/presence"
	"github.com/codehive/backend/internal/reaper"
	"github.com/codehive/backend/internal/store"
	"github.com/codehive/backend/internal/terminal"
)

// Version is the reported service version, overridable at link time.
var Version = "dev"

// Server owns the HTTP listener and every long-lived subsystem.
type Server struct {
	router    *gin.Engine
	httpSrv   *http.Server
	store     *store.Store
	registry  *presence.Registry
	terminals *terminal.Manager
	reaper    *reaper.Reaper
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
}

// NewServer builds a fully wired server from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing collab server",
		zap.String("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
	)

	metrics := monitoring.NewMetrics()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	authenticator := auth.New([]byte(cfg.Auth.JWTSecret), st, cfg.Auth.Leeway)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, every connection attempt will be rejected")
	}

	registry := presence.NewRegistry(st, metrics, logger)
	terminals := terminal.NewManager(terminal.Config{
		Shell:          cfg.Terminal.Shell,
		WorkspaceRoot:  cfg.Terminal.WorkspaceRoot,
		MaxPerChannel:  cfg.Terminal.MaxPerChannel,
		ScrollbackSize: cfg.Terminal.ScrollbackSize,
		InputPerSecond: cfg.Terminal.InputPerSecond,
		InputBurst:     cfg.Terminal.InputBurst,
	}, st, st, metrics, logger)
	registry.SetTerminalCloser(terminals)
	terminals.SetLiveness(registry)

	broadcaster := collab.NewBroadcaster(registry, metrics, logger)
	idleReaper := reaper.New(registry, cfg.Session.ReapInterval, cfg.Session.IdleTimeout, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(nil))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(registry, terminals, Version)
	wsHandler := ws.NewHandler(authenticator, registry, broadcaster, terminals, metrics, logger, cfg.Session.SendBuffer)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.HandleConnection)

	logger.Info("server initialized")

	return &Server{
		router:    router,
		store:     st,
		registry:  registry,
		terminals: terminals,
		reaper:    idleReaper,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}, nil
}

// Run starts the idle reaper and the HTTP listener. It blocks until the
// listener stops.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.reaperCancel = cancel
	s.reaperDone = make(chan struct{})
	go func() {
		defer close(s.reaperDone)
		s.reaper.Run(ctx)
	}()

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("starting HTTP server", zap.String("addr", addr))

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close drains every live channel, stops the reaper and releases the store.
// Disconnecting a channel also kills its terminals, so after the drain no
// subprocess survives.
func (s *Server) Close() error {
	s.logger.Info("shutting down")

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Session.ReapInterval)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	for _, channelID := range s.registry.Channels() {
		s.registry.Disconnect(channelID)
	}

	if s.reaperCancel != nil {
		s.reaperCancel()
		<-s.reaperDone
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close", zap.Error(err))
		return fmt.Errorf("close store: %w", err)
	}

	s.logger.Sync()
	return nil
}
