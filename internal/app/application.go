// Package app wires the relay's components into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campuslink/internal/api"
	"campuslink/internal/auth"
	"campuslink/internal/backplane"
	"campuslink/internal/channel"
	"campuslink/internal/config"
	"campuslink/internal/delivery"
	"campuslink/internal/directory"
	"campuslink/internal/hub"
	"campuslink/internal/observability"
	"campuslink/internal/presence"
	"campuslink/internal/registry"
	"campuslink/internal/websocket"
	"campuslink/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	directory  *directory.Store
	hub        *hub.Hub
	transport  backplane.Transport
	relay      *backplane.Router
	wsHandler  *websocket.Handler
	httpServer *http.Server
}

// NewApplication builds every component. Initialization follows strict dependency order:
// Directory → Registry/Channels → Hub → Backplane → Coordinator → WebSocket → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mode, err := presence.ParseMode(cfg.Presence.Mode)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()

	// STEP 1: Directory store (foundation layer)
	store, err := OpenDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if _, err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to apply directory migrations: %w", err)
		}
	}

	// STEP 2: Connection state and the event loop that owns it
	channels := channel.NewManager()
	eventHub := hub.NewHub(registry.NewRegistry(channels), channels, mode, logger, metrics)

	// STEP 3: Optional broker so flows reach users connected to other nodes
	transport, err := backplane.Open(ctx, cfg.Backplane.Driver,
		backplane.RedisConfig{
			Addr:     cfg.Backplane.Redis.Addr,
			Password: cfg.Backplane.Redis.Password,
			DB:       cfg.Backplane.Redis.DB,
			PoolSize: cfg.Backplane.Redis.PoolSize,
			Channel:  cfg.Backplane.Channel,
		},
		backplane.NATSConfig{
			URL:           cfg.Backplane.NATS.URL,
			Name:          "campuslink",
			Subject:       cfg.Backplane.Channel,
			ReconnectWait: cfg.Backplane.NATS.ReconnectWait,
			Timeout:       cfg.Backplane.NATS.Timeout,
		},
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open backplane: %w", err)
	}

	var (
		router interfaces.EventRouter = eventHub
		relay  *backplane.Router
	)
	if transport != nil {
		nodeID := cfg.Backplane.NodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		relay = backplane.NewRouter(nodeID, transport, eventHub, logger, metrics)
		router = relay
	}

	// STEP 4: Delivery flows and both transports into the relay
	coordinator := delivery.NewCoordinator(router, store, logger)

	wsOpts := websocket.Options{
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		SendBuffer:      cfg.WebSocket.BufferSize,
		RateLimit:       cfg.WebSocket.RateLimit,
		RateWindow:      cfg.WebSocket.RateWindow,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Required)
	wsHandler := websocket.NewHandler(eventHub, store, verifier, wsOpts, logger, metrics)

	apiServer := api.NewServer(coordinator, store, eventHub, wsHandler, cfg.API.Key, logger, metrics)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.Named("app"),
		metrics:    metrics,
		directory:  store,
		hub:        eventHub,
		transport:  transport,
		relay:      relay,
		wsHandler:  wsHandler,
		httpServer: httpServer,
	}, nil
}

// OpenDirectory opens the directory store named by cfg, creating its
// parent directory if needed.
func OpenDirectory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*directory.Store, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dirCfg := directory.DefaultConfig()
	dirCfg.Path = cfg.Database.Path
	dirCfg.MaxConnections = cfg.Database.MaxConnections
	dirCfg.WriteTimeout = cfg.Database.WriteTimeout
	dirCfg.RetryDelay = cfg.Database.RetryDelay

	store, err := directory.Open(ctx, dirCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}
	return store, nil
}

// Run listens on the configured address and serves until ctx ends.
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.close()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve runs the hub, the HTTP server, the backplane subscription and
// periodic housekeeping until ctx ends or one of them fails, then shuts
// everything down in reverse dependency order.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	defer app.close()

	// STEP 1: Start the event loop before any connection can reach it. It
	// outlives ctx so connections draining during shutdown still disconnect.
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("campuslink listening", zap.String("addr", ln.Addr().String()))
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if app.relay != nil {
		g.Go(func() error {
			if err := app.relay.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("backplane subscription ended: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		app.housekeeping(gctx)
		return nil
	})

	return g.Wait()
}

// housekeeping forgets idle rate limiter entries.
func (app *Application) housekeeping(ctx context.Context) {
	interval := app.config.WebSocket.RateWindow
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			app.wsHandler.Limiter().Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// close releases resources in reverse dependency order: Connections → Hub → Backplane → Directory
func (app *Application) close() {
	if app.hub.IsRunning() {
		// hijacked websocket connections survive http.Server.Shutdown
		ctx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		if closed, err := app.hub.CloseAll(ctx); err != nil {
			app.logger.Warn("failed to close connections", zap.Error(err))
		} else if closed > 0 {
			app.logger.Info("closed connections", zap.Int("count", closed))
		}
		cancel()
		if err := app.hub.Stop(); err != nil {
			app.logger.Warn("hub shutdown error", zap.Error(err))
		}
	}
	if app.transport != nil {
		if err := app.transport.Close(); err != nil {
			app.logger.Warn("backplane shutdown error", zap.Error(err))
		}
	}
	if err := app.directory.Close(); err != nil {
		app.logger.Warn("directory shutdown error", zap.Error(err))
	}
	app.logger.Info("campuslink shutdown complete")
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Metrics exposes the application's metric set.
func (app *Application) Metrics() *observability.Metrics {
	return app.metrics
}
