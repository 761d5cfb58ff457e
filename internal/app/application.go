package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/api"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/config"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/database"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/hub"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/logging"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/metrics"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/websocket"
	dbconfig "github.com/ManishKarki1997/VirtualClassroomServer/pkg/database"
)

// Application coordinates all system components
// Component initialization follows strict dependency order:
// Logger → Database → Metrics → Hub → WebSocket → API → HTTP
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	store      *database.Manager
	metrics    *metrics.Metrics
	hub        *hub.Hub
	api        *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

// NewApplication builds every component from cfg and migrates the store.
// A nil logger is built from cfg.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.New(cfg.Env, cfg.Log.Level)
	}

	store, err := database.NewManager(StoreConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if _, err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	m := metrics.New()
	h := hub.NewHub(store, m, logger, hub.Options{
		QueueSize:       cfg.Hub.QueueSize,
		EventsPerMinute: cfg.Hub.EventsPerMinute,
		LookupTimeout:   cfg.Hub.LookupTimeout,
	})
	ws := websocket.NewHandler(h, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBuffer:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, logger)

	server := api.NewServer(store, h, api.Options{
		WebSocket:      http.HandlerFunc(ws.HandleWebSocket),
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	})

	return &Application{
		config:  cfg,
		logger:  logger.With("component", "app"),
		store:   store,
		metrics: m,
		hub:     h,
		api:     server,
		httpServer: &http.Server{
			Addr:         cfg.HTTP.Addr(),
			Handler:      server,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// StoreConfig maps the application database section onto the store config.
func StoreConfig(cfg *config.Config) *dbconfig.Config {
	return &dbconfig.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}
}

// Start binds the listener and runs the hub and the HTTP server until Stop or
// until either fails. It returns once the listener is bound.
// ARCHITECTURAL DISCOVERY: the hub starts before the listener accepts, so the
// first upgrade never meets ErrHubNotRunning
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	app.group = g

	g.Go(func() error {
		select {
		case <-app.hub.Done():
			if gctx.Err() != nil {
				return nil
			}
			return errors.New("hub stopped")
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	app.logger.Info("virtual classroom server started", "addr", ln.Addr().String())
	return nil
}

// Wait blocks until the server exits and returns the first failure.
func (app *Application) Wait() error {
	if app.group == nil {
		return nil
	}
	return app.group.Wait()
}

// Stop shuts down in reverse dependency order: HTTP, then hub, then store.
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down virtual classroom server")
		var errs []error

		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if app.cancel != nil {
			app.cancel()
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		if app.group != nil {
			if err := app.group.Wait(); err != nil {
				app.logger.Debug("server goroutine exited", "err", err)
			}
		}
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database shutdown: %w", err))
		}
		app.stopErr = errors.Join(errs...)
	})
	return app.stopErr
}

// Addr returns the bound listener address, or the configured one before Start.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Hub exposes the event loop for in-process tooling and tests.
func (app *Application) Hub() *hub.Hub {
	return app.hub
}
