package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/api"
	"chargebridge/internal/backend"
	"chargebridge/internal/command"
	"chargebridge/internal/config"
	"chargebridge/internal/handlers"
	"chargebridge/internal/pending"
	"chargebridge/internal/registry"
	"chargebridge/internal/router"
	"chargebridge/internal/session"
	"chargebridge/internal/shadow"
	"chargebridge/internal/transaction"
)

const adapterRetries = 3

// App wires all dependencies of the gateway.
type App struct {
	httpServer *http.Server
	db         *sql.DB
	sessions   *session.Manager
	table      *pending.Table
	cfg        *config.Config
	logger     *zap.Logger
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	var bus backend.Bus
	var shadowStore shadow.Writer
	if cfg.Redis.Addr != "" {
		client, err := backend.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		bus = backend.NewRedisBus(client, logger)
		shadowStore = shadow.NewRedis(client)
	} else {
		logger.Warn("no redis configured, using in-process bus and shadow store")
		bus = backend.NewMemoryBus(logger)
		shadowStore = shadow.NewMemory()
	}
	shadowStore = shadow.WithRetry(shadowStore, adapterRetries)

	var db *sql.DB
	var reg registry.DeviceRegistry
	if cfg.Database.DSN != "" {
		var err error
		db, err = registry.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		reg = registry.WithRetry(registry.NewPostgresRegistry(db), adapterRetries)
	} else {
		logger.Warn("no database configured, using static device registry")
		reg = registry.NewStatic(cfg.RegistryAllowList()...)
	}

	table := pending.NewTable(logger)
	machine := transaction.NewMachine(shadowStore, logger)
	actionMap := handlers.NewActionMap(shadowStore, machine, logger)
	rt := router.New(actionMap, table, shadowStore, logger)

	sessionCfg := session.Config{
		IdleTimeout:    cfg.IdleTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		PingInterval:   cfg.PingInterval(),
		ViolationLimit: cfg.ViolationLimit(),
	}
	sessions := session.NewManager(reg, bus, rt, table, sessionCfg, logger)
	wsServer := session.NewServer(sessions, cfg.WSBasePath(), cfg.AcceptedProtocols(), logger)

	ingress := command.NewIngress(sessions, table, bus, cfg.CommandTimeout(), logger)
	commandHandlers := api.NewCommandHandlers(ingress, machine, sessions, logger)

	mux := api.NewRouter(api.RouterDeps{
		Commands:   commandHandlers,
		DeviceWS:   wsServer.HandleWS,
		WSBasePath: cfg.WSBasePath(),
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		},
		JWTSecret: cfg.Commands.JWTSecret,
	})

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddress(),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return &App{
		httpServer: httpServer,
		db:         db,
		sessions:   sessions,
		table:      table,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run starts the sweeper and the HTTP server, blocking until ctx ends.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.table.RunSweeper(ctx, a.cfg.SweepInterval())

	go func() {
		a.logger.Info("starting gateway http server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		a.sessions.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
