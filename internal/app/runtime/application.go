// Package runtime assembles the arbitration engine process: configuration,
// persistence, the service graph and the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/deedchain/arbitration_layer/internal/app"
	"github.com/deedchain/arbitration_layer/internal/app/httpapi"
	"github.com/deedchain/arbitration_layer/internal/app/metrics"
	"github.com/deedchain/arbitration_layer/internal/app/storage/postgres"
	"github.com/deedchain/arbitration_layer/internal/config"
	"github.com/deedchain/arbitration_layer/internal/platform/migrations"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	engine     *app.Application
	httpServer *http.Server
	db         *sql.DB
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	engine, err := app.New(stores, app.Boundaries{}, app.Options{
		FeeCollector: cfg.Engine.FeeCollector,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	if err := engine.Attach(newGaugeRefresher(engine, "", log)); err != nil {
		return nil, fmt.Errorf("attach gauge refresher: %w", err)
	}

	api, err := httpapi.NewHandler(engine, httpapi.Options{})
	if err != nil {
		return nil, fmt.Errorf("build http api: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.WithAuth(api, cfg.Auth.JWTSecret))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		engine:     engine,
		httpServer: httpServer,
		db:         db,
	}, nil
}

// Run starts the services and the HTTP server, blocking until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the services and the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.engine.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// buildStores selects the persistence backend. The memory driver returns the
// zero Stores value, which the engine fills with its in-memory store.
func buildStores(cfg *config.Config) (app.Stores, *sql.DB, error) {
	if cfg.Database.Driver != "postgres" {
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Committees:   store,
		Applications: store,
		Proposals:    store,
		Rewards:      store,
	}, db, nil
}

func openDatabase(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
