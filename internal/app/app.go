// Package app initializes and orchestrates the main components of the
// application: store, work engine, queue, worker pool, rate limiter, and the
// HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queueworks/workd/internal/config"
	"github.com/queueworks/workd/internal/db"
	"github.com/queueworks/workd/internal/gate"
	"github.com/queueworks/workd/internal/jobs"
	"github.com/queueworks/workd/internal/queue"
	"github.com/queueworks/workd/internal/ratelimit"
	"github.com/queueworks/workd/internal/server"
	"github.com/queueworks/workd/internal/service"
	"github.com/queueworks/workd/internal/storage"
	"github.com/queueworks/workd/internal/work"
)

// janitorInterval is how often idle rate-limit buckets are swept.
const janitorInterval = time.Minute

// App holds the main application components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	server *server.Server
	pool   *jobs.Pool

	workerCancel context.CancelFunc
	janitorDone  chan struct{}
	dbCleanup    func()
}

// NewApp sets up the application with all its dependencies and starts the
// background workers.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger.Info("initializing workd",
		"workers", cfg.NumWorkers,
		"queue_size", cfg.MaxQueueSize,
		"sync_concurrency", cfg.MaxSyncConcurrency,
	)

	dbConn, dbCleanup, err := db.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := storage.NewStore(dbConn.DB)
	engine := work.NewEngine()
	jobQueue := queue.New(cfg.MaxQueueSize)
	syncGate := gate.New(cfg.MaxSyncConcurrency)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)

	deliverer := jobs.NewDeliverer(cfg.MaxCallbackRetries, cfg.CallbackTimeout, cfg.RetryBackoffBase, logger)
	pool := jobs.NewPool(jobQueue, store, engine, deliverer, cfg.NumWorkers, cfg.WorkTimeout, logger)

	svc := service.New(store, engine, jobQueue, syncGate, cfg.WorkTimeout, logger)
	httpServer := server.NewServer(cfg, svc, limiter, logger)

	workerCtx, workerCancel := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	limiter.StartJanitor(janitorDone, janitorInterval)
	pool.Start(workerCtx)

	logger.Info("workd initialized successfully")
	return &App{
		cfg:          cfg,
		logger:       logger,
		server:       httpServer,
		pool:         pool,
		workerCancel: workerCancel,
		janitorDone:  janitorDone,
		dbCleanup:    dbCleanup,
	}, nil
}

// Start runs the HTTP server and blocks until it stops.
func (a *App) Start() error {
	a.logger.Info("starting workd", "port", a.cfg.ServerPort)
	return a.server.Start()
}

// Stop shuts down the application cleanly: server first so no new requests
// arrive, then the workers, then the database. Jobs still buffered in the
// queue are dropped; the job a worker holds is finished.
func (a *App) Stop() error {
	a.logger.Info("shutting down workd services")

	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
	}

	a.workerCancel()
	a.pool.Stop()
	close(a.janitorDone)

	a.logger.Info("closing database connection")
	a.dbCleanup()

	if serverErr != nil {
		return serverErr
	}
	a.logger.Info("workd stopped successfully")
	return nil
}
