// Command ingestion-server is the engine's single deployable: it wires
// every store, domain component, and the Job Submission API together and
// serves HTTP until signaled to shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/adapter"
	"github.com/r3e-network/ingestion-engine/internal/api"
	"github.com/r3e-network/ingestion-engine/internal/chain"
	"github.com/r3e-network/ingestion-engine/internal/collect"
	"github.com/r3e-network/ingestion-engine/internal/events"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/platform/database"
	"github.com/r3e-network/ingestion-engine/internal/provision"
	"github.com/r3e-network/ingestion-engine/internal/ratelimit"
	"github.com/r3e-network/ingestion-engine/internal/retry"
	"github.com/r3e-network/ingestion-engine/internal/runner"
	"github.com/r3e-network/ingestion-engine/internal/schedule"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/internal/writer"
	"github.com/r3e-network/ingestion-engine/pkg/config"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
	"github.com/r3e-network/ingestion-engine/pkg/metrics"
	"github.com/r3e-network/ingestion-engine/pkg/pgnotify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestion-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.Database.DSN
	if dsn == "" {
		dsn = cfg.Database.ConnectionString()
	}

	rawDB, err := database.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer rawDB.Close()
	rawDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	rawDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	rawDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	db := sqlx.NewDb(rawDB, "postgres")

	jobStore := store.NewJobStore(db)
	chainStore := store.NewChainStore(db)
	qualityStore := store.NewQualityStore(db)
	registryStore := store.NewRegistryStore(db)
	scheduleStore := store.NewScheduleStore(db)
	collectionStore := store.NewCollectionStore(db)

	provisioner := provision.New(db, registryStore)
	w := writer.New(db)

	bus, err := pgnotify.NewWithDB(rawDB, dsn)
	if err != nil {
		return fmt.Errorf("start pg notify bus: %w", err)
	}
	publisher := events.NewPublisher(bus)

	chainEngine := chain.New(chainStore, jobStore, nil, log)

	onComplete := func(ev runner.CompletionEvent) {
		evCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := publisher.Publish(evCtx, ev.JobID, ev.Source, ev.Status); err != nil {
			log.WithField("job_id", ev.JobID).WithField("error", err.Error()).Warn("publish completion event failed")
		}
		chainEngine.OnCompletion(evCtx, ev.JobID, ev.Status)
		metrics.RecordJobOutcome(ev.Source, string(ev.Status), 0)
	}

	jobRunner := runner.New(jobStore, provisioner, w, adapter.Default, log, onComplete).
		WithHooks(metrics.JobRunnerHooks())

	// chain.Engine.Execute dispatches a chain's root job through the same
	// runner every direct ingestion request uses.
	chainEngine = chain.New(chainStore, jobStore, jobRunner, log)

	if err := events.Subscribe(bus, func(evCtx context.Context, payload events.CompletionPayload) {
		chainEngine.OnCompletion(evCtx, payload.JobID, model.JobStatus(payload.Status))
	}); err != nil {
		return fmt.Errorf("subscribe to completion events: %w", err)
	}

	retryPolicy := retry.DefaultPolicy()
	retryScheduler := retry.New(jobStore, jobRunner, retryPolicy, log)

	scheduler := schedule.New(scheduleStore, jobStore, jobRunner, 30*time.Second, log).
		WithHooks(metrics.ScheduleDispatchHooks())
	scheduler.Start(ctx)
	defer scheduler.Stop(context.Background())

	stopRetryLoop := startRetryLoop(ctx, retryScheduler, log)
	defer stopRetryLoop()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	limiter := ratelimit.New(redisClient, log)
	jobRunner.WithRateLimiter(limiter)

	if err := syncRegistry(ctx, collectionStore, cfg.Engine.LPRegistryPath, log); err != nil {
		log.WithField("error", err.Error()).Warn("sync LP registry failed")
	}
	if err := syncRegistry(ctx, collectionStore, cfg.Engine.FORegistryPath, log); err != nil {
		log.WithField("error", err.Error()).Warn("sync FO registry failed")
	}

	router := api.New(jobStore, chainStore, qualityStore, adapter.Default, jobRunner, retryScheduler, chainEngine, log).
		WithSharedSecret(cfg.Server.SharedSecret)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("ingestion-server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startRetryLoop(ctx context.Context, scheduler *retry.Scheduler, log *logger.Logger) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := scheduler.Tick(ctx); err != nil {
					log.WithField("error", err.Error()).Warn("retry tick failed")
				} else if n > 0 {
					log.WithField("dispatched", n).Info("retry tick dispatched due jobs")
				}
			}
		}
	}()
	return func() { <-done }
}

func syncRegistry(ctx context.Context, collectionStore *store.CollectionStore, path string, log *logger.Logger) error {
	if path == "" {
		return nil
	}
	targets, err := collect.LoadRegistry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, t := range targets {
		if err := collectionStore.SyncTarget(ctx, t); err != nil {
			log.WithField("target", t.ID).WithField("error", err.Error()).Warn("sync collection target failed")
		}
	}
	return nil
}
