package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/studyrunner/internal/config"
	"github.com/dandantas/studyrunner/internal/credential"
	"github.com/dandantas/studyrunner/internal/database"
	"github.com/dandantas/studyrunner/internal/database/memory"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/notify"
	"github.com/dandantas/studyrunner/internal/oracle"
	"github.com/dandantas/studyrunner/internal/platform"
	"github.com/dandantas/studyrunner/internal/progress"
	"github.com/dandantas/studyrunner/internal/scheduler"
	"github.com/dandantas/studyrunner/internal/service"
	"github.com/dandantas/studyrunner/internal/worker"
	goredis "github.com/redis/go-redis/v9"
)

// app holds the wired components shared by the serve and sweep commands
type app struct {
	cfg        *config.Config
	instanceID string
	startedAt  time.Time

	store      service.Store
	closeStore func()

	hub        *progress.Hub
	bus        *progress.RedisBus
	pool       *worker.WorkerPool
	jobs       *service.JobService
	users      *service.UserService
	dispatcher *service.Dispatcher
	sweep      *service.RecoverySweep
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:        cfg,
		instanceID: scheduler.InstanceID(),
		startedAt:  time.Now().UTC(),
		closeStore: func() {},
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.hub = progress.NewHub(64)
	if cfg.RedisAddr != "" {
		bus, err := progress.NewRedisBus(ctx, &goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, a.instanceID)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.bus = bus
		slog.Info("Progress bus enabled", "redis_addr", cfg.RedisAddr)
	}

	a.jobs = service.NewJobService(a.store, a.store, a.store, a.store, service.JobOptions{
		MaxJobsPerUser: cfg.MaxJobsPerUser,
		LockTTL:        cfg.AdmissionLockTTL,
		LockWait:       cfg.AdmissionLockWait,
		InstanceID:     a.instanceID,
	})

	streamer := progress.NewStreamer(a.store, a.jobs, a.hub)
	if a.bus != nil {
		streamer.SetRemote(a.bus, a.instanceID)
	}

	a.pool = worker.NewWorkerPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize)
	a.dispatcher = service.NewDispatcher(a.pool, a.jobs)

	runnerDeps := service.RunnerDeps{
		Jobs:  a.jobs,
		Users: a.store,
		Platforms: platform.NewHTTPFactory(platform.HTTPConfig{
			BaseURL:      cfg.PlatformBaseURL,
			Timeout:      cfg.PlatformTimeout,
			Retry:        model.RetryConfig{MaxAttempts: cfg.PlatformMaxAttempts},
			CoursesPath:  cfg.PlatformCoursesPath,
			ChaptersPath: cfg.PlatformChapterPath,
			UnitsPath:    cfg.PlatformUnitsPath,
			NotOpenPath:  cfg.PlatformNotOpenPath,
		}),
		Oracles: oracle.NewRegistry(oracle.Defaults{
			Provider: cfg.OracleProvider,
			Endpoint: cfg.OracleEndpoint,
			Token:    cfg.OracleToken,
			Timeout:  cfg.OracleTimeout,
		}),
		Notifier: notify.NewRegistry(cfg.NotifyProvider, cfg.NotifyTimeout),
		Emitter:  streamer,
	}

	var sealer service.SecretSealer
	if cfg.CredentialKey != "" {
		box, err := credential.NewBox(cfg.CredentialKey)
		if err != nil {
			a.close()
			return nil, err
		}
		runnerDeps.Secrets = box
		sealer = box
	} else {
		slog.Warn("CREDENTIAL_KEY is not set, platform passwords cannot be stored")
	}

	runner := service.NewRunner(runnerDeps)
	a.pool.SetExecutor(runner.Run)

	a.users = service.NewUserService(a.store, a.jobs, sealer, cfg.DefaultNotOpenAction)
	a.sweep = service.NewRecoverySweep(a.jobs, a.store, a.dispatcher, a.startedAt)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case config.StoreMemory:
		slog.Warn("Using in-memory store, jobs are lost on restart")
		a.store = memory.NewStore()
		return nil
	default:
		db, err := database.Connect(ctx, a.cfg.MongoURI, a.cfg.MongoDatabase, a.cfg.MongoTimeout)
		if err != nil {
			return err
		}
		if err := database.CreateIndexes(ctx, db); err != nil {
			_ = db.Disconnect(context.Background())
			return fmt.Errorf("failed to create indexes: %w", err)
		}
		a.store = database.NewStore(db)
		a.closeStore = func() {
			if err := db.Disconnect(context.Background()); err != nil {
				slog.Error("Failed to disconnect from MongoDB", "error", err)
			}
		}
		return nil
	}
}

// close releases external connections. The worker pool is stopped by the caller.
func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}
	a.closeStore()
}
