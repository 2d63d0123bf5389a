package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/infrastructure/postgres/listener"
	"harvestsync/internal/interfaces/scheduler"
	"harvestsync/internal/shared/config"
	"harvestsync/internal/shared/logging"
	"harvestsync/internal/shared/telemetry"
)

const (
	shutdownTimeout = 30 * time.Second
	// revocationMaxAge outlasts any propagation cycle.
	revocationMaxAge = 2 * time.Hour
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	deps, err := NewDependencies(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var bg background
	if cfg.Scheduler.SubscriptionListener {
		bg.listener = listener.NewSubscriptionListener(cfg.Database.ConnectionString(), deps.Revocations)
		bg.listener.Start(context.Background())
	}

	if cfg.Scheduler.Enabled {
		bg.pool, bg.schedulers, err = startSchedulers(deps, cfg)
		if err != nil {
			return err
		}
	} else {
		log.Println("Scheduler is disabled")
	}

	srv := newServers(SetupRoutes(deps, cfg), cfg)
	serveErr := srv.start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err = <-serveErr:
	}

	gracefulShutdown(srv, bg, shutdownTimeout)
	return err
}

// startSchedulers creates the shared worker pool and the propagation,
// token refresh and revocation pruning schedules on top of it.
func startSchedulers(deps *Dependencies, cfg *config.Config) (*scheduler.WorkerPool, []*scheduler.Scheduler, error) {
	pool := scheduler.NewWorkerPool(cfg.Scheduler.WorkerCount, cfg.Scheduler.JobDelay, cfg.Scheduler.JobTimeout, cfg.Scheduler.QueueSize)

	configs := []scheduler.SchedulerConfig{
		{
			Name:          "propagation",
			ScheduleTimes: cfg.Scheduler.PropagationTimes,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   scheduler.PropagationJobs(deps.PropagationService, subscription.Families()),
		},
		{
			Name:          "token-refresh",
			ScheduleTimes: cfg.Scheduler.TokenRefreshTimes,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   scheduler.TokenRefreshJobs(deps.UserService, cfg.Scheduler.TokenRefreshWindow),
		},
		{
			Name:          "revocations",
			ScheduleTimes: []string{"*:05"},
			JobProvider: func(context.Context) ([]scheduler.Job, error) {
				return []scheduler.Job{scheduler.NewPruneRevocationsJob(deps.Revocations, revocationMaxAge)}, nil
			},
		},
	}

	schedulers := make([]*scheduler.Scheduler, 0, len(configs))
	for _, c := range configs {
		s, err := scheduler.NewScheduler(pool, c)
		if err != nil {
			return nil, nil, err
		}
		schedulers = append(schedulers, s)
	}

	pool.Start()
	for _, s := range schedulers {
		s.Start()
	}
	return pool, schedulers, nil
}
