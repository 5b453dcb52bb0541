// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/api"
	"github.com/andr-235/keywatch/internal/clock/system"
	"github.com/andr-235/keywatch/internal/config"
	"github.com/andr-235/keywatch/internal/coordination"
	"github.com/andr-235/keywatch/internal/dedup"
	"github.com/andr-235/keywatch/internal/dispatcher"
	notifierpubsub "github.com/andr-235/keywatch/internal/notifier/pubsub"
	queuememory "github.com/andr-235/keywatch/internal/queue/memory"
	"github.com/andr-235/keywatch/internal/ratelimit"
	"github.com/andr-235/keywatch/internal/scanner"
	"github.com/andr-235/keywatch/internal/scheduler"
	"github.com/andr-235/keywatch/internal/source/httpapi"
	"github.com/andr-235/keywatch/internal/storage/postgres"
	"github.com/andr-235/keywatch/internal/worker"
)

// App holds all shared, long-lived services. It is initialized once at
// startup and fails fast when any critical service cannot be reached.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	redis     *redis.Client
	store     *postgres.Store
	queue     *queuememory.Queue
	sched     *scheduler.Scheduler
	pool      *dispatcher.Dispatcher
	ops       *api.Server
	publisher *notifierpubsub.Publisher
}

// New wires every service from configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("initializing services")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	var publisher *notifierpubsub.Publisher
	var taskPublisher scanner.Publisher
	topic := ""
	if cfg.PubSub.Enabled {
		publisher, err = notifierpubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			store.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("initialize pubsub: %w", err)
		}
		taskPublisher = publisher
		topic = cfg.PubSub.TopicName
		logger.Info("match notifications enabled", zap.String("topic", topic))
	}

	clk := system.New()
	limiter := ratelimit.New(redisClient, clk)
	tracker := dedup.NewTracker(redisClient)
	locker := coordination.NewTargetLocker(redisClient)
	queue := queuememory.NewQueue(cfg.Scanner.QueueDepth)

	source := httpapi.New(httpapi.Config{
		BaseURL:        cfg.Source.BaseURL,
		AuthToken:      cfg.Source.AuthToken,
		UserAgent:      cfg.Source.UserAgent,
		Timeout:        cfg.Source.Timeout,
		PageSize:       cfg.Source.PageSize,
		LimiterKey:     cfg.RateLimit.Key,
		RateLimit:      cfg.RateLimit.Limit,
		RateWindow:     cfg.RateLimit.Window,
		MaxLimiterWait: cfg.Source.MaxLimiterWait,
		MaxRetries:     cfg.Source.MaxRetries,
		BackoffBase:    cfg.Source.BackoffBase,
		BackoffMax:     cfg.Source.BackoffMax,
	}, limiter, logger.Named("source"))

	runner := scanner.NewRunner(source, tracker, store, taskPublisher, clk, scanner.RunnerConfig{
		PageCap:  cfg.Scanner.PageCap,
		DedupTTL: cfg.Scanner.DedupTTL,
		Topic:    topic,
	}, logger.Named("runner"))

	workers := make([]*worker.Worker, 0, cfg.Scanner.Concurrency)
	for i := 0; i < cfg.Scanner.Concurrency; i++ {
		workers = append(workers, worker.New(queue, runner, store, clk, worker.Config{
			MaxAttempts: cfg.Scanner.MaxAttempts,
			TaskTimeout: cfg.Scanner.TaskTimeout,
			LeaseTTL:    cfg.Scanner.LockTTL,
		}, logger.Named("worker").With(zap.Int("worker", i))))
	}

	sched := scheduler.New(store, locker, queue, clk, scheduler.Config{
		TickInterval: cfg.Scanner.TickInterval,
		LockTTL:      cfg.Scanner.LockTTL,
	}, logger.Named("scheduler"))

	ops := api.NewServer(cfg.Server.Port, map[string]api.Pinger{
		"postgres": store,
		"redis":    redisPinger{client: redisClient},
	}, logger.Named("ops"))

	logger.Info("services initialized")

	return &App{
		cfg:       cfg,
		logger:    logger,
		redis:     redisClient,
		store:     store,
		queue:     queue,
		sched:     sched,
		pool:      dispatcher.New(workers),
		ops:       ops,
		publisher: publisher,
	}, nil
}

// Run starts the ops server, the scheduler, and the worker pool, blocking
// until the context is cancelled and the pool has drained.
func (a *App) Run(ctx context.Context) {
	a.ops.Start()
	go a.sched.Run(ctx)
	a.pool.Run(ctx)
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	a.logger.Info("shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.ops.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ops server shutdown", zap.Error(err))
	}

	a.queue.Close()
	a.store.Close()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close pubsub publisher", zap.Error(err))
		}
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("close redis client", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort: stderr may already be gone on shutdown.
		_ = err
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
