// Package scheduler enumerates due targets on a fixed tick and enqueues scan
// tasks, leaving execution entirely to the worker pool.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/metrics"
	"github.com/andr-235/keywatch/internal/scanner"
)

// Config controls Scheduler behavior.
type Config struct {
	TickInterval time.Duration
	// LockTTL must outlive a task attempt including its retries, so the
	// auto-expiry only fires after a genuine worker crash.
	LockTTL time.Duration
}

// Scheduler periodically enqueues one scan task per due target, guarded by a
// per-target lease so scans of the same target never overlap across cycles.
type Scheduler struct {
	targets scanner.TargetStore
	locker  scanner.TargetLocker
	queue   scanner.Queue
	clock   scanner.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Scheduler.
func New(
	targets scanner.TargetStore,
	locker scanner.TargetLocker,
	queue scanner.Queue,
	clock scanner.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		targets: targets,
		locker:  locker,
		queue:   queue,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run starts the tick loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	targets, err := s.targets.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("list due targets failed", zap.Error(err))
		return
	}

	for i := range targets {
		if ctx.Err() != nil {
			return
		}
		s.schedule(ctx, targets[i], now)
	}
}

func (s *Scheduler) schedule(ctx context.Context, target scanner.Target, now time.Time) {
	rules := activeRules(target.Rules)
	if len(rules) == 0 {
		s.logger.Debug("target has no active rules, skipping",
			zap.Int64("target_id", target.ID))
		return
	}

	lease, acquired, err := s.locker.TryAcquire(ctx, target.ID, s.cfg.LockTTL)
	if err != nil {
		s.logger.Error("acquire target lease failed",
			zap.Int64("target_id", target.ID),
			zap.Error(err))
		return
	}
	if !acquired {
		metrics.ObserveSkippedSchedule()
		s.logger.Info("previous scan still in flight, skipping",
			zap.Int64("target_id", target.ID))
		return
	}

	task := &scanner.ScanTask{
		ID:         uuid.New(),
		Target:     target,
		Rules:      rules,
		EnqueuedAt: now,
		Status:     scanner.TaskStatusPending,
		Lease:      lease,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if rerr := lease.Release(ctx); rerr != nil {
			s.logger.Warn("release lease after enqueue failure",
				zap.Int64("target_id", target.ID),
				zap.Error(rerr))
		}
		s.logger.Error("enqueue scan task failed",
			zap.Int64("target_id", target.ID),
			zap.Error(err))
		return
	}
	s.logger.Debug("scan task enqueued",
		zap.Int64("target_id", target.ID),
		zap.String("task_id", task.ID.String()))
}

func activeRules(rules []scanner.FilterRule) []scanner.FilterRule {
	out := make([]scanner.FilterRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out
}
