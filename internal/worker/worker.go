// Package worker implements the scan task execution loop.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/metrics"
	"github.com/andr-235/keywatch/internal/scanner"
)

// TaskRunner executes one scan task attempt.
type TaskRunner interface {
	Run(ctx context.Context, task *scanner.ScanTask) scanner.Outcome
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds retries within one scheduling cycle. Exceeding it
	// abandons the task until the next tick.
	MaxAttempts int
	// TaskTimeout is the hard wall-clock budget for one attempt.
	TaskTimeout time.Duration
	// LeaseTTL is the duration the target lease is extended to at each attempt
	// boundary, keeping it alive through queue waits and retries.
	LeaseTTL time.Duration
}

// Worker consumes queued scan tasks and runs them to a terminal state. Task
// failures, including panics, never take the worker down.
type Worker struct {
	queue   scanner.Queue
	runner  TaskRunner
	targets scanner.TargetStore
	clock   scanner.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue scanner.Queue,
	runner TaskRunner,
	targets scanner.TargetStore,
	clock scanner.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	return &Worker{
		queue:   queue,
		runner:  runner,
		targets: targets,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task *scanner.ScanTask) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	task.Status = scanner.TaskStatusRunning
	w.refreshLease(ctx, task)

	start := w.clock.Now()
	outcome := w.runAttempt(ctx, task)
	metrics.ObserveScanDuration(w.clock.Now().Sub(start))
	task.Status = outcome.Status

	switch outcome.Status {
	case scanner.TaskStatusSucceeded:
		w.completeSuccess(ctx, task, outcome)
	case scanner.TaskStatusRetrying:
		w.requeue(ctx, task, outcome)
	default:
		w.completeFailure(ctx, task, outcome)
	}
}

// runAttempt runs the task under its wall-clock budget and converts panics
// into a Failed outcome so one bad task cannot take down the pool.
func (w *Worker) runAttempt(ctx context.Context, task *scanner.ScanTask) (outcome scanner.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("scan task panicked",
				zap.Int64("target_id", task.Target.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			outcome = scanner.Outcome{
				Status: scanner.TaskStatusFailed,
				Err:    fmt.Errorf("task panic: %v", r),
			}
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()
	return w.runner.Run(taskCtx, task)
}

func (w *Worker) completeSuccess(ctx context.Context, task *scanner.ScanTask, outcome scanner.Outcome) {
	if err := w.targets.UpdateLastScanned(ctx, task.Target.ID, w.clock.Now()); err != nil {
		w.logger.Error("update last scanned failed",
			zap.Int64("target_id", task.Target.ID),
			zap.Error(err))
	}
	w.release(ctx, task)
	metrics.ObserveTask(string(scanner.TaskStatusSucceeded))
	w.logger.Info("scan succeeded",
		zap.Int64("target_id", task.Target.ID),
		zap.Int("items_scanned", outcome.Counters.ItemsScanned),
		zap.Int("matches_found", outcome.Counters.MatchesFound),
		zap.Int("pages", outcome.Counters.PagesFetched))
}

// requeue sends a retryable attempt back to the queue, keeping the target
// lease held so the next cycle cannot overlap. Exhausted attempts fall
// through to the failure path.
func (w *Worker) requeue(ctx context.Context, task *scanner.ScanTask, outcome scanner.Outcome) {
	if task.Attempt+1 >= w.cfg.MaxAttempts {
		w.logger.Warn("retries exhausted, abandoning until next cycle",
			zap.Int64("target_id", task.Target.ID),
			zap.Int("attempts", task.Attempt+1),
			zap.Error(outcome.Err))
		w.completeFailure(ctx, task, outcome)
		return
	}

	task.Attempt++
	task.Status = scanner.TaskStatusPending
	w.refreshLease(ctx, task)
	if err := w.queue.Enqueue(ctx, task); err != nil {
		w.logger.Error("requeue failed",
			zap.Int64("target_id", task.Target.ID),
			zap.Error(err))
		w.completeFailure(ctx, task, outcome)
		return
	}
	metrics.ObserveTask(string(scanner.TaskStatusRetrying))
	w.logger.Info("scan attempt retrying",
		zap.Int64("target_id", task.Target.ID),
		zap.Int("attempt", task.Attempt),
		zap.Error(outcome.Err))
}

func (w *Worker) completeFailure(ctx context.Context, task *scanner.ScanTask, outcome scanner.Outcome) {
	task.Status = scanner.TaskStatusFailed
	w.release(ctx, task)
	metrics.ObserveTask(string(scanner.TaskStatusFailed))
	w.logger.Error("scan failed",
		zap.Int64("target_id", task.Target.ID),
		zap.Int("attempt", task.Attempt),
		zap.Error(outcome.Err))
}

// refreshLease extends the target lease so it cannot expire mid-task and let
// the next tick start an overlapping scan. Failures are logged only; a lease
// lost here will also fail the final release, which is equally benign.
func (w *Worker) refreshLease(ctx context.Context, task *scanner.ScanTask) {
	if task.Lease == nil {
		return
	}
	if err := task.Lease.Refresh(ctx, w.cfg.LeaseTTL); err != nil {
		w.logger.Warn("lease refresh failed",
			zap.Int64("target_id", task.Target.ID),
			zap.Error(err))
	}
}

func (w *Worker) release(ctx context.Context, task *scanner.ScanTask) {
	if task.Lease == nil {
		return
	}
	// Release must survive a cancelled run context during shutdown; the TTL
	// is the fallback if this fails too.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := task.Lease.Release(releaseCtx); err != nil {
		w.logger.Warn("lease release failed",
			zap.Int64("target_id", task.Target.ID),
			zap.Error(err))
	}
}
