package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/metrics"
)

// RunnerConfig bounds a single task attempt.
type RunnerConfig struct {
	// PageCap limits how many pages one attempt may fetch, bounding
	// worst-case task duration.
	PageCap int
	// DedupTTL is how long processed item keys stay in the dedup store. It
	// must cover at least one scheduling interval.
	DedupTTL time.Duration
	// Topic, when set together with a publisher, receives an event for every
	// newly persisted match.
	Topic string
}

// Runner executes scan tasks: it drives the item source's pagination, skips
// already-seen items, matches the rest against the task's rule snapshot, and
// emits match candidates to the sink.
type Runner struct {
	source    ItemSource
	dedup     DedupStore
	sink      MatchSink
	publisher Publisher
	clock     Clock
	cfg       RunnerConfig
	logger    *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(
	source ItemSource,
	dedup DedupStore,
	sink MatchSink,
	publisher Publisher,
	clock Clock,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if cfg.PageCap <= 0 {
		cfg.PageCap = 10
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &Runner{
		source:    source,
		dedup:     dedup,
		sink:      sink,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// DedupKey builds the dedup store key for an item under a target.
func DedupKey(targetID int64, itemID string) string {
	return fmt.Sprintf("seen:%d:%s", targetID, itemID)
}

// Run executes one task attempt and returns its outcome. Errors never escape;
// they are classified into the Retrying or Failed status.
func (r *Runner) Run(ctx context.Context, task *ScanTask) Outcome {
	counters := ScanCounters{}

	matcher, err := NewMatcher(task.Rules)
	if err != nil {
		return Outcome{Status: TaskStatusFailed, Counters: counters, Err: fmt.Errorf("build matcher: %w", err)}
	}
	if !matcher.HasRules() {
		// The scheduler only enqueues targets with active rules, but the rule
		// set may have been deactivated after the snapshot was taken.
		r.logger.Info("no active rules, skipping scan",
			zap.Int64("target_id", task.Target.ID))
		return Outcome{Status: TaskStatusSucceeded, Counters: counters}
	}

	var processed []string
	cursor := ""
	for {
		if ctx.Err() != nil {
			return r.failure(task, counters, fmt.Errorf("scan interrupted: %w", ctx.Err()))
		}

		items, next, err := r.source.FetchPage(ctx, task.Target.ExternalID, cursor)
		if err != nil {
			return r.failure(task, counters, fmt.Errorf("fetch page: %w", err))
		}
		counters.PagesFetched++

		for i := range items {
			key, err := r.processItem(ctx, task, matcher, &items[i], &counters)
			if err != nil {
				return r.failure(task, counters, err)
			}
			if key != "" {
				processed = append(processed, key)
			}
		}
		counters.ItemsScanned += len(items)
		metrics.ObserveItemsScanned(len(items))

		if next == "" || counters.PagesFetched >= r.cfg.PageCap {
			break
		}
		cursor = next
	}

	r.markProcessed(ctx, task, processed)

	return Outcome{Status: TaskStatusSucceeded, Counters: counters}
}

// processItem handles one fetched item and returns its dedup key when the
// item was newly processed this attempt.
func (r *Runner) processItem(
	ctx context.Context,
	task *ScanTask,
	matcher *Matcher,
	item *ExternalItem,
	counters *ScanCounters,
) (string, error) {
	key := DedupKey(task.Target.ID, item.ID)

	seen, err := r.dedup.Seen(ctx, key)
	if err != nil {
		// Dedup is a fast path only; the sink's unique constraint catches
		// duplicates, so degrade to "not seen" and keep scanning.
		r.logger.Warn("dedup lookup failed",
			zap.Int64("target_id", task.Target.ID),
			zap.String("item_id", item.ID),
			zap.Error(err))
	}
	if seen {
		counters.ItemsSkipped++
		return "", nil
	}

	rule, ok := matcher.Match(item.Text)
	if !ok {
		return key, nil
	}

	rec := MatchRecord{
		ItemID:       item.ID,
		TargetID:     task.Target.ID,
		RuleID:       rule.ID,
		AuthorID:     item.AuthorID,
		ItemText:     item.Text,
		ItemPostedAt: item.PostedAt,
		MatchedAt:    r.clock.Now(),
	}
	created, err := r.sink.Persist(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("persist match: %w", err)
	}
	if created {
		counters.MatchesFound++
		metrics.ObserveMatchPersisted()
		r.publishMatch(ctx, rec)
	}
	return key, nil
}

func (r *Runner) publishMatch(ctx context.Context, rec MatchRecord) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"item_id":    rec.ItemID,
		"target_id":  rec.TargetID,
		"rule_id":    rec.RuleID,
		"author_id":  rec.AuthorID,
		"matched_at": rec.MatchedAt.Format(time.RFC3339),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		// At-least-once delivery: the record is already persisted, downstream
		// consumers also read the store, so a lost event is not fatal.
		r.logger.Warn("publish match event failed",
			zap.Int64("target_id", rec.TargetID),
			zap.String("item_id", rec.ItemID),
			zap.Error(err))
	}
}

// markProcessed records the attempt's item keys in the dedup store. Failures
// only cost future redundant work, never correctness.
func (r *Runner) markProcessed(ctx context.Context, task *ScanTask, keys []string) {
	for _, key := range keys {
		if err := r.dedup.MarkSeen(ctx, key, r.cfg.DedupTTL); err != nil {
			r.logger.Warn("mark seen failed",
				zap.Int64("target_id", task.Target.ID),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

func (r *Runner) failure(task *ScanTask, counters ScanCounters, err error) Outcome {
	status := TaskStatusFailed
	if IsRetryable(err) {
		status = TaskStatusRetrying
	}
	r.logger.Error("scan attempt failed",
		zap.Int64("target_id", task.Target.ID),
		zap.Int("attempt", task.Attempt),
		zap.String("status", string(status)),
		zap.Error(err))
	return Outcome{Status: status, Counters: counters, Err: err}
}
