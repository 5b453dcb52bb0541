package scanner

import (
	"time"

	"github.com/google/uuid"
)

// Target is a monitored external source scanned on a poll interval.
type Target struct {
	ID            int64
	ExternalID    string
	Name          string
	IsActive      bool
	PollInterval  time.Duration
	LastScannedAt *time.Time
	Rules         []FilterRule
}

// FilterRule is a keyword-matching criterion applied to fetched item text.
type FilterRule struct {
	ID            int64
	Keyword       string
	CaseSensitive bool
	WholeWord     bool
	IsActive      bool
}

// ExternalItem is one record fetched from the external API. Read-only once
// fetched.
type ExternalItem struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parent_id"`
	AuthorID string    `json:"author_id"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at"`
}

// MatchRecord is a persisted filter match, unique on (item, target, rule).
type MatchRecord struct {
	ItemID       string
	TargetID     int64
	RuleID       int64
	AuthorID     string
	ItemText     string
	ItemPostedAt time.Time
	MatchedAt    time.Time
}

// TaskStatus represents the lifecycle state of a scan task attempt.
type TaskStatus string

// Task status values reported to the scheduler and metrics.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusRetrying  TaskStatus = "retrying"
)

// ScanTask is an ephemeral unit of work: one scan attempt for one target.
// It carries a snapshot of the target's active rules and the per-target lease
// acquired by the scheduler, which the worker releases at a terminal state.
type ScanTask struct {
	ID         uuid.UUID
	Target     Target
	Rules      []FilterRule
	EnqueuedAt time.Time
	Attempt    int
	Status     TaskStatus
	Lease      Lease
}

// ScanCounters tracks per-task progress stats.
type ScanCounters struct {
	ItemsScanned int
	MatchesFound int
	PagesFetched int
	ItemsSkipped int
}

// Outcome is the terminal result of running a scan task attempt.
type Outcome struct {
	Status   TaskStatus
	Counters ScanCounters
	Err      error
}
