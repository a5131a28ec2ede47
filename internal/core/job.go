package core

import (
	"encoding/json"
	"time"
)

// TimeFormat is the timestamp layout used for every persisted time field.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Job states.
const (
	StateScheduled = "scheduled"
	StateAvailable = "available"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// DefaultVisibilityTimeoutMs bounds how long a fetched job may stay active
// before the reaper hands it back to the queue.
const DefaultVisibilityTimeoutMs = 10 * 60 * 1000

// Job is the envelope every queued unit of work travels in.
type Job struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Queue string          `json:"queue"`
	State string          `json:"state"`
	Args  json.RawMessage `json:"args,omitempty"`

	// DelayMs postpones availability; zero means immediately available.
	DelayMs int64 `json:"delay_ms,omitempty"`

	CreatedAt   string `json:"created_at,omitempty"`
	EnqueuedAt  string `json:"enqueued_at,omitempty"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	FailedAt    string `json:"failed_at,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	Unique              *UniquePolicy `json:"unique,omitempty"`
	RemoveOnComplete    bool          `json:"remove_on_complete,omitempty"`
	KeepFailed          int           `json:"keep_failed,omitempty"`
	VisibilityTimeoutMs *int          `json:"visibility_timeout_ms,omitempty"`

	// IsExisting is set when a unique conflict returned an already queued job.
	IsExisting bool `json:"-"`
}

// UniquePolicy deduplicates pushes of equivalent jobs while one is still live.
type UniquePolicy struct {
	Keys       []string `json:"keys,omitempty"`
	OnConflict string   `json:"on_conflict,omitempty"`
}

// JobOptions carries the retention settings shared by every job the service enqueues.
type JobOptions struct {
	RemoveOnComplete bool
	KeepFailed       int
}

// DefaultJobOptions auto-removes completed jobs and keeps the last eight failures.
var DefaultJobOptions = JobOptions{RemoveOnComplete: true, KeepFailed: 8}

// Apply copies the options onto a job.
func (o JobOptions) Apply(job *Job) *Job {
	job.RemoveOnComplete = o.RemoveOnComplete
	job.KeepFailed = o.KeepFailed
	return job
}

// IsTerminalState reports whether a job can no longer change state.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateFailed
}

// QueueStats summarizes the jobs of one queue by state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Scheduled int    `json:"scheduled"`
	Available int    `json:"available"`
	Active    int    `json:"active"`
	Failed    int    `json:"failed"`
}

// FormatTime renders t in UTC using TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time rendered with FormatTime.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ParseTime parses a TimeFormat or RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}
