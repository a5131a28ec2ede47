package nats

import (
	"encoding/json"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// jobState is the JSON document stored in KV for each job.
type jobState struct {
	ID                  string             `json:"id"`
	Type                string             `json:"type"`
	Queue               string             `json:"queue"`
	State               string             `json:"state"`
	Args                json.RawMessage    `json:"args,omitempty"`
	DelayMs             int64              `json:"delay_ms,omitempty"`
	CreatedAt           string             `json:"created_at,omitempty"`
	EnqueuedAt          string             `json:"enqueued_at,omitempty"`
	ScheduledAt         string             `json:"scheduled_at,omitempty"`
	StartedAt           string             `json:"started_at,omitempty"`
	CompletedAt         string             `json:"completed_at,omitempty"`
	FailedAt            string             `json:"failed_at,omitempty"`
	Result              json.RawMessage    `json:"result,omitempty"`
	Error               string             `json:"error,omitempty"`
	Unique              *core.UniquePolicy `json:"unique,omitempty"`
	UniqueKey           string             `json:"unique_key,omitempty"`
	RemoveOnComplete    bool               `json:"remove_on_complete,omitempty"`
	KeepFailed          int                `json:"keep_failed,omitempty"`
	VisibilityTimeoutMs *int               `json:"visibility_timeout_ms,omitempty"`
}

func jobToState(job *core.Job, uniqueKey string) *jobState {
	return &jobState{
		ID:                  job.ID,
		Type:                job.Type,
		Queue:               job.Queue,
		State:               job.State,
		Args:                job.Args,
		DelayMs:             job.DelayMs,
		CreatedAt:           job.CreatedAt,
		EnqueuedAt:          job.EnqueuedAt,
		ScheduledAt:         job.ScheduledAt,
		StartedAt:           job.StartedAt,
		CompletedAt:         job.CompletedAt,
		FailedAt:            job.FailedAt,
		Result:              job.Result,
		Error:               job.Error,
		Unique:              job.Unique,
		UniqueKey:           uniqueKey,
		RemoveOnComplete:    job.RemoveOnComplete,
		KeepFailed:          job.KeepFailed,
		VisibilityTimeoutMs: job.VisibilityTimeoutMs,
	}
}

func stateToJob(s *jobState) *core.Job {
	return &core.Job{
		ID:                  s.ID,
		Type:                s.Type,
		Queue:               s.Queue,
		State:               s.State,
		Args:                s.Args,
		DelayMs:             s.DelayMs,
		CreatedAt:           s.CreatedAt,
		EnqueuedAt:          s.EnqueuedAt,
		ScheduledAt:         s.ScheduledAt,
		StartedAt:           s.StartedAt,
		CompletedAt:         s.CompletedAt,
		FailedAt:            s.FailedAt,
		Result:              s.Result,
		Error:               s.Error,
		Unique:              s.Unique,
		RemoveOnComplete:    s.RemoveOnComplete,
		KeepFailed:          s.KeepFailed,
		VisibilityTimeoutMs: s.VisibilityTimeoutMs,
	}
}

func marshalJobState(job *core.Job, uniqueKey string) ([]byte, error) {
	return json.Marshal(jobToState(job, uniqueKey))
}

func unmarshalJobState(data []byte) (*jobState, error) {
	var s jobState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// activeJobInfo tracks an active job's visibility deadline.
type activeJobInfo struct {
	Queue              string `json:"queue"`
	VisibilityDeadline string `json:"visibility_deadline"`
	WorkerID           string `json:"worker_id,omitempty"`
}

// indexEntry is the value stored in the scheduled and failed indexes.
type indexEntry struct {
	Queue string `json:"queue"`
	At    string `json:"at"`
}
