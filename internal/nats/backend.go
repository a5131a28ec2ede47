package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/kv"
)

var tracer = otel.Tracer("github.com/openjobspec/ojs-operator-checks/internal/nats")

// NATSBackend is the durable job queue built on NATS JetStream and KV.
type NATSBackend struct {
	nc *nats.Conn
	js jetstream.JetStream

	// KV stores
	jobs      *kv.Store
	unique    *kv.UniqueStore
	scheduled *kv.Store
	active    *kv.Store
	failed    *kv.Store

	serviceState *kv.ServiceStateStore
	cycles       *kv.CycleStore
	transfers    *kv.Store

	// JetStream consumer manager
	consumers *ConsumerManager
}

// New creates a new NATSBackend, connecting to NATS and setting up JetStream resources.
func New(natsURL string) (*NATSBackend, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("operator-checks"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	b, err := NewWithConn(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

// NewWithConn builds the backend over an already established connection.
func NewWithConn(nc *nats.Conn) (*NATSBackend, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := SetupJetStream(ctx, js); err != nil {
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	buckets := make(map[string]jetstream.KeyValue)
	for _, name := range []string{
		BucketJobs, BucketUnique, BucketScheduled, BucketActive,
		BucketFailed, BucketState, BucketCycles, BucketTransfers,
	} {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		buckets[name] = bucket
	}

	return &NATSBackend{
		nc:           nc,
		js:           js,
		jobs:         kv.NewStore(buckets[BucketJobs]),
		unique:       kv.NewUniqueStore(buckets[BucketUnique]),
		scheduled:    kv.NewStore(buckets[BucketScheduled]),
		active:       kv.NewStore(buckets[BucketActive]),
		failed:       kv.NewStore(buckets[BucketFailed]),
		serviceState: kv.NewServiceStateStore(buckets[BucketState]),
		cycles:       kv.NewCycleStore(buckets[BucketCycles]),
		transfers:    kv.NewStore(buckets[BucketTransfers]),
		consumers:    NewConsumerManager(js),
	}, nil
}

// Conn returns the underlying NATS connection for use by auxiliary services (e.g., the event publisher).
func (b *NATSBackend) Conn() *nats.Conn {
	return b.nc
}

// ServiceState returns the singleton ServiceState store.
func (b *NATSBackend) ServiceState() *kv.ServiceStateStore {
	return b.serviceState
}

// Cycles returns the check-cycle store.
func (b *NATSBackend) Cycles() *kv.CycleStore {
	return b.cycles
}

// Transfers returns the bucket holding the transfer journal.
func (b *NATSBackend) Transfers() *kv.Store {
	return b.transfers
}

func (b *NATSBackend) Close() error {
	b.nc.Close()
	return nil
}

func startJobSpan(ctx context.Context, op string, job *core.Job) (context.Context, trace.Span) {
	return tracer.Start(ctx, "queue."+op, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.String("job.queue", job.Queue),
	))
}

// Push enqueues a single job. A job with DelayMs > 0 is parked in the
// scheduled index until the maintenance scheduler promotes it.
func (b *NATSBackend) Push(ctx context.Context, job *core.Job) (*core.Job, error) {
	ctx, span := startJobSpan(ctx, "push", job)
	defer span.End()

	now := time.Now()

	if job.ID == "" {
		job.ID = core.NewUUIDv7()
	}
	if job.Queue == "" {
		return nil, core.NewInvalidRequestError("Job queue is required.", map[string]any{"job_id": job.ID})
	}
	job.CreatedAt = core.FormatTime(now)

	var fingerprint string
	if job.Unique != nil {
		fingerprint = kv.ComputeFingerprint(job)

		conflict := job.Unique.OnConflict
		if conflict == "" {
			conflict = "reject"
		}

		existingID, err := b.unique.CheckAndSet(ctx, fingerprint, job.ID)
		if err != nil {
			return nil, fmt.Errorf("unique check: %w", err)
		}
		if existingID != "" {
			existingJob, infoErr := b.Info(ctx, existingID)
			if infoErr == nil && !core.IsTerminalState(existingJob.State) {
				switch conflict {
				case "ignore":
					existingJob.IsExisting = true
					return existingJob, nil
				case "reject":
					return nil, core.NewConflictError(
						"A job with the same unique key already exists.",
						map[string]any{
							"existing_job_id": existingID,
							"unique_key":      fingerprint,
						},
					)
				}
			}
			// Stale lock: the owner is gone or finished.
			if err := b.unique.Acquire(ctx, fingerprint, job.ID); err != nil {
				return nil, fmt.Errorf("unique acquire: %w", err)
			}
		}
	}

	job.EnqueuedAt = core.FormatTime(now)

	if job.DelayMs > 0 {
		runAt := now.Add(time.Duration(job.DelayMs) * time.Millisecond)
		job.State = core.StateScheduled
		job.ScheduledAt = core.FormatTime(runAt)

		if _, err := b.putJobState(ctx, job, fingerprint); err != nil {
			return nil, fmt.Errorf("store scheduled job: %w", err)
		}
		if _, err := b.scheduled.PutJSON(ctx, job.ID, indexEntry{Queue: job.Queue, At: job.ScheduledAt}); err != nil {
			return nil, fmt.Errorf("index scheduled job: %w", err)
		}
		return job, nil
	}

	job.State = core.StateAvailable

	if _, err := b.putJobState(ctx, job, fingerprint); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	if err := PublishJob(ctx, b.js, job.Queue, job.ID); err != nil {
		return nil, fmt.Errorf("publish job: %w", err)
	}

	return job, nil
}

// Fetch claims up to count available jobs from the specified queues.
func (b *NATSBackend) Fetch(ctx context.Context, queues []string, count int, workerID string) ([]*core.Job, error) {
	ctx, span := tracer.Start(ctx, "queue.fetch", trace.WithAttributes(
		attribute.StringSlice("queues", queues),
		attribute.String("worker.id", workerID),
	))
	defer span.End()

	now := time.Now()
	var jobs []*core.Job

	for _, queue := range queues {
		if len(jobs) >= count {
			break
		}

		jobIDs, err := b.consumers.FetchMessages(ctx, queue, count-len(jobs))
		if err != nil {
			span.RecordError(err)
			continue
		}

		for _, jobID := range jobIDs {
			job, uniqueKey, err := b.getJobState(ctx, jobID)
			if err != nil || job.State != core.StateAvailable {
				// Obliterated or already handled.
				_ = b.consumers.AckMessage(jobID)
				continue
			}

			job.State = core.StateActive
			job.StartedAt = core.FormatTime(now)

			visTimeout := core.DefaultVisibilityTimeoutMs
			if job.VisibilityTimeoutMs != nil && *job.VisibilityTimeoutMs > 0 {
				visTimeout = *job.VisibilityTimeoutMs
			}
			deadline := now.Add(time.Duration(visTimeout) * time.Millisecond)

			info := activeJobInfo{
				Queue:              queue,
				VisibilityDeadline: core.FormatTime(deadline),
				WorkerID:           workerID,
			}
			if _, err := b.active.PutJSON(ctx, jobID, info); err != nil {
				_ = b.consumers.AckMessage(jobID)
				continue
			}

			if _, err := b.putJobState(ctx, job, uniqueKey); err != nil {
				_ = b.active.Delete(ctx, jobID)
				_ = b.consumers.AckMessage(jobID)
				continue
			}

			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

// Ack marks an active job completed. Jobs pushed with RemoveOnComplete are
// deleted outright.
func (b *NATSBackend) Ack(ctx context.Context, jobID string, result []byte) (*core.Job, error) {
	job, uniqueKey, err := b.getJobState(ctx, jobID)
	if err != nil {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	ctx, span := startJobSpan(ctx, "ack", job)
	defer span.End()

	if job.State != core.StateActive {
		return nil, core.NewConflictError(
			fmt.Sprintf("Cannot acknowledge job not in 'active' state. Current state: '%s'.", job.State),
			map[string]any{
				"job_id":         jobID,
				"current_state":  job.State,
				"expected_state": core.StateActive,
			},
		)
	}

	job.State = core.StateCompleted
	job.CompletedAt = core.NowFormatted()
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}

	if job.RemoveOnComplete {
		if err := b.jobs.Delete(ctx, jobID); err != nil {
			return nil, core.NewInternalError(fmt.Sprintf("removing completed job: %v", err))
		}
	} else if _, err := b.putJobState(ctx, job, uniqueKey); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("updating completed job state: %v", err))
	}
	if err := b.active.Delete(ctx, jobID); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("removing active job state: %v", err))
	}
	if err := b.consumers.AckMessage(jobID); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("acking job message: %v", err))
	}
	b.releaseUnique(ctx, uniqueKey, jobID)

	return job, nil
}

// Fail marks an active job failed. Failed jobs are never retried; they are
// kept for inspection, trimmed to the job's KeepFailed newest per queue.
func (b *NATSBackend) Fail(ctx context.Context, jobID string, reason string) (*core.Job, error) {
	job, uniqueKey, err := b.getJobState(ctx, jobID)
	if err != nil {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	ctx, span := startJobSpan(ctx, "fail", job)
	defer span.End()

	if job.State != core.StateActive {
		return nil, core.NewConflictError(
			fmt.Sprintf("Cannot fail job not in 'active' state. Current state: '%s'.", job.State),
			map[string]any{
				"job_id":         jobID,
				"current_state":  job.State,
				"expected_state": core.StateActive,
			},
		)
	}

	job.State = core.StateFailed
	job.FailedAt = core.NowFormatted()
	job.Error = reason

	if _, err := b.putJobState(ctx, job, uniqueKey); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("updating failed job state: %v", err))
	}
	if err := b.active.Delete(ctx, jobID); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("removing active state for failed job: %v", err))
	}
	if err := b.consumers.TermMessage(jobID); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("terminating failed job message: %v", err))
	}
	if _, err := b.failed.PutJSON(ctx, jobID, indexEntry{Queue: job.Queue, At: job.FailedAt}); err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("indexing failed job: %v", err))
	}
	b.releaseUnique(ctx, uniqueKey, jobID)

	if err := b.trimFailed(ctx, job.Queue, job.KeepFailed); err != nil {
		span.RecordError(err)
	}

	return job, nil
}

// Info retrieves job details.
func (b *NATSBackend) Info(ctx context.Context, jobID string) (*core.Job, error) {
	job, _, err := b.getJobState(ctx, jobID)
	if err != nil {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	return job, nil
}

// Count returns how many jobs of a queue are in any of the given states.
func (b *NATSBackend) Count(ctx context.Context, queue string, states ...string) (int, error) {
	want := make(map[string]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	n := 0
	err := b.eachJob(ctx, func(job *core.Job, _ string) {
		if job.Queue == queue && want[job.State] {
			n++
		}
	})
	if err != nil {
		return 0, fmt.Errorf("count jobs in %s: %w", queue, err)
	}
	return n, nil
}

// QueueStats returns per-state job counts for a queue.
func (b *NATSBackend) QueueStats(ctx context.Context, name string) (*core.QueueStats, error) {
	stats := &core.QueueStats{Queue: name}
	err := b.eachJob(ctx, func(job *core.Job, _ string) {
		if job.Queue != name {
			return
		}
		switch job.State {
		case core.StateScheduled:
			stats.Scheduled++
		case core.StateAvailable:
			stats.Available++
		case core.StateActive:
			stats.Active++
		case core.StateFailed:
			stats.Failed++
		}
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats for %s: %w", name, err)
	}
	return stats, nil
}

// Obliterate removes every job of a queue, whatever its state, along with
// index entries, unique locks and pending stream messages. It returns the
// number of jobs removed.
func (b *NATSBackend) Obliterate(ctx context.Context, queue string) (int, error) {
	type victim struct {
		id        string
		uniqueKey string
	}
	var victims []victim
	err := b.eachJob(ctx, func(job *core.Job, uniqueKey string) {
		if job.Queue == queue {
			victims = append(victims, victim{id: job.ID, uniqueKey: uniqueKey})
		}
	})
	if err != nil {
		return 0, fmt.Errorf("obliterate %s: %w", queue, err)
	}

	for _, v := range victims {
		_ = b.consumers.AckMessage(v.id)
		for _, store := range []*kv.Store{b.scheduled, b.active, b.failed, b.jobs} {
			if err := store.Delete(ctx, v.id); err != nil {
				return 0, fmt.Errorf("obliterate job %s: %w", v.id, err)
			}
		}
		b.releaseUnique(ctx, v.uniqueKey, v.id)
	}

	if err := PurgeQueue(ctx, b.js, queue); err != nil {
		return 0, err
	}
	b.consumers.Forget(queue)

	return len(victims), nil
}

// Health checks the NATS connection and KV round trip.
func (b *NATSBackend) Health(ctx context.Context) error {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("NATS not connected: %v", status)
	}
	if _, err := b.jobs.Keys(ctx); err != nil {
		return fmt.Errorf("KV unavailable: %w", err)
	}
	return nil
}

// Touch extends the visibility deadline of an active job.
func (b *NATSBackend) Touch(ctx context.Context, jobID string, timeout time.Duration) error {
	var info activeJobInfo
	if _, err := b.active.GetJSON(ctx, jobID, &info); err != nil {
		if kv.IsNotFound(err) {
			return core.NewNotFoundError("Active job", jobID)
		}
		return err
	}
	info.VisibilityDeadline = core.FormatTime(time.Now().Add(timeout))
	if _, err := b.active.PutJSON(ctx, jobID, info); err != nil {
		return err
	}
	_ = b.consumers.InProgress(jobID)
	return nil
}
