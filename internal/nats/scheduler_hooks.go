package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/kv"
)

// indexSweep describes one pass over a timestamped index bucket.
type indexSweep struct {
	index *kv.Store
	// dueAt extracts the instant an index entry becomes due.
	dueAt func(ctx context.Context, index *kv.Store, jobID string) (time.Time, bool)
	// from is the state a job must still be in to be moved.
	from string
	// release runs after the index entry is dropped and before republishing.
	release func(jobID string) error
	verb    string
}

// PromoteScheduled hands delayed jobs whose time has come to their queue.
func (b *NATSBackend) PromoteScheduled(ctx context.Context) error {
	return b.sweep(ctx, indexSweep{
		index: b.scheduled,
		dueAt: func(ctx context.Context, index *kv.Store, jobID string) (time.Time, bool) {
			var entry indexEntry
			if _, err := index.GetJSON(ctx, jobID, &entry); err != nil {
				return time.Time{}, false
			}
			at, err := core.ParseTime(entry.At)
			return at, err == nil
		},
		from: core.StateScheduled,
		verb: "promote",
	})
}

// RequeueStalled hands active jobs whose visibility deadline passed back to
// their queue. The stale JetStream claim is acked first so the message is not
// delivered twice.
func (b *NATSBackend) RequeueStalled(ctx context.Context) error {
	return b.sweep(ctx, indexSweep{
		index: b.active,
		dueAt: func(ctx context.Context, index *kv.Store, jobID string) (time.Time, bool) {
			var info activeJobInfo
			if _, err := index.GetJSON(ctx, jobID, &info); err != nil {
				return time.Time{}, false
			}
			deadline, err := core.ParseTime(info.VisibilityDeadline)
			// strictly after the deadline
			return deadline.Add(time.Nanosecond), err == nil
		},
		from:    core.StateActive,
		release: b.consumers.AckMessage,
		verb:    "requeue",
	})
}

// sweep moves every due job in s.index back to available and republishes it.
// Index entries whose job is gone or has moved on are dropped. The first
// error is returned after the whole index has been visited.
func (b *NATSBackend) sweep(ctx context.Context, s indexSweep) error {
	ids, err := s.index.Keys(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, id := range ids {
		due, ok := s.dueAt(ctx, s.index, id)
		if !ok || now.Before(due) {
			continue
		}

		job, uniqueKey, err := b.getJobState(ctx, id)
		if err != nil || job.State != s.from {
			_ = s.index.Delete(ctx, id)
			continue
		}

		job.State = core.StateAvailable
		job.StartedAt = ""
		job.EnqueuedAt = core.FormatTime(now)
		if _, err := b.putJobState(ctx, job, uniqueKey); err != nil {
			keep(fmt.Errorf("%s job %s: store state: %w", s.verb, id, err))
			continue
		}
		if err := s.index.Delete(ctx, id); err != nil {
			keep(fmt.Errorf("%s job %s: drop index entry: %w", s.verb, id, err))
			continue
		}
		if s.release != nil {
			if err := s.release(id); err != nil {
				keep(fmt.Errorf("%s job %s: release claim: %w", s.verb, id, err))
				continue
			}
		}
		if err := PublishJob(ctx, b.js, job.Queue, id); err != nil {
			keep(fmt.Errorf("%s job %s: publish: %w", s.verb, id, err))
		}
	}
	return firstErr
}
