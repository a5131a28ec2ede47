package nats

import (
	"context"
	"fmt"
	"sort"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

type failedRef struct {
	id string
	at string
}

// failedIn returns the failed index entries of a queue, newest first.
func (b *NATSBackend) failedIn(ctx context.Context, queue string) ([]failedRef, error) {
	keys, err := b.failed.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var refs []failedRef
	for _, key := range keys {
		var entry indexEntry
		if _, err := b.failed.GetJSON(ctx, key, &entry); err != nil {
			continue
		}
		if entry.Queue == queue {
			refs = append(refs, failedRef{id: key, at: entry.At})
		}
	}

	// TimeFormat sorts lexically; ties fall back to the time-ordered UUIDv7.
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].at != refs[j].at {
			return refs[i].at > refs[j].at
		}
		return refs[i].id > refs[j].id
	})
	return refs, nil
}

// ListFailed returns up to limit failed jobs of a queue, newest first.
func (b *NATSBackend) ListFailed(ctx context.Context, queue string, limit int) ([]*core.Job, error) {
	refs, err := b.failedIn(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs in %s: %w", queue, err)
	}
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	jobs := make([]*core.Job, 0, len(refs))
	for _, ref := range refs {
		job, err := b.Info(ctx, ref.id)
		if err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// trimFailed deletes all but the keep newest failed jobs of a queue.
// keep <= 0 retains everything.
func (b *NATSBackend) trimFailed(ctx context.Context, queue string, keep int) error {
	if keep <= 0 {
		return nil
	}
	refs, err := b.failedIn(ctx, queue)
	if err != nil {
		return err
	}
	if len(refs) <= keep {
		return nil
	}

	for _, ref := range refs[keep:] {
		if err := b.failed.Delete(ctx, ref.id); err != nil {
			return fmt.Errorf("trim failed index %s: %w", ref.id, err)
		}
		if err := b.jobs.Delete(ctx, ref.id); err != nil {
			return fmt.Errorf("trim failed job %s: %w", ref.id, err)
		}
	}
	return nil
}
