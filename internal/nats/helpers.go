package nats

import (
	"context"
	"log/slog"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

func (b *NATSBackend) getJobState(ctx context.Context, jobID string) (*core.Job, string, error) {
	data, _, err := b.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	s, err := unmarshalJobState(data)
	if err != nil {
		return nil, "", err
	}
	return stateToJob(s), s.UniqueKey, nil
}

func (b *NATSBackend) putJobState(ctx context.Context, job *core.Job, uniqueKey string) (uint64, error) {
	data, err := marshalJobState(job, uniqueKey)
	if err != nil {
		return 0, err
	}
	return b.jobs.Put(ctx, job.ID, data)
}

// eachJob calls fn for every decodable job in the jobs bucket.
func (b *NATSBackend) eachJob(ctx context.Context, fn func(job *core.Job, uniqueKey string)) error {
	keys, err := b.jobs.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		job, uniqueKey, err := b.getJobState(ctx, key)
		if err != nil {
			continue
		}
		fn(job, uniqueKey)
	}
	return nil
}

func (b *NATSBackend) releaseUnique(ctx context.Context, uniqueKey, jobID string) {
	if uniqueKey == "" {
		return
	}
	if err := b.unique.Release(ctx, uniqueKey, jobID); err != nil {
		slog.Warn("releasing unique lock", "job_id", jobID, "error", err)
	}
}
