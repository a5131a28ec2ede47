package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// AckWait is how long a claimed message stays with its consumer without an
// ack or progress signal. It matches the default job visibility timeout.
const AckWait = time.Duration(core.DefaultVisibilityTimeoutMs) * time.Millisecond

// bucketSpec is a KV bucket and how long its entries live (zero keeps them).
type bucketSpec struct {
	name string
	ttl  time.Duration
}

var bucketSpecs = []bucketSpec{
	{BucketJobs, 0},
	{BucketUnique, 0},
	{BucketScheduled, 0},
	{BucketActive, 0},
	{BucketFailed, 0},
	{BucketState, 0},
	{BucketCycles, 24 * time.Hour},
	{BucketTransfers, 7 * 24 * time.Hour},
}

// SetupJetStream declares the work-queue stream and every KV bucket the
// service uses. It is safe to run against an existing deployment.
func SetupJetStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{QueueAllSubject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Discard:   jetstream.DiscardOld,
	}); err != nil {
		return fmt.Errorf("declare stream %s: %w", StreamName, err)
	}

	for _, spec := range bucketSpecs {
		if _, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  spec.name,
			Storage: jetstream.FileStorage,
			History: 1,
			TTL:     spec.ttl,
		}); err != nil {
			return fmt.Errorf("declare bucket %s: %w", spec.name, err)
		}
	}
	return nil
}

// EnsureConsumer declares the durable pull consumer of a queue. Messages are
// delivered once; a failed check is retried by the next cycle, not by the queue.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, queue string) (jetstream.Consumer, error) {
	c, err := js.CreateOrUpdateConsumer(ctx, StreamName, consumerConfig(queue))
	if err != nil {
		return nil, fmt.Errorf("declare consumer for queue %s: %w", queue, err)
	}
	return c, nil
}

func consumerConfig(queue string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ConsumerName(queue),
		FilterSubject: QueueJobsSubject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       AckWait,
		MaxDeliver:    1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

// PublishJob announces a job id on its queue subject.
func PublishJob(ctx context.Context, js jetstream.JetStream, queue, jobID string) error {
	subject := QueueJobsSubject(queue)
	if _, err := js.Publish(ctx, subject, []byte(jobID)); err != nil {
		return fmt.Errorf("publish job %s on %s: %w", jobID, subject, err)
	}
	return nil
}

// PurgeQueue drops every message still waiting on a queue's subject.
func PurgeQueue(ctx context.Context, js jetstream.JetStream, queue string) error {
	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", StreamName, err)
	}
	if err := stream.Purge(ctx, jetstream.WithPurgeSubject(QueueJobsSubject(queue))); err != nil {
		return fmt.Errorf("purge queue %s: %w", queue, err)
	}
	return nil
}
