package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// fetchWait bounds how long a single pull waits for messages.
const fetchWait = 100 * time.Millisecond

// ConsumerManager holds one durable pull consumer per queue and remembers the
// JetStream message behind every claimed job until it is settled.
type ConsumerManager struct {
	js jetstream.JetStream

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer

	claimed sync.Map // job id -> jetstream.Msg
}

// NewConsumerManager creates a ConsumerManager over js.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js, consumers: make(map[string]jetstream.Consumer)}
}

// GetConsumer returns the queue's pull consumer, creating it on first use.
func (cm *ConsumerManager) GetConsumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if c, ok := cm.consumers[queue]; ok {
		return c, nil
	}
	c, err := EnsureConsumer(ctx, cm.js, queue)
	if err != nil {
		return nil, err
	}
	cm.consumers[queue] = c
	return c, nil
}

// Forget drops the cached consumer for a queue so the next fetch recreates it.
func (cm *ConsumerManager) Forget(queue string) {
	cm.mu.Lock()
	delete(cm.consumers, queue)
	cm.mu.Unlock()
}

// FetchMessages claims up to count job ids from a queue. An empty pull is
// not an error.
func (cm *ConsumerManager) FetchMessages(ctx context.Context, queue string, count int) ([]string, error) {
	c, err := cm.GetConsumer(ctx, queue)
	if err != nil {
		return nil, err
	}

	batch, err := c.Fetch(count, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, nil
	}

	ids := make([]string, 0, count)
	for msg := range batch.Messages() {
		id := string(msg.Data())
		if id == "" {
			_ = msg.Ack()
			continue
		}
		cm.claimed.Store(id, msg)
		ids = append(ids, id)
	}
	if err := batch.Error(); err != nil {
		slog.Debug("partial fetch", "queue", queue, "claimed", len(ids), "error", err)
	}
	return ids, nil
}

// AckMessage settles a job's message as processed.
func (cm *ConsumerManager) AckMessage(jobID string) error {
	return cm.settle(jobID, jetstream.Msg.Ack)
}

// TermMessage settles a job's message so it is never redelivered.
func (cm *ConsumerManager) TermMessage(jobID string) error {
	return cm.settle(jobID, jetstream.Msg.Term)
}

// InProgress pushes back the ack deadline of a claimed job's message.
func (cm *ConsumerManager) InProgress(jobID string) error {
	v, ok := cm.claimed.Load(jobID)
	if !ok {
		return fmt.Errorf("job %s is not claimed", jobID)
	}
	return v.(jetstream.Msg).InProgress()
}

// settle releases the claim on jobID. A job with no claim, because it was
// already settled or claimed before a restart, is a no-op.
func (cm *ConsumerManager) settle(jobID string, fn func(jetstream.Msg) error) error {
	v, ok := cm.claimed.LoadAndDelete(jobID)
	if !ok {
		return nil
	}
	return fn(v.(jetstream.Msg))
}
