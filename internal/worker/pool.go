// Package worker pulls jobs from the queue and runs typed handlers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
)

// Handler executes one job and returns its result payload.
type Handler func(ctx context.Context, job *core.Job) ([]byte, error)

// Queue is the worker-facing side of the job queue.
type Queue interface {
	Fetch(ctx context.Context, queues []string, count int, workerID string) ([]*core.Job, error)
	Ack(ctx context.Context, jobID string, result []byte) (*core.Job, error)
	Fail(ctx context.Context, jobID string, reason string) (*core.Job, error)
}

// Toucher is implemented by queues that let a worker push back the
// visibility deadline of a job it is still running.
type Toucher interface {
	Touch(ctx context.Context, jobID string, timeout time.Duration) error
}

// Pool polls queues and runs each job in its own goroutine, bounded by a
// concurrency semaphore. Started jobs are never cancelled by Stop; Stop
// waits for them.
type Pool struct {
	queue       Queue
	queues      []string
	handlers    map[string]Handler
	concurrency int
	poll        time.Duration
	claimTTL    time.Duration
	id          string
	logger      *slog.Logger

	mu      sync.Mutex
	sem     chan struct{}
	jobs    sync.WaitGroup
	loop    sync.WaitGroup
	cancel  context.CancelFunc
	running bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency bounds how many jobs run at once.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets the idle wait between empty fetches.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithClaimTTL bounds the heartbeat interval by the queue's own claim
// lifetime, so a touch always lands before the claim lapses.
func WithClaimTTL(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.claimTTL = d
		}
	}
}

// WithID sets the worker id reported to the queue.
func WithID(id string) Option {
	return func(p *Pool) { p.id = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a Pool consuming queues.
func New(queue Queue, queues []string, opts ...Option) *Pool {
	host, _ := os.Hostname()
	p := &Pool{
		queue:       queue,
		queues:      queues,
		handlers:    make(map[string]Handler),
		concurrency: 4,
		poll:        250 * time.Millisecond,
		id:          fmt.Sprintf("%s-%d", host, os.Getpid()),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker", "worker_id", p.id)
	p.sem = make(chan struct{}, p.concurrency)
	return p
}

// Register binds a handler to a job type.
func (p *Pool) Register(jobType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
}

// Start begins polling. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loop.Add(1)
	go p.run(loopCtx, context.WithoutCancel(ctx))
	p.logger.Info("worker pool started", "queues", p.queues, "concurrency", p.concurrency)
}

// Stop ends polling and waits for started jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.loop.Wait()
	p.jobs.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, jobCtx context.Context) {
	defer p.loop.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		free := p.concurrency - len(p.sem)
		if free <= 0 {
			p.sleep(ctx)
			continue
		}

		jobs, err := p.queue.Fetch(ctx, p.queues, free, p.id)
		if err != nil {
			p.logger.Warn("fetch failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if len(jobs) == 0 {
			p.sleep(ctx)
			continue
		}

		for _, job := range jobs {
			p.sem <- struct{}{}
			p.jobs.Add(1)
			go func(job *core.Job) {
				defer func() {
					<-p.sem
					p.jobs.Done()
				}()
				p.execute(jobCtx, job)
			}(job)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Pool) execute(ctx context.Context, job *core.Job) {
	logger := p.logger.With("job_id", job.ID, "type", job.Type, "queue", job.Queue)

	p.mu.Lock()
	handler, ok := p.handlers[job.Type]
	p.mu.Unlock()

	if !ok {
		logger.Warn("no handler for job type")
		p.fail(logger, job, "no handler registered for job type "+job.Type)
		return
	}

	stopHeartbeat := p.heartbeat(logger, job)
	result, err := p.invoke(ctx, handler, job)
	stopHeartbeat()
	if err != nil {
		logger.Error("job failed", "error", err)
		p.fail(logger, job, err.Error())
		return
	}

	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.queue.Ack(ackCtx, job.ID, result); err != nil {
		logger.Error("ack failed", "error", err)
		metrics.JobsProcessed.WithLabelValues(job.Queue, job.Type, "ack_error").Inc()
		return
	}
	metrics.JobsProcessed.WithLabelValues(job.Queue, job.Type, "completed").Inc()
	logger.Debug("job completed")
}

func (p *Pool) invoke(ctx context.Context, handler Handler, job *core.Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) fail(logger *slog.Logger, job *core.Job, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.queue.Fail(ctx, job.ID, reason); err != nil {
		logger.Error("fail failed", "error", err)
	}
	metrics.JobsProcessed.WithLabelValues(job.Queue, job.Type, "failed").Inc()
}

// heartbeat keeps a running job visible to its worker by touching it every
// third of its visibility timeout or of the claim TTL, whichever is
// shorter. The returned func stops it.
func (p *Pool) heartbeat(logger *slog.Logger, job *core.Job) func() {
	toucher, ok := p.queue.(Toucher)
	if !ok {
		return func() {}
	}

	timeout := time.Duration(core.DefaultVisibilityTimeoutMs) * time.Millisecond
	if job.VisibilityTimeoutMs != nil && *job.VisibilityTimeoutMs > 0 {
		timeout = time.Duration(*job.VisibilityTimeoutMs) * time.Millisecond
	}

	every := timeout
	if p.claimTTL > 0 && p.claimTTL < every {
		every = p.claimTTL
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := toucher.Touch(ctx, job.ID, timeout); err != nil {
					logger.Warn("extending visibility", "error", err)
				}
				cancel()
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
