// Package workerpool provides a bounded worker pool for controlled
// concurrency. Sized for routing exam completions during clinic hours.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of work, typically one exam completion to route.
type Job struct {
	ID      string
	Payload []byte
	Context context.Context

	reply chan *Outcome
}

// Outcome is the result of processing one job.
type Outcome struct {
	JobID   string
	Success bool
	Error   error
}

// HandlerFunc processes one job.
type HandlerFunc func(ctx context.Context, job *Job) *Outcome

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize is the size of the job queue.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the base delay between retries. Backoff is linear
	// in the attempt number.
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds Stop.
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults for a single-clinic routing worker.
// A busy practice finishes a few exams per minute, not per millisecond.
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a fixed set of workers draining a bounded queue.
type Pool struct {
	config  Config
	handler HandlerFunc
	logger  *zap.Logger

	jobChan chan *Job
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	jobsSubmitted int64
	jobsCompleted int64
	jobsFailed    int64
	jobsRetried   int64
	activeWorkers int64
	queueDepth    int64
}

// New creates a worker pool.
func New(cfg Config, fn HandlerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:  cfg,
		handler: fn,
		logger:  logger,
		jobChan: make(chan *Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches all workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a job to the queue. It fails fast when the queue is full
// so the caller can leave the message uncommitted for redelivery.
func (p *Pool) Submit(job *Job) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.jobChan <- job:
		atomic.AddInt64(&p.jobsSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// SubmitWait queues a job and blocks until the pool reports its
// outcome, retries included. Callers consuming from a log commit the
// message offset only after SubmitWait returns, so a crash mid-job
// leaves the offset uncommitted and the message is redelivered.
func (p *Pool) SubmitWait(ctx context.Context, job *Job) (*Outcome, error) {
	job.reply = make(chan *Outcome, 1)
	if err := p.Submit(job); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-job.reply:
		return outcome, nil
	}
}

// Stop drains the queue and shuts the pool down.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")

	p.cancel()
	close(p.jobChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}

	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for job := range p.jobChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.processJob(id, job)
	}
}

func (p *Pool) processJob(workerID int, job *Job) {
	ctx := job.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var outcome *Outcome
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			outcome = &Outcome{JobID: job.ID, Error: ctx.Err()}
			p.finish(workerID, job, outcome)
			return
		default:
		}

		outcome = p.handler(ctx, job)
		if outcome.Success {
			p.finish(workerID, job, outcome)
			return
		}
		lastErr = outcome.Error

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.jobsRetried, 1)
			p.logger.Debug("retrying job",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				outcome = &Outcome{JobID: job.ID, Error: ctx.Err()}
				p.finish(workerID, job, outcome)
				return
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}

	outcome = &Outcome{
		JobID: job.ID,
		Error: fmt.Errorf("job failed after %d retries: %w", p.config.MaxRetries, lastErr),
	}
	p.finish(workerID, job, outcome)
}

func (p *Pool) finish(workerID int, job *Job, outcome *Outcome) {
	if outcome.Success {
		atomic.AddInt64(&p.jobsCompleted, 1)
	} else {
		atomic.AddInt64(&p.jobsFailed, 1)
		p.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.Int("worker_id", workerID),
			zap.Error(outcome.Error))
	}

	if job.reply != nil {
		job.reply <- outcome
	}
}

// Stats holds pool counters.
type Stats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsFailed    int64
	JobsRetried   int64
	ActiveWorkers int64
	QueueDepth    int64
	QueueCapacity int
	Workers       int
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: atomic.LoadInt64(&p.jobsSubmitted),
		JobsCompleted: atomic.LoadInt64(&p.jobsCompleted),
		JobsFailed:    atomic.LoadInt64(&p.jobsFailed),
		JobsRetried:   atomic.LoadInt64(&p.jobsRetried),
		ActiveWorkers: atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:    atomic.LoadInt64(&p.queueDepth),
		QueueCapacity: p.config.QueueSize,
		Workers:       p.config.Workers,
	}
}

// IsHealthy reports whether the queue has headroom.
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
