// Package worker provides an asynchronous worker pool for persisting
// conversation turns and publishing turn events.
//
// The pool decouples storage operations from the streaming hot path so the
// client sees the final SSE frames without waiting on the database.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/eventstream"
	"github.com/pjgq/relay/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	UserID   string
	Role     string
	Content  string
	Duration time.Duration
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Store is the backend for persisting turns.
	Store storage.Store

	// Publisher receives an event after each successfully persisted turn.
	// Optional; nil disables event publishing.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool persists conversation turns asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("user_id", job.UserID),
			zap.String("role", job.Role),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("user_id", job.UserID),
			zap.String("role", job.Role),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("storage worker stopped", zap.Uint("worker_id", id))
}

// processJob persists a conversation turn and publishes the persisted event.
// Failures are logged, never surfaced to the stream that enqueued the job.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	id, err := p.config.Store.SaveTurn(ctx, job.UserID, job.Role, job.Content)
	if err != nil {
		p.logger.Error("async turn storage failed",
			zap.String("user_id", job.UserID),
			zap.String("role", job.Role),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("conversation turn stored",
		zap.Int64("turn_id", id),
		zap.String("user_id", job.UserID),
		zap.String("role", job.Role),
	)

	if p.config.Publisher == nil {
		return
	}

	event := eventstream.NewTurnPersisted(job.UserID, job.Role, len(job.Content), job.Duration)
	if err := p.config.Publisher.PublishTurn(ctx, event); err != nil {
		p.logger.Warn("failed to publish turn event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}
