// Package jobs runs the background worker pool that drains the job queue and
// delivers outcome callbacks.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/queue"
	"github.com/queueworks/workd/internal/work"
)

// restartDelay is how long a worker pauses after an unexpected fault in its
// loop before resuming.
const restartDelay = time.Second

// Pool is a fixed set of workers consuming jobs from the queue. Each worker
// owns a dequeued job exclusively: it drives the request record from
// processing to a terminal state and hands the outcome to the deliverer. A
// failing job never terminates a worker.
type Pool struct {
	queue       *queue.Queue
	store       core.Store
	engine      core.Engine
	deliverer   *Deliverer
	numWorkers  int
	workTimeout time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewPool creates a worker pool. If numWorkers is 0 or negative, it defaults to 1.
func NewPool(q *queue.Queue, store core.Store, engine core.Engine, deliverer *Deliverer, numWorkers int, workTimeout time.Duration, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		queue:       q,
		store:       store,
		engine:      engine,
		deliverer:   deliverer,
		numWorkers:  numWorkers,
		workTimeout: workTimeout,
		logger:      logger,
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.numWorkers)
}

// Stop blocks until all workers have exited. Callers cancel the context passed
// to Start first; the job in hand is finished, buffered jobs are dropped.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.logger.Info("all workers have finished")
}

// NumWorkers returns the configured worker count.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// worker is the supervised outer loop: any panic or unexpected fault in an
// iteration is logged and the loop resumes after a short pause. Workers must
// be self-healing.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Info("starting worker", "id", id)

	for ctx.Err() == nil {
		if err := p.runOnce(ctx, id); err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Error("worker loop fault", "id", id, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(restartDelay):
			}
		}
	}

	p.logger.Info("shutting down worker", "id", id)
}

// runOnce dequeues and processes a single job, converting panics into errors
// for the supervisor.
func (p *Pool) runOnce(ctx context.Context, id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	p.process(ctx, id, job)
	return nil
}

// process executes one job end to end and always records queue drain, whatever
// the outcome.
func (p *Pool) process(ctx context.Context, workerID int, job *core.Job) {
	defer p.queue.MarkDone()

	p.logger.Info("worker processing job", "worker_id", workerID, "request_id", job.RequestID)

	startedAt := epochSeconds(time.Now())
	if err := p.store.UpdateStatus(ctx, job.RequestID, core.StatusProcessing, &startedAt, nil); err != nil {
		p.logger.Error("failed to mark request processing", "request_id", job.RequestID, "error", err)
		return
	}

	result, execErr := work.RunBounded(ctx, p.engine, job.Payload, p.workTimeout)
	completedAt := epochSeconds(time.Now())

	var payload CallbackPayload
	switch {
	case execErr == nil:
		execMS := (completedAt - startedAt) * 1000
		if err := p.recordSuccess(ctx, job.RequestID, result, completedAt); err != nil {
			p.logger.Error("failed to persist job result", "request_id", job.RequestID, "error", err)
			return
		}
		payload = CallbackPayload{
			RequestID:       job.RequestID,
			Status:          string(core.StatusDone),
			Result:          result,
			ExecutionTimeMS: execMS,
			CompletedAt:     completedAt,
		}

	case errors.Is(execErr, core.ErrTimeout):
		msg := fmt.Sprintf("work execution timeout after %s", p.workTimeout)
		if err := p.recordFailure(ctx, job.RequestID, msg, completedAt); err != nil {
			p.logger.Error("failed to persist timeout", "request_id", job.RequestID, "error", err)
			return
		}
		payload = CallbackPayload{
			RequestID:       job.RequestID,
			Status:          string(core.StatusFailed),
			Error:           &msg,
			ExecutionTimeMS: p.workTimeout.Seconds() * 1000,
			CompletedAt:     completedAt,
		}

	default:
		msg := fmt.Sprintf("work execution error: %v", execErr)
		if err := p.recordFailure(ctx, job.RequestID, msg, completedAt); err != nil {
			p.logger.Error("failed to persist execution error", "request_id", job.RequestID, "error", err)
			return
		}
		payload = CallbackPayload{
			RequestID:       job.RequestID,
			Status:          string(core.StatusFailed),
			Error:           &msg,
			ExecutionTimeMS: (completedAt - startedAt) * 1000,
			CompletedAt:     completedAt,
		}
	}

	delivered, deliveryErr := p.deliverer.Deliver(ctx, job.CallbackURL, payload)
	if !delivered {
		// Delivery exhaustion is recorded, not escalated; the execution
		// status already persisted stays as is.
		if err := p.store.IncrementAttempts(ctx, job.RequestID, deliveryErr); err != nil {
			p.logger.Error("failed to record callback failure", "request_id", job.RequestID, "error", err)
		}
		p.logger.Warn("callback delivery failed", "request_id", job.RequestID, "error", deliveryErr)
	}
}

func (p *Pool) recordSuccess(ctx context.Context, id string, result map[string]any, completedAt float64) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := p.store.UpdateResult(ctx, id, raw, ""); err != nil {
		return err
	}
	return p.store.UpdateStatus(ctx, id, core.StatusDone, nil, &completedAt)
}

func (p *Pool) recordFailure(ctx context.Context, id, msg string, completedAt float64) error {
	if err := p.store.UpdateResult(ctx, id, nil, msg); err != nil {
		return err
	}
	return p.store.UpdateStatus(ctx, id, core.StatusFailed, nil, &completedAt)
}

// epochSeconds converts t to fractional seconds since the Unix epoch, the unit
// used on the wire and in the store.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
