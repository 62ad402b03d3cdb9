// Package service orchestrates the two admission paths and drives the request
// lifecycle for both.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/gate"
	"github.com/queueworks/workd/internal/queue"
	"github.com/queueworks/workd/internal/work"
)

// SyncOutcome is the inline answer a synchronous caller receives: always a
// terminal status unless admission rejected the request first.
type SyncOutcome struct {
	RequestID       string         `json:"request_id"`
	Status          core.Status    `json:"status"`
	Result          map[string]any `json:"result"`
	Error           *string        `json:"error"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
}

// AsyncAck acknowledges an accepted asynchronous submission.
type AsyncAck struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Service accepts units of work through the capacity-limited sync path and the
// queued async path. Both paths drive the same lifecycle state machine.
type Service struct {
	store       core.Store
	engine      core.Engine
	queue       *queue.Queue
	gate        *gate.Gate
	workTimeout time.Duration
	logger      *slog.Logger
}

// New creates the admission service.
func New(store core.Store, engine core.Engine, q *queue.Queue, g *gate.Gate, workTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		engine:      engine,
		queue:       q,
		gate:        g,
		workTimeout: workTimeout,
		logger:      logger,
	}
}

// SubmitSync executes the request inline under the concurrency gate. When the
// gate is saturated it returns core.ErrSaturated immediately without waiting
// and without touching the store or the engine.
func (s *Service) SubmitSync(ctx context.Context, req core.WorkRequest, clientIP string) (*SyncOutcome, error) {
	if !s.gate.Acquire() {
		return nil, core.ErrSaturated
	}
	defer s.gate.Release()

	requestID := uuid.NewString()
	if err := s.createRecord(ctx, requestID, core.ModeSync, req, "", clientIP); err != nil {
		return nil, err
	}

	startedAt := epochSeconds(time.Now())
	if err := s.store.UpdateStatus(ctx, requestID, core.StatusProcessing, &startedAt, nil); err != nil {
		return nil, err
	}

	result, execErr := work.RunBounded(ctx, s.engine, req, s.workTimeout)
	completedAt := epochSeconds(time.Now())

	switch {
	case execErr == nil:
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		if err := s.store.UpdateResult(ctx, requestID, raw, ""); err != nil {
			return nil, err
		}
		if err := s.store.UpdateStatus(ctx, requestID, core.StatusDone, nil, &completedAt); err != nil {
			return nil, err
		}
		return &SyncOutcome{
			RequestID:       requestID,
			Status:          core.StatusDone,
			Result:          result,
			ExecutionTimeMS: (completedAt - startedAt) * 1000,
		}, nil

	case errors.Is(execErr, core.ErrTimeout):
		msg := fmt.Sprintf("work execution timeout after %s", s.workTimeout)
		if err := s.recordFailure(ctx, requestID, msg, completedAt); err != nil {
			return nil, err
		}
		return &SyncOutcome{
			RequestID:       requestID,
			Status:          core.StatusFailed,
			Error:           &msg,
			ExecutionTimeMS: s.workTimeout.Seconds() * 1000,
		}, nil

	default:
		msg := fmt.Sprintf("work execution error: %v", execErr)
		if err := s.recordFailure(ctx, requestID, msg, completedAt); err != nil {
			return nil, err
		}
		return &SyncOutcome{
			RequestID:       requestID,
			Status:          core.StatusFailed,
			Error:           &msg,
			ExecutionTimeMS: (completedAt - startedAt) * 1000,
		}, nil
	}
}

// SubmitAsync records the request and enqueues a job for the worker pool. It
// returns core.ErrQueueFull when the queue rejects the job; the caller maps
// that to a capacity-exceeded response.
func (s *Service) SubmitAsync(ctx context.Context, req core.WorkRequest, callbackURL, clientIP string) (*AsyncAck, error) {
	requestID := uuid.NewString()
	if err := s.createRecord(ctx, requestID, core.ModeAsync, req, callbackURL, clientIP); err != nil {
		return nil, err
	}

	job := &core.Job{
		RequestID:   requestID,
		Payload:     req,
		CallbackURL: callbackURL,
		SubmittedAt: time.Now(),
	}

	if !s.queue.Enqueue(job) {
		s.logger.Warn("job queue full, rejecting async submission", "request_id", requestID)
		return nil, core.ErrQueueFull
	}

	s.logger.Info("async job accepted", "request_id", requestID, "operation", req.Operation)
	return &AsyncAck{
		RequestID: requestID,
		Status:    string(core.StatusPending),
		Message:   "request accepted and queued for processing",
	}, nil
}

// GetRequest looks up one request record.
func (s *Service) GetRequest(ctx context.Context, id string) (*core.RequestRecord, error) {
	return s.store.Get(ctx, id)
}

// ListRequests returns a filtered page of records plus the total match count.
func (s *Service) ListRequests(ctx context.Context, filter core.ListFilter) ([]core.RequestRecord, int, error) {
	return s.store.List(ctx, filter)
}

// StoreMetrics aggregates lifecycle metrics from the store.
func (s *Service) StoreMetrics(ctx context.Context) (*core.StoreMetrics, error) {
	return s.store.Metrics(ctx)
}

// QueueMetrics snapshots the job queue counters.
func (s *Service) QueueMetrics() queue.Metrics {
	return s.queue.Snapshot()
}

// Healthy reports store reachability and the live queue depth.
func (s *Service) Healthy(ctx context.Context) (bool, int) {
	return s.store.Ping(ctx) == nil, s.queue.Size()
}

func (s *Service) createRecord(ctx context.Context, id string, mode core.Mode, req core.WorkRequest, callbackURL, clientIP string) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	rec := &core.RequestRecord{
		ID:        id,
		Mode:      mode,
		Status:    core.StatusPending,
		Payload:   payload,
		CreatedAt: epochSeconds(time.Now()),
		ClientIP:  clientIP,
	}
	if callbackURL != "" {
		rec.CallbackURL.String = callbackURL
		rec.CallbackURL.Valid = true
	}
	return s.store.Create(ctx, rec)
}

func (s *Service) recordFailure(ctx context.Context, id, msg string, completedAt float64) error {
	if err := s.store.UpdateResult(ctx, id, nil, msg); err != nil {
		return err
	}
	return s.store.UpdateStatus(ctx, id, core.StatusFailed, nil, &completedAt)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
