// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Mode distinguishes the two admission paths a request can take.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Status is the lifecycle state of a request. Transitions are monotonic:
// pending -> processing -> done | failed. Terminal states are never left.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// WorkRequest describes a unit of work for the engine: a named operation with a
// complexity factor and operation-specific data. It is validated once at the
// transport boundary and treated as opaque everywhere else.
type WorkRequest struct {
	Operation  string         `json:"operation"`
	Complexity int            `json:"complexity"`
	Data       map[string]any `json:"data,omitempty"`
}

// Job is a unit of work accepted for asynchronous execution. It is immutable
// once enqueued and owned by exactly one worker after dequeue.
type Job struct {
	RequestID   string
	Payload     WorkRequest
	CallbackURL string
	SubmittedAt time.Time
}

// RequestRecord is the durable, externally visible lifecycle entity for one
// submitted unit of work. Timestamps are stored as epoch seconds to match the
// callback wire contract.
type RequestRecord struct {
	ID          string          `db:"id"`
	Mode        Mode            `db:"mode"`
	Status      Status          `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	CallbackURL sql.NullString  `db:"callback_url"`
	Result      json.RawMessage `db:"result"`
	LastError   sql.NullString  `db:"last_error"`
	CreatedAt   float64         `db:"created_at"`
	StartedAt   sql.NullFloat64 `db:"started_at"`
	CompletedAt sql.NullFloat64 `db:"completed_at"`
	Attempts    int             `db:"attempts"`
	ClientIP    string          `db:"client_ip"`
}

// ExecutionTimeMS returns the wall time between start and completion in
// milliseconds, or nil if the record has not finished.
func (r *RequestRecord) ExecutionTimeMS() *float64 {
	if !r.StartedAt.Valid || !r.CompletedAt.Valid {
		return nil
	}
	ms := (r.CompletedAt.Float64 - r.StartedAt.Float64) * 1000
	return &ms
}

// ListFilter narrows and pages a request listing.
type ListFilter struct {
	Mode   Mode
	Status Status
	Limit  int
	Offset int
}

// StoreMetrics aggregates lifecycle counts across all stored requests.
type StoreMetrics struct {
	TotalRequests int                `json:"total_requests"`
	ByMode        map[string]int     `json:"by_mode"`
	ByStatus      map[string]int     `json:"by_status"`
	AvgExecTimeMS map[string]float64 `json:"avg_execution_time_ms"`
}

// Store defines the contract for the durable request-record store. For any one
// request identifier only a single actor (the admitting caller on the sync
// path, or the one worker owning the job on the async path) ever writes
// concurrently; the store itself does not need to arbitrate.
type Store interface {
	// Create inserts a new record in the pending state.
	Create(ctx context.Context, rec *RequestRecord) error
	// UpdateStatus advances the lifecycle state, optionally recording the
	// start or completion timestamp (epoch seconds).
	UpdateStatus(ctx context.Context, id string, status Status, startedAt, completedAt *float64) error
	// UpdateResult stores the execution result or the execution error.
	UpdateResult(ctx context.Context, id string, result json.RawMessage, lastError string) error
	// IncrementAttempts bumps the callback-delivery failure counter and
	// records the delivery error.
	IncrementAttempts(ctx context.Context, id, lastError string) error
	// Get returns a record by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*RequestRecord, error)
	// List returns a filtered page of records plus the total match count.
	List(ctx context.Context, filter ListFilter) ([]RequestRecord, int, error)
	// Metrics aggregates counts and average execution times.
	Metrics(ctx context.Context) (*StoreMetrics, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// Engine is the work engine collaborator: a pure computation that either
// produces a result or fails. Implementations must honor ctx cancellation so
// callers can time-box an execution.
type Engine interface {
	Execute(ctx context.Context, req WorkRequest) (map[string]any, error)
}
