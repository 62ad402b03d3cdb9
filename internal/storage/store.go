// Package storage implements the durable request-record store over sqlite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/queueworks/workd/internal/core"
)

type sqliteStore struct {
	db *sqlx.DB
}

// NewStore creates a core.Store backed by the given connection.
func NewStore(db *sqlx.DB) core.Store {
	return &sqliteStore{db: db}
}

// Create inserts a new request record.
func (s *sqliteStore) Create(ctx context.Context, rec *core.RequestRecord) error {
	query := `
		INSERT INTO requests (id, mode, status, payload, callback_url, created_at, client_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Mode, rec.Status, string(rec.Payload), rec.CallbackURL, rec.CreatedAt, rec.ClientIP)
	if err != nil {
		return fmt.Errorf("create request %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus advances the lifecycle state and records timestamps when given.
func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, status core.Status, startedAt, completedAt *float64) error {
	sets := []string{"status = ?"}
	args := []any{status}

	if startedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *startedAt)
	}
	if completedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *completedAt)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE requests SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateResult stores the execution result or the execution error.
func (s *sqliteStore) UpdateResult(ctx context.Context, id string, result json.RawMessage, lastError string) error {
	var resultVal, errVal any
	if result != nil {
		resultVal = string(result)
	}
	if lastError != "" {
		errVal = lastError
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE requests SET result = ?, last_error = ? WHERE id = ?",
		resultVal, errVal, id)
	if err != nil {
		return fmt.Errorf("update result for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// IncrementAttempts bumps the callback failure counter and records the error.
func (s *sqliteStore) IncrementAttempts(ctx context.Context, id, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE requests SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		lastError, id)
	if err != nil {
		return fmt.Errorf("increment attempts for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Get returns a record by ID, or core.ErrNotFound.
func (s *sqliteStore) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	var rec core.RequestRecord
	err := s.db.GetContext(ctx, &rec, "SELECT * FROM requests WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return &rec, nil
}

// List returns a filtered, newest-first page of records plus the total match count.
func (s *sqliteStore) List(ctx context.Context, filter core.ListFilter) ([]core.RequestRecord, int, error) {
	var clauses []string
	var args []any

	if filter.Mode != "" {
		clauses = append(clauses, "mode = ?")
		args = append(args, filter.Mode)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM requests "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(
		"SELECT * FROM requests %s ORDER BY created_at DESC LIMIT ? OFFSET ?", where)
	records := []core.RequestRecord{}
	if err := s.db.SelectContext(ctx, &records, query, append(args, limit, filter.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return records, total, nil
}

// Metrics aggregates lifecycle counts and average execution times per mode.
func (s *sqliteStore) Metrics(ctx context.Context) (*core.StoreMetrics, error) {
	m := &core.StoreMetrics{
		ByMode:        map[string]int{},
		ByStatus:      map[string]int{},
		AvgExecTimeMS: map[string]float64{},
	}

	if err := s.db.GetContext(ctx, &m.TotalRequests, "SELECT COUNT(*) FROM requests"); err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}

	type bucketRow struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var modeRows []bucketRow
	if err := s.db.SelectContext(ctx, &modeRows,
		"SELECT mode AS key, COUNT(*) AS count FROM requests GROUP BY mode"); err != nil {
		return nil, fmt.Errorf("aggregate by mode: %w", err)
	}
	for _, row := range modeRows {
		m.ByMode[row.Key] = row.Count
	}

	var statusRows []bucketRow
	if err := s.db.SelectContext(ctx, &statusRows,
		"SELECT status AS key, COUNT(*) AS count FROM requests GROUP BY status"); err != nil {
		return nil, fmt.Errorf("aggregate by status: %w", err)
	}
	for _, row := range statusRows {
		m.ByStatus[row.Key] = row.Count
	}

	type avgRow struct {
		Key   string          `db:"key"`
		AvgMS sql.NullFloat64 `db:"avg_ms"`
	}
	var avgRows []avgRow
	if err := s.db.SelectContext(ctx, &avgRows, `
		SELECT mode AS key, AVG((completed_at - started_at) * 1000) AS avg_ms
		FROM requests
		WHERE completed_at IS NOT NULL AND started_at IS NOT NULL
		GROUP BY mode`); err != nil {
		return nil, fmt.Errorf("aggregate execution time: %w", err)
	}
	for _, row := range avgRows {
		m.AvgExecTimeMS[row.Key] = row.AvgMS.Float64
	}

	return m, nil
}

// Ping verifies the store is reachable.
func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %s: %w", id, core.ErrNotFound)
	}
	return nil
}
