package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/service"
)

// RecordView is the external representation of a request record.
type RecordView struct {
	RequestID       string         `json:"request_id"`
	Mode            core.Mode      `json:"mode"`
	Status          core.Status    `json:"status"`
	Payload         map[string]any `json:"payload"`
	Result          map[string]any `json:"result"`
	CreatedAt       float64        `json:"created_at"`
	CompletedAt     *float64       `json:"completed_at"`
	ExecutionTimeMS *float64       `json:"execution_time_ms"`
	Attempts        int            `json:"attempts"`
	LastError       *string        `json:"last_error"`
}

// QueryHandler serves the observability endpoints: record lookup, listing,
// metrics, and the health probe.
type QueryHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewQueryHandler creates the query handler.
func NewQueryHandler(svc *service.Service, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger}
}

// GetRequest returns one request record by ID.
func (h *QueryHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.svc.GetRequest(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		RespondError(w, http.StatusNotFound, "request not found")
	case err != nil:
		h.logger.Error("request lookup failed", "id", id, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal error")
	default:
		RespondJSON(w, http.StatusOK, viewOf(rec))
	}
}

// ListRequests returns a filtered, paginated request listing.
func (h *QueryHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := core.ListFilter{
		Mode:   core.Mode(r.URL.Query().Get("mode")),
		Status: core.Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, total, err := h.svc.ListRequests(r.Context(), filter)
	if err != nil {
		h.logger.Error("request listing failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]RecordView, len(records))
	for i := range records {
		views[i] = viewOf(&records[i])
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
		"requests": views,
	})
}

// Metrics combines store aggregates with live queue counters.
func (h *QueryHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	storeMetrics, err := h.svc.StoreMetrics(r.Context())
	if err != nil {
		h.logger.Error("metrics aggregation failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"timestamp":             float64(time.Now().UnixNano()) / float64(time.Second),
		"total_requests":        storeMetrics.TotalRequests,
		"by_mode":               storeMetrics.ByMode,
		"by_status":             storeMetrics.ByStatus,
		"avg_execution_time_ms": storeMetrics.AvgExecTimeMS,
		"queue":                 h.svc.QueueMetrics(),
	})
}

// Health reports store reachability and the live queue depth.
func (h *QueryHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthy, queueSize := h.svc.Healthy(r.Context())

	status := "healthy"
	code := http.StatusOK
	database := "connected"
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		database = "disconnected"
	}

	RespondJSON(w, code, map[string]any{
		"status":     status,
		"timestamp":  float64(time.Now().UnixNano()) / float64(time.Second),
		"database":   database,
		"queue_size": queueSize,
	})
}

// viewOf converts a stored record into its external representation.
func viewOf(rec *core.RequestRecord) RecordView {
	view := RecordView{
		RequestID:       rec.ID,
		Mode:            rec.Mode,
		Status:          rec.Status,
		CreatedAt:       rec.CreatedAt,
		ExecutionTimeMS: rec.ExecutionTimeMS(),
		Attempts:        rec.Attempts,
	}
	_ = json.Unmarshal(rec.Payload, &view.Payload)
	if rec.Result != nil {
		_ = json.Unmarshal(rec.Result, &view.Result)
	}
	if rec.CompletedAt.Valid {
		view.CompletedAt = &rec.CompletedAt.Float64
	}
	if rec.LastError.Valid {
		view.LastError = &rec.LastError.String
	}
	return view
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
