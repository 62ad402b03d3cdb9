package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/queueworks/workd/internal/config"
	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/service"
	"github.com/queueworks/workd/internal/urlcheck"
	"github.com/queueworks/workd/internal/work"
)

// SyncRequest is the body of a synchronous submission.
type SyncRequest struct {
	Payload core.WorkRequest `json:"payload"`
}

// AsyncRequest is the body of an asynchronous submission.
type AsyncRequest struct {
	Payload     core.WorkRequest `json:"payload"`
	CallbackURL string           `json:"callback_url"`
}

// SubmitHandler accepts work through the sync and async admission paths.
type SubmitHandler struct {
	svc      *service.Service
	policy   urlcheck.Policy
	maxBytes int64
	logger   *slog.Logger
}

// NewSubmitHandler creates the submission handler.
func NewSubmitHandler(cfg *config.Config, svc *service.Service, logger *slog.Logger) *SubmitHandler {
	return &SubmitHandler{
		svc: svc,
		policy: urlcheck.Policy{
			BlockLocalhost:  cfg.BlockLocalhost,
			BlockPrivateIPs: cfg.BlockPrivateIPs,
		},
		maxBytes: cfg.MaxPayloadBytes,
		logger:   logger,
	}
}

// Sync executes the request inline and answers with a terminal outcome, or
// 503 when the concurrency gate is saturated.
func (h *SubmitHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validateWorkRequest(req.Payload); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.svc.SubmitSync(r.Context(), req.Payload, clientIP(r))
	switch {
	case errors.Is(err, core.ErrSaturated):
		RespondError(w, http.StatusServiceUnavailable, "server is at maximum capacity, please try again later")
	case err != nil:
		h.logger.Error("sync submission failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal error")
	default:
		RespondJSON(w, http.StatusOK, outcome)
	}
}

// Async validates the callback target, records the request, and enqueues it.
// A full queue maps to 429; acceptance to 202.
func (h *SubmitHandler) Async(w http.ResponseWriter, r *http.Request) {
	var req AsyncRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validateWorkRequest(req.Payload); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.policy.Validate(req.CallbackURL); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.svc.SubmitAsync(r.Context(), req.Payload, req.CallbackURL, clientIP(r))
	switch {
	case errors.Is(err, core.ErrQueueFull):
		RespondError(w, http.StatusTooManyRequests, "queue is full, please try again later")
	case err != nil:
		h.logger.Error("async submission failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal error")
	default:
		RespondJSON(w, http.StatusAccepted, ack)
	}
}

// decode reads a size-capped JSON body into v, answering 400/413 on failure.
func (h *SubmitHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("payload exceeds %d bytes", h.maxBytes))
			return false
		}
		RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// validateWorkRequest checks the descriptor once, at the transport boundary;
// the core treats it as opaque after this.
func validateWorkRequest(req core.WorkRequest) error {
	if !work.KnownOperation(req.Operation) {
		return fmt.Errorf("unknown operation %q", req.Operation)
	}
	if req.Complexity < 1 || req.Complexity > 10 {
		return fmt.Errorf("complexity must be between 1 and 10, got %d", req.Complexity)
	}
	return nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
