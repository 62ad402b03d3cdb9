package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// maxErrorLen bounds the error text stored on a request record.
const maxErrorLen = 200

// CallbackPayload is the wire contract for outcome notifications. The shape is
// stable; external consumers depend on it.
type CallbackPayload struct {
	RequestID       string         `json:"request_id"`
	Status          string         `json:"status"`
	Result          map[string]any `json:"result"`
	Error           *string        `json:"error"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	CompletedAt     float64        `json:"completed_at"`
}

// Deliverer posts job outcomes to callback URLs with bounded retries and
// exponential backoff. Delivery is at-least-once up to maxRetries attempts;
// an attempt succeeds when the remote answers with a status below 400.
type Deliverer struct {
	client      *http.Client
	maxRetries  int
	timeout     time.Duration
	backoffBase int
	logger      *slog.Logger

	sleep func(time.Duration)
}

// NewDeliverer creates a Deliverer. Each attempt is bounded by timeout; after
// a failed attempt the deliverer waits backoffBase^attempt seconds before the
// next one.
func NewDeliverer(maxRetries int, timeout time.Duration, backoffBase int, logger *slog.Logger) *Deliverer {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Deliverer{
		client:      newCallbackHTTPClient(timeout),
		maxRetries:  maxRetries,
		timeout:     timeout,
		backoffBase: backoffBase,
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// newCallbackHTTPClient creates an HTTP client tuned for short-lived callback
// posts to many distinct hosts.
func newCallbackHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxConnsPerHost:     5,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Deliver posts the payload to url, retrying on failure. It returns true on
// success, or false plus the last observed error once all attempts are spent.
func (d *Deliverer) Deliver(ctx context.Context, url string, payload CallbackPayload) (bool, string) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, truncate(fmt.Sprintf("encode callback payload: %v", err))
	}

	var lastErr string
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		lastErr = d.attempt(ctx, url, body)
		if lastErr == "" {
			if attempt > 0 {
				d.logger.Info("callback delivered after retry",
					"request_id", payload.RequestID,
					"attempt", attempt+1,
				)
			}
			return true, ""
		}

		d.logger.Warn("callback attempt failed",
			"request_id", payload.RequestID,
			"attempt", attempt+1,
			"max_attempts", d.maxRetries,
			"error", lastErr,
		)

		if attempt < d.maxRetries-1 {
			backoff := time.Duration(pow(d.backoffBase, attempt)) * time.Second
			select {
			case <-ctx.Done():
				return false, truncate(fmt.Sprintf("delivery cancelled: %v", ctx.Err()))
			default:
				d.sleep(backoff)
			}
		}
	}

	return false, truncate(fmt.Sprintf("failed after %d attempts, last error: %s", d.maxRetries, lastErr))
}

// attempt performs a single POST, returning an empty string on success or a
// bounded error description.
func (d *Deliverer) attempt(ctx context.Context, url string, body []byte) string {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return truncate(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return truncate(fmt.Sprintf("timeout after %s", d.timeout))
		}
		return truncate(fmt.Sprintf("request error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return ""
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 100))
	return truncate(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet))
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}

// pow is integer exponentiation for backoff delays.
func pow(base, exp int) int {
	result := 1
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
