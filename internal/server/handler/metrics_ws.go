package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/queueworks/workd/internal/service"
)

// metricsPushInterval is how often a snapshot is pushed to each subscriber.
const metricsPushInterval = 2 * time.Second

// MetricsStream pushes periodic queue and store metrics snapshots over a
// websocket, for dashboards that poll too often for the REST endpoint.
type MetricsStream struct {
	svc      *service.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewMetricsStream creates the websocket metrics handler.
func NewMetricsStream(svc *service.Service, logger *slog.Logger) *MetricsStream {
	return &MetricsStream{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve upgrades the connection and streams snapshots until the client
// disconnects.
func (m *MetricsStream) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	m.logger.Debug("metrics subscriber connected", "remote", conn.RemoteAddr())

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(metricsPushInterval)
	defer ticker.Stop()

	for {
		if err := m.push(conn, r); err != nil {
			m.logger.Debug("metrics subscriber disconnected", "error", err)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *MetricsStream) push(conn *websocket.Conn, r *http.Request) error {
	snapshot := map[string]any{
		"timestamp": float64(time.Now().UnixNano()) / float64(time.Second),
		"queue":     m.svc.QueueMetrics(),
	}
	if storeMetrics, err := m.svc.StoreMetrics(r.Context()); err == nil {
		snapshot["by_status"] = storeMetrics.ByStatus
		snapshot["total_requests"] = storeMetrics.TotalRequests
	}
	return conn.WriteJSON(snapshot)
}
