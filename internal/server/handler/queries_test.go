package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/gate"
	"github.com/queueworks/workd/internal/queue"
	"github.com/queueworks/workd/internal/service"
	"github.com/queueworks/workd/mocks"
)

type queryFixture struct {
	router *chi.Mux
	store  *mocks.MockStore
	queue  *queue.Queue
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	q := queue.New(10)

	svc := service.New(store, engine, q, gate.New(1), time.Second, testLogger())
	h := NewQueryHandler(svc, testLogger())

	r := chi.NewRouter()
	r.Get("/requests/{id}", h.GetRequest)
	r.Get("/requests", h.ListRequests)
	r.Get("/metrics", h.Metrics)
	r.Get("/healthz", h.Health)

	return &queryFixture{router: r, store: store, queue: q}
}

func (f *queryFixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func doneRecord() *core.RequestRecord {
	return &core.RequestRecord{
		ID:          "req-1",
		Mode:        core.ModeAsync,
		Status:      core.StatusDone,
		Payload:     json.RawMessage(`{"operation":"hash","complexity":2}`),
		Result:      json.RawMessage(`{"hash":"abc"}`),
		CreatedAt:   1700000000.0,
		StartedAt:   sql.NullFloat64{Float64: 1700000001.0, Valid: true},
		CompletedAt: sql.NullFloat64{Float64: 1700000002.5, Valid: true},
	}
}

func TestGetRequest_OK(t *testing.T) {
	f := newQueryFixture(t)
	f.store.EXPECT().Get(gomock.Any(), "req-1").Return(doneRecord(), nil)

	rec := f.get("/requests/req-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var view RecordView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "req-1", view.RequestID)
	assert.Equal(t, core.StatusDone, view.Status)
	assert.Equal(t, "hash", view.Payload["operation"])
	assert.Equal(t, "abc", view.Result["hash"])
	require.NotNil(t, view.ExecutionTimeMS)
	assert.InDelta(t, 1500, *view.ExecutionTimeMS, 0.001)
	require.NotNil(t, view.CompletedAt)
	assert.Equal(t, 1700000002.5, *view.CompletedAt)
	assert.Nil(t, view.LastError)
}

func TestGetRequest_NotFound(t *testing.T) {
	f := newQueryFixture(t)
	f.store.EXPECT().Get(gomock.Any(), "missing").Return(nil, core.ErrNotFound)

	rec := f.get("/requests/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "request not found")
}

func TestListRequests(t *testing.T) {
	f := newQueryFixture(t)
	f.store.EXPECT().List(gomock.Any(), core.ListFilter{
		Mode:   core.ModeAsync,
		Status: core.StatusFailed,
		Limit:  10,
		Offset: 5,
	}).Return([]core.RequestRecord{*doneRecord()}, 23, nil)

	rec := f.get("/requests?mode=async&status=failed&limit=10&offset=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int          `json:"total"`
		Limit    int          `json:"limit"`
		Offset   int          `json:"offset"`
		Requests []RecordView `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 23, body.Total)
	assert.Equal(t, 10, body.Limit)
	assert.Equal(t, 5, body.Offset)
	require.Len(t, body.Requests, 1)
	assert.Equal(t, "req-1", body.Requests[0].RequestID)
}

func TestListRequests_ClampsLimit(t *testing.T) {
	f := newQueryFixture(t)
	f.store.EXPECT().List(gomock.Any(), core.ListFilter{Limit: 50}).
		Return([]core.RequestRecord{}, 0, nil)

	rec := f.get("/requests?limit=5000")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	f := newQueryFixture(t)
	f.store.EXPECT().Metrics(gomock.Any()).Return(&core.StoreMetrics{
		TotalRequests: 12,
		ByMode:        map[string]int{"sync": 7, "async": 5},
		ByStatus:      map[string]int{"done": 10, "failed": 2},
		AvgExecTimeMS: map[string]float64{"sync": 42.5},
	}, nil)

	f.queue.Enqueue(&core.Job{RequestID: "queued-1"})

	rec := f.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 12, body["total_requests"])
	assert.Contains(t, body, "timestamp")

	queueMetrics, ok := body["queue"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, queueMetrics["current_size"])
	assert.EqualValues(t, 10, queueMetrics["max_size"])
}

func TestHealth(t *testing.T) {
	f := newQueryFixture(t)

	f.store.EXPECT().Ping(gomock.Any()).Return(nil)
	rec := f.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"database":"connected"`)

	f.store.EXPECT().Ping(gomock.Any()).Return(sql.ErrConnDone)
	rec = f.get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}
