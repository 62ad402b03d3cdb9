package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/queue"
	"github.com/queueworks/workd/mocks"
)

func callbackSink(t *testing.T, status int) (*httptest.Server, chan CallbackPayload) {
	t.Helper()
	received := make(chan CallbackPayload, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload CallbackPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			received <- payload
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func startPool(t *testing.T, q *queue.Queue, store core.Store, engine core.Engine, d *Deliverer, workTimeout time.Duration) {
	t.Helper()
	pool := NewPool(q, store, engine, d, 1, workTimeout, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})
}

func waitCallback(t *testing.T, ch chan CallbackPayload) CallbackPayload {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("no callback received")
		return CallbackPayload{}
	}
}

func TestPool_SuccessfulJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	srv, received := callbackSink(t, http.StatusOK)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(map[string]any{"output": "ok"}, nil)

	gomock.InOrder(
		store.EXPECT().UpdateStatus(gomock.Any(), "req-1", core.StatusProcessing, gomock.Not(gomock.Nil()), gomock.Nil()).Return(nil),
		store.EXPECT().UpdateResult(gomock.Any(), "req-1", gomock.Any(), "").Return(nil),
		store.EXPECT().UpdateStatus(gomock.Any(), "req-1", core.StatusDone, gomock.Nil(), gomock.Not(gomock.Nil())).Return(nil),
	)

	q := queue.New(4)
	d, _ := newTestDeliverer(1, 2)
	startPool(t, q, store, engine, d, time.Second)

	require.True(t, q.Enqueue(&core.Job{
		RequestID:   "req-1",
		Payload:     core.WorkRequest{Operation: "hash", Complexity: 1},
		CallbackURL: srv.URL,
		SubmittedAt: time.Now(),
	}))

	payload := waitCallback(t, received)
	assert.Equal(t, "req-1", payload.RequestID)
	assert.Equal(t, "done", payload.Status)
	assert.Equal(t, "ok", payload.Result["output"])
	assert.Nil(t, payload.Error)
	assert.Positive(t, payload.CompletedAt)
}

func TestPool_TimeoutMarksFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	srv, received := callbackSink(t, http.StatusOK)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ core.WorkRequest) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	gomock.InOrder(
		store.EXPECT().UpdateStatus(gomock.Any(), "req-2", core.StatusProcessing, gomock.Not(gomock.Nil()), gomock.Nil()).Return(nil),
		store.EXPECT().UpdateResult(gomock.Any(), "req-2", gomock.Nil(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateStatus(gomock.Any(), "req-2", core.StatusFailed, gomock.Nil(), gomock.Not(gomock.Nil())).Return(nil),
	)

	q := queue.New(4)
	d, _ := newTestDeliverer(1, 2)
	startPool(t, q, store, engine, d, 50*time.Millisecond)

	require.True(t, q.Enqueue(&core.Job{
		RequestID:   "req-2",
		Payload:     core.WorkRequest{Operation: "prime", Complexity: 10},
		CallbackURL: srv.URL,
	}))

	payload := waitCallback(t, received)
	assert.Equal(t, "failed", payload.Status)
	require.NotNil(t, payload.Error)
	assert.Contains(t, *payload.Error, "timeout")
	// Elapsed time is fixed to the timeout budget.
	assert.InDelta(t, 50, payload.ExecutionTimeMS, 0.01)
}

func TestPool_ExecutionFaultMarksFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	srv, received := callbackSink(t, http.StatusOK)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("kaboom"))

	gomock.InOrder(
		store.EXPECT().UpdateStatus(gomock.Any(), "req-3", core.StatusProcessing, gomock.Not(gomock.Nil()), gomock.Nil()).Return(nil),
		store.EXPECT().UpdateResult(gomock.Any(), "req-3", gomock.Nil(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateStatus(gomock.Any(), "req-3", core.StatusFailed, gomock.Nil(), gomock.Not(gomock.Nil())).Return(nil),
	)

	q := queue.New(4)
	d, _ := newTestDeliverer(1, 2)
	startPool(t, q, store, engine, d, time.Second)

	require.True(t, q.Enqueue(&core.Job{
		RequestID:   "req-3",
		Payload:     core.WorkRequest{Operation: "hash", Complexity: 1},
		CallbackURL: srv.URL,
	}))

	payload := waitCallback(t, received)
	assert.Equal(t, "failed", payload.Status)
	require.NotNil(t, payload.Error)
	assert.Contains(t, *payload.Error, "kaboom")
}

func TestPool_CallbackExhaustionRecordsAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	srv, _ := callbackSink(t, http.StatusInternalServerError)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(map[string]any{"output": "ok"}, nil)

	store.EXPECT().UpdateStatus(gomock.Any(), "req-4", core.StatusProcessing, gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().UpdateResult(gomock.Any(), "req-4", gomock.Any(), "").Return(nil)
	// Execution status stays done; only the attempt counter moves.
	store.EXPECT().UpdateStatus(gomock.Any(), "req-4", core.StatusDone, gomock.Any(), gomock.Any()).Return(nil)

	recorded := make(chan string, 1)
	store.EXPECT().IncrementAttempts(gomock.Any(), "req-4", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, lastError string) error {
			recorded <- lastError
			return nil
		})

	q := queue.New(4)
	d, _ := newTestDeliverer(2, 2)
	startPool(t, q, store, engine, d, time.Second)

	require.True(t, q.Enqueue(&core.Job{
		RequestID:   "req-4",
		Payload:     core.WorkRequest{Operation: "hash", Complexity: 1},
		CallbackURL: srv.URL,
	}))

	select {
	case lastError := <-recorded:
		assert.Contains(t, lastError, "failed after 2 attempts")
	case <-time.After(5 * time.Second):
		t.Fatal("callback failure was not recorded")
	}
}

func TestPool_SurvivesEnginePanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	srv, received := callbackSink(t, http.StatusOK)

	first := engine.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, core.WorkRequest) (map[string]any, error) {
			panic("engine blew up")
		})
	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(map[string]any{"output": "ok"}, nil).After(first)

	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().UpdateResult(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	q := queue.New(4)
	d, _ := newTestDeliverer(1, 2)
	startPool(t, q, store, engine, d, time.Second)

	require.True(t, q.Enqueue(&core.Job{RequestID: "boom", Payload: core.WorkRequest{Operation: "hash"}, CallbackURL: srv.URL}))
	require.True(t, q.Enqueue(&core.Job{RequestID: "fine", Payload: core.WorkRequest{Operation: "hash"}, CallbackURL: srv.URL}))

	// The panicking job fails, the next one still gets processed.
	payload := waitCallback(t, received)
	assert.Equal(t, "boom", payload.RequestID)
	assert.Equal(t, "failed", payload.Status)

	payload = waitCallback(t, received)
	assert.Equal(t, "fine", payload.RequestID)
	assert.Equal(t, "done", payload.Status)
}

func TestPool_WorkersExitOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	q := queue.New(1)
	d, _ := newTestDeliverer(1, 2)
	pool := NewPool(q, store, engine, d, 3, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after cancellation")
	}
}
