package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/queueworks/workd/internal/core"
	"github.com/queueworks/workd/internal/gate"
	"github.com/queueworks/workd/internal/queue"
	"github.com/queueworks/workd/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSubmitSync_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	var createdID string
	gomock.InOrder(
		store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, rec *core.RequestRecord) error {
				createdID = rec.ID
				assert.Equal(t, core.ModeSync, rec.Mode)
				assert.Equal(t, core.StatusPending, rec.Status)
				assert.False(t, rec.CallbackURL.Valid)
				return nil
			}),
		store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), core.StatusProcessing, gomock.Not(gomock.Nil()), gomock.Nil()).Return(nil),
		store.EXPECT().UpdateResult(gomock.Any(), gomock.Any(), gomock.Any(), "").Return(nil),
		store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), core.StatusDone, gomock.Nil(), gomock.Not(gomock.Nil())).Return(nil),
	)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(map[string]any{"output": "ok"}, nil)

	svc := New(store, engine, queue.New(1), gate.New(1), time.Second, testLogger())
	outcome, err := svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "hash", Complexity: 1}, "10.0.0.1")

	require.NoError(t, err)
	assert.Equal(t, core.StatusDone, outcome.Status)
	assert.Equal(t, createdID, outcome.RequestID)
	assert.Equal(t, "ok", outcome.Result["output"])
	assert.Nil(t, outcome.Error)
	assert.GreaterOrEqual(t, outcome.ExecutionTimeMS, 0.0)
}

func TestSubmitSync_SaturatedGateRejectsImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().UpdateResult(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	// The first submission parks inside the engine until released.
	entered := make(chan struct{})
	release := make(chan struct{})
	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, core.WorkRequest) (map[string]any, error) {
			close(entered)
			<-release
			return map[string]any{}, nil
		})

	svc := New(store, engine, queue.New(1), gate.New(1), 10*time.Second, testLogger())

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "hash", Complexity: 1}, "a")
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first submission never reached the engine")
	}

	// Rejection is immediate, not queued behind the holder.
	start := time.Now()
	_, err := svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "hash", Complexity: 1}, "b")
	assert.ErrorIs(t, err, core.ErrSaturated)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	<-firstDone
}

func TestSubmitSync_TimeoutYieldsFailedOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	gomock.InOrder(
		store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), core.StatusProcessing, gomock.Not(gomock.Nil()), gomock.Nil()).Return(nil),
		store.EXPECT().UpdateResult(gomock.Any(), gomock.Any(), gomock.Nil(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), core.StatusFailed, gomock.Nil(), gomock.Not(gomock.Nil())).Return(nil),
	)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ core.WorkRequest) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	svc := New(store, engine, queue.New(1), gate.New(1), 50*time.Millisecond, testLogger())
	outcome, err := svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "matrix", Complexity: 10}, "a")

	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Contains(t, *outcome.Error, "timeout")
	assert.InDelta(t, 50, outcome.ExecutionTimeMS, 0.01)
}

func TestSubmitSync_ExecutionFault(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	store.EXPECT().UpdateResult(gomock.Any(), gomock.Any(), gomock.Nil(), gomock.Any()).Return(nil)

	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("unknown operation: sleep"))

	svc := New(store, engine, queue.New(1), gate.New(1), time.Second, testLogger())
	outcome, err := svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "hash", Complexity: 1}, "a")

	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Contains(t, *outcome.Error, "unknown operation")
}

func TestSubmitSync_ReleasesPermitAfterFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().UpdateResult(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	engine.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom")).Times(2)

	svc := New(store, engine, queue.New(1), gate.New(1), time.Second, testLogger())

	_, err := svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "hash", Complexity: 1}, "a")
	require.NoError(t, err)

	// A failed execution must not leak its permit.
	outcome, err := svc.SubmitSync(context.Background(), core.WorkRequest{Operation: "hash", Complexity: 1}, "a")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, outcome.Status)
}

func TestSubmitAsync_AcceptedAndEnqueued(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec *core.RequestRecord) error {
			assert.Equal(t, core.ModeAsync, rec.Mode)
			assert.Equal(t, core.StatusPending, rec.Status)
			require.True(t, rec.CallbackURL.Valid)
			assert.Equal(t, "http://example.com/cb", rec.CallbackURL.String)
			return nil
		})

	q := queue.New(2)
	svc := New(store, engine, q, gate.New(1), time.Second, testLogger())

	ack, err := svc.SubmitAsync(context.Background(),
		core.WorkRequest{Operation: "prime", Complexity: 3}, "http://example.com/cb", "10.0.0.1")

	require.NoError(t, err)
	assert.NotEmpty(t, ack.RequestID)
	assert.Equal(t, "pending", ack.Status)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ack.RequestID, job.RequestID)
	assert.Equal(t, "http://example.com/cb", job.CallbackURL)
}

func TestSubmitAsync_QueueFullScenario(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	// Queue capacity 2, no workers draining it.
	q := queue.New(2)
	svc := New(store, engine, q, gate.New(1), time.Second, testLogger())

	req := core.WorkRequest{Operation: "hash", Complexity: 1}
	_, err := svc.SubmitAsync(context.Background(), req, "http://example.com/cb", "a")
	require.NoError(t, err)
	_, err = svc.SubmitAsync(context.Background(), req, "http://example.com/cb", "a")
	require.NoError(t, err)

	_, err = svc.SubmitAsync(context.Background(), req, "http://example.com/cb", "a")
	assert.ErrorIs(t, err, core.ErrQueueFull)

	m := svc.QueueMetrics()
	assert.Equal(t, 2, m.CurrentSize)
	assert.Equal(t, int64(2), m.TotalEnqueued)
}

func TestSubmitAsync_StoreFaultPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	svc := New(store, engine, queue.New(1), gate.New(1), time.Second, testLogger())
	_, err := svc.SubmitAsync(context.Background(),
		core.WorkRequest{Operation: "hash", Complexity: 1}, "http://example.com/cb", "a")
	assert.ErrorContains(t, err, "disk full")
}

func TestHealthy(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	engine := mocks.NewMockEngine(ctrl)

	store.EXPECT().Ping(gomock.Any()).Return(nil)
	svc := New(store, engine, queue.New(1), gate.New(1), time.Second, testLogger())

	healthy, size := svc.Healthy(context.Background())
	assert.True(t, healthy)
	assert.Equal(t, 0, size)

	store.EXPECT().Ping(gomock.Any()).Return(errors.New("gone"))
	healthy, _ = svc.Healthy(context.Background())
	assert.False(t, healthy)
}
