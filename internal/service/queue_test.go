package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/verdantiq/verdantiq/internal/data"
	"github.com/verdantiq/verdantiq/internal/data/memqueue"
	domainjob "github.com/verdantiq/verdantiq/internal/domain/job"
	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/mocks"
	"github.com/verdantiq/verdantiq/internal/testutil"
)

type stubJobNotifier struct {
	subscribeCalls []model.JobType
	stopCalled     bool
}

func (s *stubJobNotifier) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	s.subscribeCalls = append(s.subscribeCalls, jobType)
	ch := make(chan struct{}, 1)
	return func() {}, ch
}

func (s *stubJobNotifier) StopAll() {
	s.stopCalled = true
}

var _ domainjob.Notifier = (*stubJobNotifier)(nil)

// stubCache is an in-process CacheRepository used to exercise the fast path.
type stubCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string][]byte)}
}

func (c *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *stubCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *stubCache) Health(_ context.Context) error { return nil }

func (c *stubCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type queueFixture struct {
	svc   *QueueService
	queue *memqueue.Queue
	clock *data.FixedTimeProvider
}

func newQueueFixture(t *testing.T, mutate ...func(*QueueServiceOptions)) *queueFixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	queue := memqueue.New(memqueue.WithTimeProvider(clock))

	opts := QueueServiceOptions{
		Backend:      queue,
		DefaultLease: 30 * time.Second,
		TimeProvider: clock,
		Notifier:     &stubJobNotifier{},
		Backoff:      domainjob.ExponentialBackoff(time.Second, time.Minute),
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	svc, err := NewQueueService(opts)
	require.NoError(t, err)

	return &queueFixture{svc: svc, queue: queue, clock: clock}
}

func TestNewQueueService(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		notifier := &stubJobNotifier{}
		svc, err := NewQueueService(QueueServiceOptions{
			Backend:      memqueue.New(),
			DefaultLease: 30 * time.Second,
			Notifier:     notifier,
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
		assert.Equal(t, 30*time.Second, svc.leasePolicy.Default())
		assert.Equal(t, model.DefaultMappingTTL, svc.mappingTTL)
	})

	t.Run("success with logger", func(t *testing.T) {
		svc, err := NewQueueService(QueueServiceOptions{
			Backend:      memqueue.New(),
			DefaultLease: 30 * time.Second,
			Logger:       slog.Default(),
			Notifier:     &stubJobNotifier{},
		})
		require.NoError(t, err)
		assert.NotNil(t, svc.logger)
	})

	t.Run("missing backend", func(t *testing.T) {
		_, err := NewQueueService(QueueServiceOptions{DefaultLease: 30 * time.Second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QueueBackend is required")
	})

	t.Run("missing lease", func(t *testing.T) {
		_, err := NewQueueService(QueueServiceOptions{Backend: memqueue.New()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DefaultLease must be positive")
	})
}

func TestQueueService_Submit_Validation(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	t.Run("nil request", func(t *testing.T) {
		_, err := fx.svc.Submit(ctx, nil)
		require.Error(t, err)
	})

	t.Run("invalid type", func(t *testing.T) {
		req := testutil.NewSubmitRequest().WithType("surprise").Build()
		_, err := fx.svc.Submit(ctx, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid job type")
	})

	t.Run("malformed payload", func(t *testing.T) {
		req := testutil.NewSubmitRequest().WithPayloadString(`{"docId":`).Build()
		_, err := fx.svc.Submit(ctx, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "valid JSON")
	})
}

func TestQueueService_Submit_Deduplicates(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	assert.Equal(t, model.JobStateQueued, first.Job.State)
	assert.Equal(t, first.IdempotencyKey, first.Job.ID)

	second, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.JobTypeDocumentRender].Queued)
}

func TestQueueService_Submit_DedupKeepsFirstPriority(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.NewSubmitRequest().WithPriority(5).Build())
	require.NoError(t, err)
	assert.Equal(t, 5, first.Job.Priority)

	// The resubmission's priority does not reorder work already queued.
	second, err := fx.svc.Submit(ctx, testutil.NewSubmitRequest().WithPriority(1).Build())
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, 5, second.Job.Priority)

	job, err := fx.svc.GetByID(ctx, model.JobTypeDocumentRender, first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, job.Priority)
}

func TestQueueService_Submit_FieldOrderInsensitive(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	a := testutil.NewSubmitRequest().
		WithPayloadString(`{"docId": "doc-9", "templateId": "tpl-2"}`).
		Build()
	b := testutil.NewSubmitRequest().
		WithPayloadString(`{"templateId":"tpl-2","docId":"doc-9"}`).
		Build()

	first, err := fx.svc.Submit(ctx, a)
	require.NoError(t, err)
	second, err := fx.svc.Submit(ctx, b)
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

func TestQueueService_Submit_DistinctPrincipals(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.NewSubmitRequest().WithPrincipalID("org-a").Build())
	require.NoError(t, err)
	second, err := fx.svc.Submit(ctx, testutil.NewSubmitRequest().WithPrincipalID("org-b").Build())
	require.NoError(t, err)

	assert.False(t, second.Deduplicated)
	assert.NotEqual(t, first.Job.ID, second.Job.ID)
}

func TestQueueService_Submit_ExplicitKeyOverridesFingerprint(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	a := testutil.NewSubmitRequest().
		WithPayloadString(`{"docId": "doc-1", "templateId": "tpl-1"}`).
		WithIdempotencyKey("client-key-1").
		Build()
	b := testutil.NewSubmitRequest().
		WithPayloadString(`{"docId": "doc-2", "templateId": "tpl-2"}`).
		WithIdempotencyKey("client-key-1").
		Build()

	first, err := fx.svc.Submit(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "client-key-1", first.IdempotencyKey)

	second, err := fx.svc.Submit(ctx, b)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

func TestQueueService_Submit_TerminalFailureReclaims(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)

	leased, err := fx.svc.ReserveNext(ctx, model.JobTypeDocumentRender, "worker-1", 0)
	require.NoError(t, err)
	require.Equal(t, first.Job.ID, leased.ID)

	state, err := fx.svc.Fail(ctx, leased, "template missing", false)
	require.NoError(t, err)
	require.Equal(t, model.JobStateFailed, state)

	// Resubmission of the same payload creates fresh work; the failed record
	// stays behind under the old id so a new one is minted.
	second, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.False(t, second.Deduplicated)
	assert.NotEqual(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, model.JobStateQueued, second.Job.State)
}

func TestQueueService_Submit_CompletedStillDedupes(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)

	leased, err := fx.svc.ReserveNext(ctx, model.JobTypeDocumentRender, "worker-1", 0)
	require.NoError(t, err)
	completed, err := fx.svc.Complete(ctx, leased.ID, json.RawMessage(`{"uri": "s3://reports/doc-1.pdf"}`))
	require.NoError(t, err)
	require.True(t, completed)

	second, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, model.JobStateCompleted, second.Job.State)
}

func TestQueueService_WorkerFlow(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	receipt, err := fx.svc.Submit(ctx, testutil.FootprintSubmitRequest())
	require.NoError(t, err)

	job, err := fx.svc.ReserveNext(ctx, model.JobTypeFootprintCalc, "worker-7", 0)
	require.NoError(t, err)
	assert.Equal(t, receipt.Job.ID, job.ID)
	assert.Equal(t, 1, job.Attempts)

	updated, err := fx.svc.ReportProgress(ctx, job.ID, 40)
	require.NoError(t, err)
	assert.True(t, updated)

	hb, err := fx.svc.Heartbeat(ctx, job.ID, 0)
	require.NoError(t, err)
	assert.True(t, hb.Extended)
	assert.False(t, hb.CancelRequested)

	completed, err := fx.svc.Complete(ctx, job.ID, json.RawMessage(`{"co2eKg": 12.5}`))
	require.NoError(t, err)
	assert.True(t, completed)

	status, err := fx.svc.GetStatus(ctx, model.JobTypeFootprintCalc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, status.State)
	assert.Equal(t, 100, status.Progress)
	assert.JSONEq(t, `{"co2eKg": 12.5}`, string(status.Result))
	assert.Nil(t, status.Error)
	assert.NotNil(t, status.FinishedAt)
}

func TestQueueService_Fail_RetryThenDeadLetter(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	req := testutil.NewSubmitRequest().WithMaxAttempts(2).Build()
	receipt, err := fx.svc.Submit(ctx, req)
	require.NoError(t, err)

	job, err := fx.svc.ReserveNext(ctx, model.JobTypeDocumentRender, "worker-1", 0)
	require.NoError(t, err)

	state, err := fx.svc.Fail(ctx, job, "renderer timeout", true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateQueued, state)

	// The retry backoff keeps the job unleasable until the clock advances.
	_, err = fx.svc.ReserveNext(ctx, model.JobTypeDocumentRender, "worker-1", 0)
	require.ErrorIs(t, err, model.ErrNoJobsAvailable)

	fx.clock.AddTime(5 * time.Second)

	job, err = fx.svc.ReserveNext(ctx, model.JobTypeDocumentRender, "worker-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	state, err = fx.svc.Fail(ctx, job, "renderer timeout", true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDeadLettered, state)

	status, err := fx.svc.GetStatus(ctx, model.JobTypeDocumentRender, receipt.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDeadLettered, status.State)
	require.NotNil(t, status.Error)
	assert.Equal(t, "renderer timeout", *status.Error)
}

func TestQueueService_Cancel(t *testing.T) {
	fx := newQueueFixture(t)
	ctx := context.Background()

	t.Run("queued job cancels immediately", func(t *testing.T) {
		receipt, err := fx.svc.Submit(ctx, testutil.ExtractSubmitRequest())
		require.NoError(t, err)

		cancelled, err := fx.svc.Cancel(ctx, model.JobTypeContentExtract, receipt.Job.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		status, err := fx.svc.GetStatus(ctx, model.JobTypeContentExtract, receipt.Job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateCancelled, status.State)
	})

	t.Run("leased job gets advisory flag", func(t *testing.T) {
		receipt, err := fx.svc.Submit(ctx, testutil.ExportSubmitRequest())
		require.NoError(t, err)

		job, err := fx.svc.ReserveNext(ctx, model.JobTypeReportExport, "worker-1", 0)
		require.NoError(t, err)
		require.Equal(t, receipt.Job.ID, job.ID)

		cancelled, err := fx.svc.Cancel(ctx, model.JobTypeReportExport, job.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)

		hb, err := fx.svc.Heartbeat(ctx, job.ID, 0)
		require.NoError(t, err)
		assert.True(t, hb.Extended)
		assert.True(t, hb.CancelRequested)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := fx.svc.Cancel(ctx, model.JobTypeReportExport, "missing")
		require.ErrorIs(t, err, model.ErrJobNotFound)
	})
}

func TestQueueService_GetStatus_NotFound(t *testing.T) {
	fx := newQueueFixture(t)
	_, err := fx.svc.GetStatus(context.Background(), model.JobTypeDocumentRender, "missing")
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestQueueService_CacheFastPath(t *testing.T) {
	cache := newStubCache()
	fx := newQueueFixture(t, func(opts *QueueServiceOptions) {
		opts.Cache = cache
	})
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.len())

	second, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

func TestQueueService_CacheOutageDegradesToDurablePath(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Every cache operation fails; dedupe must still hold via the durable
	// mapping table.
	cache := mocks.NewMockCacheRepository(ctrl)
	outage := errors.New("redis: connection refused")
	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, outage).AnyTimes()
	cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(outage).AnyTimes()
	cache.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(false, outage).AnyTimes()

	fx := newQueueFixture(t, func(opts *QueueServiceOptions) {
		opts.Cache = cache
	})
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)

	second, err := fx.svc.Submit(ctx, testutil.RenderSubmitRequest())
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

func TestQueueService_StopAllListeners(t *testing.T) {
	notifier := &stubJobNotifier{}
	fx := newQueueFixture(t, func(opts *QueueServiceOptions) {
		opts.Notifier = notifier
	})

	unsub, _ := fx.svc.Subscribe(model.JobTypeFootprintCalc)
	defer unsub()
	assert.Equal(t, []model.JobType{model.JobTypeFootprintCalc}, notifier.subscribeCalls)

	fx.svc.StopAllListeners()
	assert.True(t, notifier.stopCalled)
}

func TestQueueService_HeartbeatInterval(t *testing.T) {
	fx := newQueueFixture(t)
	assert.Equal(t, 10*time.Second, fx.svc.HeartbeatInterval())
	assert.Equal(t, 30*time.Second, fx.svc.LeaseDuration())
}
