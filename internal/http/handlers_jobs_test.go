package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/verdantiq/verdantiq/internal/data/memqueue"
	"github.com/verdantiq/verdantiq/internal/domain/model"
	apperrors "github.com/verdantiq/verdantiq/internal/errors"
	"github.com/verdantiq/verdantiq/internal/mocks"
	"github.com/verdantiq/verdantiq/internal/service"
)

func newTestRouter(t *testing.T) (http.Handler, *service.QueueService) {
	t.Helper()

	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Backend:      memqueue.New(),
		DefaultLease: 30 * time.Second,
	})
	t.Cleanup(queue.StopAllListeners)

	registry := service.NewRegistry()
	registry.MustRegister(model.JobTypeFootprintCalc, func(
		_ context.Context, _ *model.Job, _ service.ProgressFunc,
	) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	return NewRouter(RouterServices{Queue: queue, Registry: registry}), queue
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const submitBody = `{
	"type": "footprint_calc",
	"principal_id": "org-acme",
	"payload": {"factors": [{"activity": "electricity", "quantity": 1, "co2ePerUnit": 0.4}]}
}`

func TestSubmitJob(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("fresh submission returns 201", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/jobs", submitBody)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			JobID          string `json:"job_id"`
			Type           string `json:"type"`
			State          string `json:"state"`
			IdempotencyKey string `json:"idempotency_key"`
			Deduplicated   bool   `json:"deduplicated"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobID)
		assert.Equal(t, "footprint_calc", resp.Type)
		assert.Equal(t, "queued", resp.State)
		assert.NotEmpty(t, resp.IdempotencyKey)
		assert.False(t, resp.Deduplicated)
	})

	t.Run("duplicate submission returns 200", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/jobs", submitBody)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"deduplicated":true`)
	})

	t.Run("unregistered type is rejected", func(t *testing.T) {
		body := `{"type": "report_export", "principal_id": "org-acme", "payload": {"reportId": "r"}}`
		rec := doRequest(t, router, http.MethodPost, "/api/jobs", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unregistered_job_type")
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/jobs", `{"type": `)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_json")
	})

	t.Run("missing principal is rejected", func(t *testing.T) {
		body := `{"type": "footprint_calc", "payload": {"factors": []}}`
		rec := doRequest(t, router, http.MethodPost, "/api/jobs", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "submit_failed")
	})
}

func TestSubmitJob_BackendUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// An unreachable backing store hit during idempotency lookup is the
	// server's fault, not the caller's.
	backend := mocks.NewMockQueueBackend(ctrl)
	backend.EXPECT().
		GetMapping(gomock.Any(), model.JobTypeFootprintCalc, gomock.Any()).
		Return(nil, fmt.Errorf("get mapping: %w",
			apperrors.Unavailable("database unreachable", errors.New("dial tcp: connection refused"))))

	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Backend:      backend,
		DefaultLease: 30 * time.Second,
	})
	t.Cleanup(queue.StopAllListeners)

	registry := service.NewRegistry()
	registry.MustRegister(model.JobTypeFootprintCalc, func(
		_ context.Context, _ *model.Job, _ service.ProgressFunc,
	) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	router := NewRouter(RouterServices{Queue: queue, Registry: registry})

	rec := doRequest(t, router, http.MethodPost, "/api/jobs", submitBody)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "submit_failed")
}

func TestGetStatus(t *testing.T) {
	router, queue := newTestRouter(t)

	receipt, err := queue.Submit(t.Context(), &model.SubmitRequest{
		Type:        model.JobTypeFootprintCalc,
		PrincipalID: "org-acme",
		Payload:     json.RawMessage(`{"factors": [{"activity": "a", "quantity": 1, "co2ePerUnit": 1}]}`),
	})
	require.NoError(t, err)

	t.Run("known job", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/jobs/footprint_calc/"+receipt.Job.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var status model.JobStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, model.JobStateQueued, status.State)
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/jobs/footprint_calc/no-such-job", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "job_not_found")
	})

	t.Run("unknown type returns 400", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/jobs/bogus_type/"+receipt.Job.ID, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_path")
	})
}

func TestCancelJob(t *testing.T) {
	router, queue := newTestRouter(t)

	receipt, err := queue.Submit(t.Context(), &model.SubmitRequest{
		Type:        model.JobTypeFootprintCalc,
		PrincipalID: "org-acme",
		Payload:     json.RawMessage(`{"factors": [{"activity": "b", "quantity": 2, "co2ePerUnit": 1}]}`),
	})
	require.NoError(t, err)

	t.Run("queued job cancels immediately", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/jobs/footprint_calc/"+receipt.Job.ID+"/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"cancelled":true`)
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/jobs/footprint_calc/no-such-job/cancel", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStats(t *testing.T) {
	router, queue := newTestRouter(t)

	_, err := queue.Submit(t.Context(), &model.SubmitRequest{
		Type:        model.JobTypeFootprintCalc,
		PrincipalID: "org-acme",
		Payload:     json.RawMessage(`{"factors": [{"activity": "c", "quantity": 3, "co2ePerUnit": 1}]}`),
	})
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/api/jobs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[model.JobType]*model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Contains(t, stats, model.JobTypeFootprintCalc)
	assert.Equal(t, 1, stats[model.JobTypeFootprintCalc].Queued)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = doRequest(t, router, http.MethodHead, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
