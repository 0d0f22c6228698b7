package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/verdantiq/verdantiq/internal/core"
	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/mocks"
	"github.com/verdantiq/verdantiq/internal/testutil"
)

func newMockedQueueService(t *testing.T, backend *mocks.MockQueueBackend) *QueueService {
	t.Helper()

	svc, err := NewQueueService(QueueServiceOptions{
		Backend:      backend,
		DefaultLease: 30 * time.Second,
		Notifier:     &stubJobNotifier{},
	})
	require.NoError(t, err)
	return svc
}

func TestQueueService_Submit_MappingLookupError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mocks.NewMockQueueBackend(ctrl)
	backend.EXPECT().
		GetMapping(gomock.Any(), model.JobTypeDocumentRender, gomock.Any()).
		Return(nil, errors.New("connection reset"))

	svc := newMockedQueueService(t, backend)

	_, err := svc.Submit(context.Background(), testutil.RenderSubmitRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup idempotency mapping")
}

func TestQueueService_Submit_EnqueueFailureReleasesClaim(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	req := testutil.RenderSubmitRequest()
	insertErr := errors.New("insert job: deadlock detected")

	backend := mocks.NewMockQueueBackend(ctrl)
	backend.EXPECT().
		GetMapping(gomock.Any(), req.Type, gomock.Any()).
		Return(nil, nil)
	backend.EXPECT().
		GetByID(gomock.Any(), req.Type, gomock.Any()).
		Return(nil, model.ErrJobNotFound)
	backend.EXPECT().
		PutMapping(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.PutMappingParams) (string, bool, error) {
			return params.JobID, true, nil
		})
	backend.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		Return(insertErr)
	// The claim is released so a retry enqueues fresh work instead of
	// deduplicating against a job that was never persisted.
	backend.EXPECT().
		DeleteMapping(gomock.Any(), req.Type, gomock.Any()).
		Return(nil)

	svc := newMockedQueueService(t, backend)

	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, insertErr)
	assert.Contains(t, err.Error(), "enqueue job")
}
