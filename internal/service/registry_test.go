package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantiq/verdantiq/internal/domain/model"
)

func noopHandler(_ context.Context, _ *model.Job, _ ProgressFunc) (json.RawMessage, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(model.JobTypeDocumentRender, noopHandler))

		h, ok := r.Get(model.JobTypeDocumentRender)
		assert.True(t, ok)
		assert.NotNil(t, h)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(model.JobTypeDocumentRender, noopHandler))

		err := r.Register(model.JobTypeDocumentRender, noopHandler)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("invalid type", func(t *testing.T) {
		r := NewRegistry()
		require.Error(t, r.Register("mystery", noopHandler))
	})

	t.Run("nil handler", func(t *testing.T) {
		r := NewRegistry()
		require.Error(t, r.Register(model.JobTypeDocumentRender, nil))
	})
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(model.JobTypeFootprintCalc, noopHandler)

	assert.Panics(t, func() {
		r.MustRegister(model.JobTypeFootprintCalc, noopHandler)
	})
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Types())

	r.MustRegister(model.JobTypeReportExport, noopHandler)
	r.MustRegister(model.JobTypeDocumentRender, noopHandler)

	// Types come back in canonical order regardless of registration order.
	assert.Equal(t, []model.JobType{model.JobTypeDocumentRender, model.JobTypeReportExport}, r.Types())
}

func TestRetryableErrors(t *testing.T) {
	base := errors.New("transient network failure")

	t.Run("wrapped error is retryable", func(t *testing.T) {
		err := Retryable(base)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, base.Error(), err.Error())
		assert.ErrorIs(t, err, base)
	})

	t.Run("plain error is not retryable", func(t *testing.T) {
		assert.False(t, IsRetryable(base))
	})

	t.Run("retryable survives further wrapping", func(t *testing.T) {
		err := Retryable(base)
		wrapped := errors.Join(errors.New("handler failed"), err)
		assert.True(t, IsRetryable(wrapped))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Retryable(nil))
		assert.False(t, IsRetryable(nil))
	})
}
