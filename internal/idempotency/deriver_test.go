package idempotency

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantiq/verdantiq/internal/domain/model"
)

func TestDerive_DeterministicAcrossFieldOrder(t *testing.T) {
	d := NewDeriver()

	a := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"productId":"P1","factors":{"co2":1.5,"ch4":0.1}}`))
	b := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{ "factors": {"ch4":0.1, "co2":1.5}, "productId": "P1" }`))

	require.False(t, a.Degraded)
	require.False(t, b.Degraded)
	assert.Equal(t, a.Value, b.Value)
}

func TestDerive_KeySensitivity(t *testing.T) {
	d := NewDeriver()
	base := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"productId":"P1","year":2025}`))

	t.Run("changing a fingerprinted field changes the key", func(t *testing.T) {
		other := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"productId":"P2","year":2025}`))
		assert.NotEqual(t, base.Value, other.Value)
	})

	t.Run("changing the principal changes the key", func(t *testing.T) {
		other := d.Derive(model.JobTypeFootprintCalc, "org-2", json.RawMessage(`{"productId":"P1","year":2025}`))
		assert.NotEqual(t, base.Value, other.Value)
	})

	t.Run("changing the type changes the key", func(t *testing.T) {
		other := d.Derive(model.JobTypeReportExport, "org-1", json.RawMessage(`{"productId":"P1","year":2025}`))
		assert.NotEqual(t, base.Value, other.Value)
	})
}

func TestDerive_IdentitySubsetIgnoresTransientFields(t *testing.T) {
	d := NewDeriver()

	a := d.Derive(model.JobTypeDocumentRender, "org-1",
		json.RawMessage(`{"docId":"R1","templateId":"T1","requestedAt":"2025-08-01T10:00:00Z"}`))
	b := d.Derive(model.JobTypeDocumentRender, "org-1",
		json.RawMessage(`{"docId":"R1","templateId":"T1","requestedAt":"2025-08-02T09:30:00Z","trace":"abc"}`))

	require.False(t, a.Degraded)
	assert.Equal(t, a.Value, b.Value, "fields outside the identity subset must not affect the key")

	c := d.Derive(model.JobTypeDocumentRender, "org-1",
		json.RawMessage(`{"docId":"R1","templateId":"T2"}`))
	assert.NotEqual(t, a.Value, c.Value, "identity fields must affect the key")
}

func TestDerive_DegradesOnUnparseablePayload(t *testing.T) {
	d := NewDeriver()

	k := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"productId":`))
	assert.True(t, k.Degraded)
	assert.NotEmpty(t, k.Value)

	// The degraded key is still deterministic for identical raw bytes.
	again := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"productId":`))
	assert.Equal(t, k.Value, again.Value)
}

func TestDerive_NumberLiteralsPreserved(t *testing.T) {
	d := NewDeriver()

	// 1.50 and 1.5 are different literals and may carry meaning; they must
	// not collapse through float re-encoding.
	a := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"co2":1.50}`))
	b := d.Derive(model.JobTypeFootprintCalc, "org-1", json.RawMessage(`{"co2":1.5}`))
	assert.NotEqual(t, a.Value, b.Value)
}

func TestRegister_RejectsInvalidExpression(t *testing.T) {
	d := NewDeriver()
	err := d.Register(model.JobTypeFootprintCalc, map[string]string{"bad": "foo["})
	require.Error(t, err)
}

func TestCanonicalJSON_SortsObjectKeysRecursively(t *testing.T) {
	v, err := decodeCanonical([]byte(`{"b":{"y":1,"x":[2,1]},"a":"s"}`))
	require.NoError(t, err)

	out, err := canonicalJSON(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"s","b":{"x":[2,1],"y":1}}`, string(out))
}
