// Package idempotency derives deterministic fingerprints for job submissions.
//
// The key is a SHA-256 hash over the job type, the submitting principal, and
// a canonical serialization of the semantically relevant subset of the
// payload. Equal submissions (up to object field order and whitespace) always
// produce equal keys; keys double as job ids so client retries naturally map
// to the same job record.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/verdantiq/verdantiq/internal/domain/model"
)

// Key is a derived idempotency key.
type Key struct {
	Value string
	// Degraded is true when canonicalization could not complete and the key
	// falls back to a hash of the raw payload bytes. The submission still
	// succeeds; callers should log the deduplication-quality degradation.
	Degraded bool
}

// fieldSelector names one identity field and the JMESPath expression that
// extracts it from the payload.
type fieldSelector struct {
	name string
	expr string
}

// Deriver computes idempotency keys. It is pure: Derive has no side effects
// and never fails.
type Deriver struct {
	selectors map[model.JobType][]fieldSelector
}

// NewDeriver constructs a Deriver with the default per-type identity selectors.
//
// Large payloads (rendering, export) are fingerprinted on a reduced identity
// subset so embedded content blobs do not defeat deduplication; small payloads
// (footprint calculation) are fingerprinted whole.
func NewDeriver() *Deriver {
	d := &Deriver{selectors: make(map[model.JobType][]fieldSelector)}

	d.mustRegister(model.JobTypeDocumentRender, map[string]string{
		"docId":      "docId",
		"templateId": "templateId",
	})
	d.mustRegister(model.JobTypeReportExport, map[string]string{
		"reportId": "reportId",
		"format":   "format",
	})
	d.mustRegister(model.JobTypeContentExtract, map[string]string{
		"sourceUri": "sourceUri",
		"kind":      "kind",
	})
	// footprint_calc payloads are small factor sets: full-payload fingerprint.

	return d
}

// Register installs identity selectors for a job type. Each map entry names
// an identity field and the JMESPath expression that extracts it.
func (d *Deriver) Register(jobType model.JobType, fields map[string]string) error {
	selectors := make([]fieldSelector, 0, len(fields))
	for name, expr := range fields {
		if _, err := jmespath.Compile(expr); err != nil {
			return fmt.Errorf("compile selector %q for %s: %w", expr, jobType, err)
		}
		selectors = append(selectors, fieldSelector{name: name, expr: expr})
	}
	d.selectors[jobType] = selectors
	return nil
}

func (d *Deriver) mustRegister(jobType model.JobType, fields map[string]string) {
	if err := d.Register(jobType, fields); err != nil {
		//nolint:forbidigo // default selectors are compile-time constants; a bad one is a programming error
		panic(err)
	}
}

// Derive computes the idempotency key for a submission. It never returns an
// error: payloads that cannot be canonicalized degrade to a raw-bytes hash.
func (d *Deriver) Derive(jobType model.JobType, principalID string, payload json.RawMessage) Key {
	canonical, err := d.identityBytes(jobType, payload)
	if err != nil {
		return Key{Value: hashKey(jobType, principalID, payload), Degraded: true}
	}
	return Key{Value: hashKey(jobType, principalID, canonical)}
}

// identityBytes returns the canonical serialization of the fingerprinted
// subset of the payload.
func (d *Deriver) identityBytes(jobType model.JobType, payload json.RawMessage) ([]byte, error) {
	decoded, err := decodeCanonical(payload)
	if err != nil {
		return nil, err
	}

	selectors := d.selectors[jobType]
	if len(selectors) == 0 {
		return canonicalJSON(decoded)
	}

	identity := make(map[string]any, len(selectors))
	for _, sel := range selectors {
		v, searchErr := jmespath.Search(sel.expr, decoded)
		if searchErr != nil {
			return nil, fmt.Errorf("select %s: %w", sel.name, searchErr)
		}
		identity[sel.name] = v
	}
	return canonicalJSON(identity)
}

func hashKey(jobType model.JobType, principalID string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte("v1|"))
	h.Write([]byte(jobType))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(principalID)))
	h.Write([]byte{'|'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
