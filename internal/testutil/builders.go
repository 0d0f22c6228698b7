// Package testutil provides testing utilities and helpers for the verdantiq job queue.
package testutil

import (
	"encoding/json"

	"github.com/verdantiq/verdantiq/internal/domain/model"
)

// SubmitRequestBuilder provides a fluent interface for building SubmitRequest objects for testing.
type SubmitRequestBuilder struct {
	req *model.SubmitRequest
}

// NewSubmitRequest creates a new SubmitRequestBuilder with sensible defaults.
func NewSubmitRequest() *SubmitRequestBuilder {
	return &SubmitRequestBuilder{
		req: &model.SubmitRequest{
			Type:        model.JobTypeDocumentRender,
			PrincipalID: "org-test",
			Priority:    50,
			Payload:     json.RawMessage(`{"docId": "doc-1", "templateId": "tpl-1"}`),
			MaxAttempts: 3,
		},
	}
}

// WithType sets the job type.
func (b *SubmitRequestBuilder) WithType(jobType model.JobType) *SubmitRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPrincipalID sets the submitting principal.
func (b *SubmitRequestBuilder) WithPrincipalID(principalID string) *SubmitRequestBuilder {
	b.req.PrincipalID = principalID
	return b
}

// WithPriority sets the job priority.
func (b *SubmitRequestBuilder) WithPriority(priority int) *SubmitRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithPayload sets the job payload.
func (b *SubmitRequestBuilder) WithPayload(payload json.RawMessage) *SubmitRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *SubmitRequestBuilder) WithPayloadString(payload string) *SubmitRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithMaxAttempts sets the attempt budget.
func (b *SubmitRequestBuilder) WithMaxAttempts(maxAttempts int) *SubmitRequestBuilder {
	b.req.MaxAttempts = maxAttempts
	return b
}

// WithIdempotencyKey sets an explicit idempotency key override.
func (b *SubmitRequestBuilder) WithIdempotencyKey(key string) *SubmitRequestBuilder {
	b.req.IdempotencyKey = key
	return b
}

// Build returns the constructed SubmitRequest.
func (b *SubmitRequestBuilder) Build() *model.SubmitRequest {
	return b.req
}

// Common test submission presets

// RenderSubmitRequest creates a document render submission with default values.
func RenderSubmitRequest() *model.SubmitRequest {
	return NewSubmitRequest().
		WithType(model.JobTypeDocumentRender).
		WithPayloadString(`{"docId": "doc-42", "templateId": "tpl-esrs", "locale": "en-GB"}`).
		Build()
}

// FootprintSubmitRequest creates a footprint calculation submission with default values.
func FootprintSubmitRequest() *model.SubmitRequest {
	return NewSubmitRequest().
		WithType(model.JobTypeFootprintCalc).
		WithPayloadString(`{"productId": "sku-9", "methodology": "ghg-protocol", "scope": [1, 2]}`).
		Build()
}

// ExtractSubmitRequest creates a content extraction submission with default values.
func ExtractSubmitRequest() *model.SubmitRequest {
	return NewSubmitRequest().
		WithType(model.JobTypeContentExtract).
		WithPayloadString(`{"sourceUri": "https://supplier.example/report.pdf", "kind": "pdf"}`).
		Build()
}

// ExportSubmitRequest creates a report export submission with default values.
func ExportSubmitRequest() *model.SubmitRequest {
	return NewSubmitRequest().
		WithType(model.JobTypeReportExport).
		WithPayloadString(`{"reportId": "rep-7", "format": "xlsx"}`).
		Build()
}
