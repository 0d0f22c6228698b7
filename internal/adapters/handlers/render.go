package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/service"
)

// renderPayload is the input of a document rendering job.
type renderPayload struct {
	DocID      string          `json:"docId"`
	TemplateID string          `json:"templateId"`
	Title      string          `json:"title,omitempty"`
	Sections   []renderSection `json:"sections,omitempty"`
}

type renderSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type renderResult struct {
	DocID      string `json:"docId"`
	TemplateID string `json:"templateId"`
	Sections   int    `json:"sections"`
	SizeBytes  int    `json:"sizeBytes"`
	Checksum   string `json:"checksum"`
	RenderedAt string `json:"renderedAt"`
}

// documentTemplate lays out the rendered disclosure document. Real template
// bodies live with the reporting frontend; the queue side only needs a
// deterministic rendering of the section content.
var documentTemplate = template.Must(template.New("document").Parse(
	`{{.Title}}
{{range .Sections}}
## {{.Heading}}

{{.Body}}
{{end}}`))

// NewDocumentRender returns the handler for sustainability document
// rendering jobs.
func NewDocumentRender() service.Handler {
	return func(ctx context.Context, job *model.Job, progress service.ProgressFunc) (json.RawMessage, error) {
		var payload renderPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode render payload: %w", err)
		}
		if payload.DocID == "" {
			return nil, errors.New("render payload has no docId")
		}
		if payload.TemplateID == "" {
			return nil, errors.New("render payload has no templateId")
		}

		progress(ctx, 10)

		title := payload.Title
		if title == "" {
			title = fmt.Sprintf("# Document %s (%s)", payload.DocID, payload.TemplateID)
		}

		var buf bytes.Buffer
		err := documentTemplate.Execute(&buf, map[string]any{
			"Title":    title,
			"Sections": payload.Sections,
		})
		if err != nil {
			return nil, fmt.Errorf("render template %s: %w", payload.TemplateID, err)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(ctx, 80)

		sum := sha256.Sum256(buf.Bytes())
		return json.Marshal(renderResult{
			DocID:      payload.DocID,
			TemplateID: payload.TemplateID,
			Sections:   len(payload.Sections),
			SizeBytes:  buf.Len(),
			Checksum:   hex.EncodeToString(sum[:]),
			RenderedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
