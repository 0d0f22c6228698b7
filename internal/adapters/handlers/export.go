package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/service"
)

// exportPayload is the input of an LCA report export job.
type exportPayload struct {
	ReportID string     `json:"reportId"`
	Format   string     `json:"format"`
	Header   []string   `json:"header,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
}

type exportResult struct {
	ReportID  string `json:"reportId"`
	Format    string `json:"format"`
	Rows      int    `json:"rows"`
	SizeBytes int    `json:"sizeBytes"`
	Checksum  string `json:"checksum"`
}

// NewReportExport returns the handler for report export jobs. CSV and JSON
// are the formats the reporting frontend accepts.
func NewReportExport() service.Handler {
	return func(ctx context.Context, job *model.Job, progress service.ProgressFunc) (json.RawMessage, error) {
		var payload exportPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode export payload: %w", err)
		}
		if payload.ReportID == "" {
			return nil, errors.New("export payload has no reportId")
		}

		progress(ctx, 10)

		var (
			encoded []byte
			err     error
		)
		switch payload.Format {
		case "csv":
			encoded, err = encodeCSV(payload)
		case "json":
			encoded, err = encodeJSON(payload)
		default:
			return nil, fmt.Errorf("unsupported export format %q", payload.Format)
		}
		if err != nil {
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(ctx, 80)

		sum := sha256.Sum256(encoded)
		return json.Marshal(exportResult{
			ReportID:  payload.ReportID,
			Format:    payload.Format,
			Rows:      len(payload.Rows),
			SizeBytes: len(encoded),
			Checksum:  hex.EncodeToString(sum[:]),
		})
	}
}

func encodeCSV(payload exportPayload) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if len(payload.Header) > 0 {
		if err := w.Write(payload.Header); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	for i, row := range payload.Rows {
		if len(payload.Header) > 0 && len(row) != len(payload.Header) {
			return nil, fmt.Errorf("row %d has %d columns, header has %d", i, len(row), len(payload.Header))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeJSON(payload exportPayload) ([]byte, error) {
	rows := make([]map[string]string, 0, len(payload.Rows))
	for i, row := range payload.Rows {
		if len(row) != len(payload.Header) {
			return nil, fmt.Errorf("row %d has %d columns, header has %d", i, len(row), len(payload.Header))
		}
		entry := make(map[string]string, len(row))
		for j, col := range payload.Header {
			entry[col] = row[j]
		}
		rows = append(rows, entry)
	}

	encoded, err := json.Marshal(map[string]any{
		"reportId": payload.ReportID,
		"rows":     rows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode json export: %w", err)
	}
	return encoded, nil
}
