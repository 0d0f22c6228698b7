package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/service"
)

func testJob(jobType model.JobType, payload string) *model.Job {
	return &model.Job{
		ID:          "job-1",
		Type:        jobType,
		PrincipalID: "org-acme",
		State:       model.JobStateLeased,
		Payload:     json.RawMessage(payload),
		MaxAttempts: 3,
		Attempts:    1,
	}
}

func noProgress(context.Context, int) {}

func TestRegisterAll(t *testing.T) {
	registry := service.NewRegistry()
	require.NoError(t, RegisterAll(registry, Options{}))

	for _, jobType := range model.AllJobTypes() {
		handler, ok := registry.Get(jobType)
		require.True(t, ok, "handler for %s", jobType)
		require.NotNil(t, handler)
	}
}

func TestFootprintCalc(t *testing.T) {
	handler := NewFootprintCalc()

	t.Run("sums per activity", func(t *testing.T) {
		payload := `{
			"scope": "scope3",
			"factors": [
				{"activity": "road_freight", "quantity": 100, "unit": "tkm", "co2ePerUnit": 0.1},
				{"activity": "road_freight", "quantity": 50, "unit": "tkm", "co2ePerUnit": 0.1},
				{"activity": "electricity", "quantity": 200, "unit": "kWh", "co2ePerUnit": 0.4}
			]
		}`
		raw, err := handler(context.Background(), testJob(model.JobTypeFootprintCalc, payload), noProgress)
		require.NoError(t, err)

		var result footprintResult
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, "scope3", result.Scope)
		assert.InDelta(t, 95.0, result.CO2eKg, 1e-9)
		assert.InDelta(t, 15.0, result.ByActivity["road_freight"], 1e-9)
		assert.InDelta(t, 80.0, result.ByActivity["electricity"], 1e-9)
		assert.Equal(t, 3, result.FactorCount)
	})

	t.Run("reports progress per factor", func(t *testing.T) {
		payload := `{"factors": [
			{"activity": "a", "quantity": 1, "co2ePerUnit": 1},
			{"activity": "b", "quantity": 1, "co2ePerUnit": 1}
		]}`
		var reported []int
		progress := func(_ context.Context, p int) { reported = append(reported, p) }

		_, err := handler(context.Background(), testJob(model.JobTypeFootprintCalc, payload), progress)
		require.NoError(t, err)
		assert.Equal(t, []int{50, 100}, reported)
	})

	t.Run("rejects empty factors", func(t *testing.T) {
		_, err := handler(context.Background(), testJob(model.JobTypeFootprintCalc, `{"factors": []}`), noProgress)
		require.Error(t, err)
		assert.False(t, service.IsRetryable(err))
	})

	t.Run("rejects negative inputs", func(t *testing.T) {
		payload := `{"factors": [{"activity": "a", "quantity": -1, "co2ePerUnit": 1}]}`
		_, err := handler(context.Background(), testJob(model.JobTypeFootprintCalc, payload), noProgress)
		require.ErrorContains(t, err, "negative inputs")
	})
}

func TestDocumentRender(t *testing.T) {
	handler := NewDocumentRender()

	t.Run("renders sections", func(t *testing.T) {
		payload := `{
			"docId": "doc-42",
			"templateId": "annual-disclosure",
			"title": "# FY25 Disclosure",
			"sections": [
				{"heading": "Emissions", "body": "Total 95 t CO2e."},
				{"heading": "Methodology", "body": "GHG Protocol."}
			]
		}`
		raw, err := handler(context.Background(), testJob(model.JobTypeDocumentRender, payload), noProgress)
		require.NoError(t, err)

		var result renderResult
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, "doc-42", result.DocID)
		assert.Equal(t, "annual-disclosure", result.TemplateID)
		assert.Equal(t, 2, result.Sections)
		assert.Positive(t, result.SizeBytes)
		assert.Len(t, result.Checksum, 64)
	})

	t.Run("equal inputs produce equal checksums", func(t *testing.T) {
		payload := `{"docId": "doc-1", "templateId": "t", "title": "# T", "sections": [{"heading": "H", "body": "B"}]}`
		first, err := handler(context.Background(), testJob(model.JobTypeDocumentRender, payload), noProgress)
		require.NoError(t, err)
		second, err := handler(context.Background(), testJob(model.JobTypeDocumentRender, payload), noProgress)
		require.NoError(t, err)

		var a, b renderResult
		require.NoError(t, json.Unmarshal(first, &a))
		require.NoError(t, json.Unmarshal(second, &b))
		assert.Equal(t, a.Checksum, b.Checksum)
	})

	t.Run("rejects missing ids", func(t *testing.T) {
		_, err := handler(context.Background(), testJob(model.JobTypeDocumentRender, `{"templateId": "t"}`), noProgress)
		require.ErrorContains(t, err, "docId")

		_, err = handler(context.Background(), testJob(model.JobTypeDocumentRender, `{"docId": "d"}`), noProgress)
		require.ErrorContains(t, err, "templateId")
	})
}

func TestContentExtract(t *testing.T) {
	page := `<html><head><title> Acme Supplies </title></head><body>
		<p>Contact us at sales@acme.example or info@acme.example.</p>
		<p>Phone: (555) 123-4567</p>
		<a href="/products">Products</a>
		<a href="mailto:sales@acme.example">Mail</a>
		<a href="/brochure.pdf">Brochure</a>
		<a href="#top">Top</a>
		<a href="https://acme.example/about">About</a>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/supplier":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(page))
		case "/flaky":
			w.WriteHeader(http.StatusBadGateway)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/report.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.7 fake"))
		}
	}))
	defer server.Close()

	handler := NewContentExtract(server.Client(), defaultMaxFetchBytes)

	run := func(t *testing.T, payload string) (extractResult, error) {
		t.Helper()
		raw, err := handler(context.Background(), testJob(model.JobTypeContentExtract, payload), noProgress)
		if err != nil {
			return extractResult{}, err
		}
		var result extractResult
		require.NoError(t, json.Unmarshal(raw, &result))
		return result, nil
	}

	t.Run("extracts supplier page", func(t *testing.T) {
		result, err := run(t, `{"sourceUri": "`+server.URL+`/supplier", "kind": "web"}`)
		require.NoError(t, err)
		assert.Equal(t, "Acme Supplies", result.Title)
		assert.Equal(t, []string{"info@acme.example", "sales@acme.example"}, result.Emails)
		require.Len(t, result.Phones, 1)
		assert.Contains(t, result.Phones[0], "123-4567")
		assert.Equal(t, 2, result.LinkCount)
		assert.Len(t, result.Checksum, 64)
	})

	t.Run("pdf kind reports metadata only", func(t *testing.T) {
		result, err := run(t, `{"sourceUri": "`+server.URL+`/report.pdf", "kind": "pdf"}`)
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", result.ContentType)
		assert.Positive(t, result.SizeBytes)
		assert.Empty(t, result.Title)
		assert.Empty(t, result.Emails)
	})

	t.Run("upstream 5xx is retryable", func(t *testing.T) {
		_, err := run(t, `{"sourceUri": "`+server.URL+`/flaky", "kind": "web"}`)
		require.Error(t, err)
		assert.True(t, service.IsRetryable(err))
	})

	t.Run("upstream 4xx is permanent", func(t *testing.T) {
		_, err := run(t, `{"sourceUri": "`+server.URL+`/gone", "kind": "web"}`)
		require.Error(t, err)
		assert.False(t, service.IsRetryable(err))
	})

	t.Run("connection failure is retryable", func(t *testing.T) {
		client := &http.Client{Timeout: time.Second}
		closedHandler := NewContentExtract(client, defaultMaxFetchBytes)
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()

		payload := `{"sourceUri": "` + closed.URL + `/supplier", "kind": "web"}`
		_, err := closedHandler(context.Background(), testJob(model.JobTypeContentExtract, payload), noProgress)
		require.Error(t, err)
		assert.True(t, service.IsRetryable(err))
	})

	t.Run("rejects bad payloads", func(t *testing.T) {
		_, err := run(t, `{"kind": "web"}`)
		require.ErrorContains(t, err, "sourceUri")

		_, err = run(t, `{"sourceUri": "not a url", "kind": "web"}`)
		require.ErrorContains(t, err, "invalid sourceUri")

		_, err = run(t, `{"sourceUri": "`+server.URL+`", "kind": "ftp"}`)
		require.ErrorContains(t, err, "unsupported extract kind")
	})
}

func TestReportExport(t *testing.T) {
	handler := NewReportExport()

	t.Run("csv export", func(t *testing.T) {
		payload := `{
			"reportId": "rep-7",
			"format": "csv",
			"header": ["activity", "co2e_kg"],
			"rows": [["road_freight", "15"], ["electricity", "80"]]
		}`
		raw, err := handler(context.Background(), testJob(model.JobTypeReportExport, payload), noProgress)
		require.NoError(t, err)

		var result exportResult
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, "rep-7", result.ReportID)
		assert.Equal(t, "csv", result.Format)
		assert.Equal(t, 2, result.Rows)
		assert.Positive(t, result.SizeBytes)
		assert.Len(t, result.Checksum, 64)
	})

	t.Run("json export", func(t *testing.T) {
		payload := `{
			"reportId": "rep-8",
			"format": "json",
			"header": ["activity", "co2e_kg"],
			"rows": [["electricity", "80"]]
		}`
		raw, err := handler(context.Background(), testJob(model.JobTypeReportExport, payload), noProgress)
		require.NoError(t, err)

		var result exportResult
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, "json", result.Format)
		assert.Equal(t, 1, result.Rows)
	})

	t.Run("rejects ragged rows", func(t *testing.T) {
		payload := `{"reportId": "r", "format": "csv", "header": ["a", "b"], "rows": [["only-one"]]}`
		_, err := handler(context.Background(), testJob(model.JobTypeReportExport, payload), noProgress)
		require.ErrorContains(t, err, "columns")
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		payload := `{"reportId": "r", "format": "xlsx"}`
		_, err := handler(context.Background(), testJob(model.JobTypeReportExport, payload), noProgress)
		require.ErrorContains(t, err, "unsupported export format")
	})
}
