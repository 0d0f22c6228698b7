package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/service"
)

// defaultMaxFetchBytes bounds how much of a remote document we read when
// no explicit limit is configured.
const defaultMaxFetchBytes = 2 << 20

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	linkPattern  = regexp.MustCompile(`(?i)<a\s[^>]*href\s*=\s*["']([^"']+)["']`)
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
)

// skippedLinkPrefixes and skippedLinkSuffixes filter anchors that are not
// crawlable supplier pages.
var (
	skippedLinkPrefixes = []string{"mailto:", "tel:", "#", "javascript:"}
	skippedLinkSuffixes = []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".css", ".js"}
)

type extractPayload struct {
	SourceURI string `json:"sourceUri"`
	Kind      string `json:"kind"`
}

type extractResult struct {
	SourceURI   string   `json:"sourceUri"`
	Kind        string   `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Emails      []string `json:"emails,omitempty"`
	Phones      []string `json:"phones,omitempty"`
	LinkCount   int      `json:"linkCount,omitempty"`
	ContentType string   `json:"contentType"`
	SizeBytes   int      `json:"sizeBytes"`
	Checksum    string   `json:"checksum"`
}

// NewContentExtract returns the handler for supplier content extraction
// jobs. Transport failures and upstream 5xx responses are retryable,
// client errors and malformed payloads are not.
func NewContentExtract(client *http.Client, maxFetch int64) service.Handler {
	return func(ctx context.Context, job *model.Job, progress service.ProgressFunc) (json.RawMessage, error) {
		var payload extractPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode extract payload: %w", err)
		}
		if payload.SourceURI == "" {
			return nil, errors.New("extract payload has no sourceUri")
		}
		parsed, err := url.Parse(payload.SourceURI)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid sourceUri %q", payload.SourceURI)
		}
		switch payload.Kind {
		case "web", "pdf":
		default:
			return nil, fmt.Errorf("unsupported extract kind %q", payload.Kind)
		}

		progress(ctx, 10)

		body, contentType, err := fetchSource(ctx, client, payload.SourceURI, maxFetch)
		if err != nil {
			return nil, err
		}
		progress(ctx, 60)

		sum := sha256.Sum256(body)
		result := extractResult{
			SourceURI:   payload.SourceURI,
			Kind:        payload.Kind,
			ContentType: contentType,
			SizeBytes:   len(body),
			Checksum:    hex.EncodeToString(sum[:]),
		}
		if payload.Kind == "web" {
			page := string(body)
			result.Title = extractTitle(page)
			result.Emails = uniqueMatches(emailPattern, page)
			result.Phones = uniqueMatches(phonePattern, stripTags(page))
			result.LinkCount = countCrawlableLinks(page)
		}
		return json.Marshal(result)
	}
}

func fetchSource(ctx context.Context, client *http.Client, uri string, maxFetch int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "verdantiq-extractor/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", service.Retryable(fmt.Errorf("fetch %s: %w", uri, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, "", service.Retryable(fmt.Errorf("fetch %s: upstream status %d", uri, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetch))
	if err != nil {
		return nil, "", service.Retryable(fmt.Errorf("read %s: %w", uri, err))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func extractTitle(page string) string {
	m := titlePattern.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func stripTags(page string) string {
	return tagPattern.ReplaceAllString(page, " ")
}

func uniqueMatches(pattern *regexp.Regexp, text string) []string {
	seen := map[string]struct{}{}
	for _, m := range pattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		seen[m] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func countCrawlableLinks(page string) int {
	count := 0
	for _, m := range linkPattern.FindAllStringSubmatch(page, -1) {
		href := strings.TrimSpace(strings.ToLower(m[1]))
		if href == "" || skippedLink(href) {
			continue
		}
		count++
	}
	return count
}

func skippedLink(href string) bool {
	for _, prefix := range skippedLinkPrefixes {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	for _, suffix := range skippedLinkSuffixes {
		if strings.HasSuffix(href, suffix) {
			return true
		}
	}
	return false
}
