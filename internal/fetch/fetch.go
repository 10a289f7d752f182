// Package fetch implements the page-fetch capability: it downloads a
// URL and reduces the response to readable text the model can digest.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yavinfive/eddie/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Get downloads rawURL and extracts readable text. params are
// "name=value" strings appended to the query string; malformed entries
// are ignored.
func (f *Fetcher) Get(ctx context.Context, rawURL string, params ...string) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("http_get: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("http_get: invalid url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for _, p := range params {
			name, value, ok := strings.Cut(p, "=")
			if ok && name != "" {
				q.Set(name, value)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("http_get: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_get: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("http_get: read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &Result{
		URL:         u.String(),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(contentType):
		result.Title, result.Content = Extract(string(body))
	case utf8.Valid(body):
		result.Content = string(body)
	default:
		result.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
	}

	return result, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
