package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetExtractsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Hi</title></head><body><p>content here</p></body></html>`))
	}))
	defer srv.Close()

	res, err := New().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Title != "Hi" {
		t.Errorf("title = %q", res.Title)
	}
	if !strings.Contains(res.Content, "content here") {
		t.Errorf("content = %q", res.Content)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.StatusCode)
	}
}

func TestGetMergesQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := New().Get(context.Background(), srv.URL+"?base=1", "extra=2", "malformed", "=skipme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(gotQuery, "base=1") || !strings.Contains(gotQuery, "extra=2") {
		t.Errorf("query = %q", gotQuery)
	}
	if strings.Contains(gotQuery, "skipme") || strings.Contains(gotQuery, "malformed") {
		t.Errorf("malformed params not ignored: %q", gotQuery)
	}
}

func TestGetPlainTextPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just words"))
	}))
	defer srv.Close()

	res, err := New().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Content != "just words" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestGetBinaryPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0xff, 0xfe, 0x00, 0x01})
	}))
	defer srv.Close()

	res, err := New().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(res.Content, "Binary content") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestGetRequiresURL(t *testing.T) {
	if _, err := New().Get(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
