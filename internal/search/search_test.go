package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBraveServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Brave) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := NewBrave("test-key")
	b.endpoint = srv.URL
	return srv, b
}

func TestBraveSearch(t *testing.T) {
	_, b := newBraveServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "test-key" {
			t.Errorf("token header = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "go concurrency" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("count = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"Go by Example","url":"https://gobyexample.com","description":"goroutines"},
			{"title":"Effective Go","url":"https://go.dev/doc/effective_go","description":"share memory"}
		]}}`))
	})

	results, err := b.Search(context.Background(), "go concurrency", Options{Count: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "Go by Example" || results[0].URL != "https://gobyexample.com" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Snippet != "share memory" {
		t.Errorf("second snippet = %q", results[1].Snippet)
	}
}

func TestBraveDefaultCount(t *testing.T) {
	_, b := newBraveServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("count"); got != "5" {
			t.Errorf("count = %q, want default 5", got)
		}
		w.Write([]byte(`{"web":{"results":[]}}`))
	})

	if _, err := b.Search(context.Background(), "anything", Options{}); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestBraveHTTPError(t *testing.T) {
	_, b := newBraveServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := b.Search(context.Background(), "q", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want HTTP status in message", err)
	}
}

func TestManagerRoutesToPrimary(t *testing.T) {
	_, b := newBraveServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"web":{"results":[{"title":"hit","url":"https://example.com"}]}}`))
	})

	m := NewManager("brave")
	m.Register(b)

	results, err := m.Search(context.Background(), "query", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "hit" {
		t.Errorf("results = %+v", results)
	}
}

func TestManagerUnknownPrimary(t *testing.T) {
	m := NewManager("duckduckgo")
	if _, err := m.Search(context.Background(), "q", Options{}); err == nil {
		t.Fatal("expected error for unconfigured provider")
	}
}

func TestSearchJSON(t *testing.T) {
	_, b := newBraveServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"web":{"results":[{"title":"a","url":"https://a.example","description":"s"}]}}`))
	})

	m := NewManager("brave")
	m.Register(b)

	out, err := m.SearchJSON(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("SearchJSON: %v", err)
	}
	var decoded []Result
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Snippet != "s" {
		t.Errorf("decoded = %+v", decoded)
	}
}
