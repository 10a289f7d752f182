// Package search provides the web search capability.
//
// Search backends implement [Provider]; the [Manager] routes queries
// to the configured primary provider. Only Brave is built in, but the
// interface keeps backends swappable without touching the tool layer.
package search

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return. Providers may
	// return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`
}

// Provider is the interface search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	return p.Search(ctx, query, opts)
}

// SearchJSON runs a query and renders the results as a JSON document
// suitable for feeding back to the model.
func (m *Manager) SearchJSON(ctx context.Context, query string, opts Options) (string, error) {
	results, err := m.Search(ctx, query, opts)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
