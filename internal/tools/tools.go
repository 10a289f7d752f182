// Package tools holds the capability registry: the named operations
// the model may request during a turn. Handlers take positional
// string arguments and return text for the model to read.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yavinfive/eddie/internal/interpret"
)

// Handler executes one capability. Arguments arrive in the order the
// model emitted them.
type Handler func(ctx context.Context, args ...string) (string, error)

// Tool describes a registered capability.
type Tool struct {
	Name        string
	Description string
	// Parameters names the positional arguments, in order, for the
	// capability listing shown to the model.
	Parameters []Parameter
	// PrimaryArg is the parameter a sloppy emitter is most likely to
	// supply alone; recognizers use it when reconstructing calls from
	// degenerate encodings.
	PrimaryArg string
	// Hints are lowercase words whose joint presence in free text
	// suggests this capability is being invoked.
	Hints   []string
	Handler Handler
}

type Parameter struct {
	Name        string
	Description string
	Required    bool
}

// Registry maps capability names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Registering a duplicate name is a programming
// error and panics during startup wiring.
func (r *Registry) Register(t *Tool) {
	if t.Name == "" || t.Handler == nil {
		panic("tools: Register requires a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate capability %q", t.Name))
	}
	r.tools[t.Name] = t
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known returns the recognizer-facing view of the registry.
func (r *Registry) Known() []interpret.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]interpret.Capability, 0, len(r.tools))
	for _, t := range r.tools {
		caps = append(caps, interpret.Capability{
			Name:       t.Name,
			PrimaryArg: t.PrimaryArg,
			Hints:      t.Hints,
		})
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Name < caps[j].Name })
	return caps
}

// Listing renders the capability descriptions the model is shown when
// a turn looks like it needs tools. One JSON object per line keeps
// small models from garbling the format.
func (r *Registry) Listing() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		t := r.tools[name]
		entry := map[string]any{
			"name":        t.Name,
			"description": t.Description,
		}
		if len(t.Parameters) > 0 {
			params := make([]map[string]any, 0, len(t.Parameters))
			for _, p := range t.Parameters {
				params = append(params, map[string]any{
					"name":        p.Name,
					"description": p.Description,
					"required":    p.Required,
				})
			}
			entry["parameters"] = params
		}
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}
