// Package renderers defines the artifact renderer plug-in point.
package renderers

import (
	"context"

	"github.com/dejo1307/envmap/internal/graph"
)

// Renderer produces output artifacts from a snapshot.
type Renderer interface {
	// Name returns the renderer identifier (e.g. "mermaid", "report").
	Name() string
	// Render produces artifacts from the given snapshot.
	Render(ctx context.Context, snapshot *graph.Snapshot) ([]graph.Artifact, error)
}

// Registry holds renderers by name in registration order.
type Registry struct {
	order []Renderer
}

// NewRegistry creates an empty renderer registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds rnd. A renderer registered under an existing name replaces
// it in place, so reconfigured renderers keep their position.
func (r *Registry) Register(rnd Renderer) {
	for i, existing := range r.order {
		if existing.Name() == rnd.Name() {
			r.order[i] = rnd
			return
		}
	}
	r.order = append(r.order, rnd)
}

// Names lists registered renderer names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, rnd := range r.order {
		names[i] = rnd.Name()
	}
	return names
}

// Select returns the renderers whose names pass enabled, in registration
// order. A nil enabled selects all of them.
func (r *Registry) Select(enabled func(name string) bool) []Renderer {
	var out []Renderer
	for _, rnd := range r.order {
		if enabled == nil || enabled(rnd.Name()) {
			out = append(out, rnd)
		}
	}
	return out
}
