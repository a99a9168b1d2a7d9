package explainers

import (
	"context"

	"github.com/dejo1307/envmap/internal/cluster"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// Input is everything an explainer may look at. Reports are the reports that
// survived filtering; Clusters are in clustering order.
type Input struct {
	Map      *graph.Map
	Index    *graph.Index
	Reports  []graph.EnvironmentReport
	Clusters []*cluster.Cluster
}

// NewInput indexes m and bundles it with its sources.
func NewInput(m *graph.Map, reports []graph.EnvironmentReport, clusters []*cluster.Cluster) *Input {
	return &Input{
		Map:      m,
		Index:    graph.NewIndex(m),
		Reports:  reports,
		Clusters: clusters,
	}
}

// Explainer applies a group of insight rules to a built map.
type Explainer interface {
	// Name returns the explainer identifier (e.g. "health", "tasks").
	Name() string
	// Explain evaluates the explainer's rules in order and returns insights.
	Explain(ctx context.Context, in *Input) ([]graph.Insight, error)
}

// Registry holds explainers by name in registration order, which is also
// rule evaluation order.
type Registry struct {
	order []Explainer
}

// NewRegistry creates an empty explainer registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds e. An explainer registered under an existing name replaces it
// in place.
func (r *Registry) Register(e Explainer) {
	for i, existing := range r.order {
		if existing.Name() == e.Name() {
			r.order[i] = e
			return
		}
	}
	r.order = append(r.order, e)
}

// Select returns the explainers whose names pass enabled, in registration
// order. A nil enabled selects all of them.
func (r *Registry) Select(enabled func(name string) bool) []Explainer {
	var out []Explainer
	for _, e := range r.order {
		if enabled == nil || enabled(e.Name()) {
			out = append(out, e)
		}
	}
	return out
}

// EnvLabel returns the map label of the environment with normalized path key,
// falling back to the key itself.
func (in *Input) EnvLabel(key string) string {
	if in.Index != nil {
		if n := in.Index.Node(ident.StableID(ident.KindEnv, key)); n != nil && n.Label != "" {
			return n.Label
		}
	}
	return key
}
