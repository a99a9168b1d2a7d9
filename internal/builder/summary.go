package builder

import (
	"sort"

	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/graph"
)

// summarize counts nodes by type and environment nodes by health, and ranks
// recurring non-info finding codes across the surviving reports.
func (b *builder) summarize() graph.Summary {
	s := graph.Summary{
		Environments: len(b.store.ByType(graph.NodeEnv)),
		Bases:        len(b.store.ByType(graph.NodeBase)),
		Tasks:        len(b.store.ByType(graph.NodeTask)),
		TopIssues:    TopIssues(b.reports, b.opts.MaxTopIssues),
	}
	for _, id := range b.store.ByType(graph.NodeEnv) {
		switch b.store.Node(id).Status() {
		case graph.StatusGood:
			s.Healthy++
		case graph.StatusWarn:
			s.Warning++
		case graph.StatusBad:
			s.Broken++
		}
	}
	return s
}

// TopIssues ranks non-info finding codes by total occurrences. Ties keep the
// order in which codes were first seen. At most limit entries are returned
// when limit > 0.
func TopIssues(reports []graph.EnvironmentReport, limit int) []graph.TopIssue {
	var order []string
	counts := make(map[string]int)
	for _, r := range reports {
		for _, f := range r.Findings {
			if f.Severity == graph.SeverityInfo {
				continue
			}
			code := findingCode(f)
			if _, ok := counts[code]; !ok {
				order = append(order, code)
			}
			counts[code]++
		}
	}

	out := make([]graph.TopIssue, 0, len(order))
	for _, code := range order {
		out = append(out, graph.TopIssue{Code: code, Count: counts[code], Hint: codes.Hint(code)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
