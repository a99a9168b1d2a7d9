package builder

import (
	"math"
	"strings"

	"github.com/dejo1307/envmap/internal/cluster"
	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// taskGoodRate is the success rate at which a clustered task node is good.
const taskGoodRate = 0.95

// addRunTasks creates one task node per run record.
func (b *builder) addRunTasks(runs []graph.RunRecord) {
	for _, run := range runs {
		key := strings.TrimSpace(run.RunID)
		if key == "" {
			key = strings.Join([]string{
				strings.TrimSpace(run.Task.Name),
				cluster.NormalizeCommand(run.Task.Command),
				run.Timestamp,
				b.envKey(run.Env.Path),
			}, "|")
		}
		taskID := ident.StableID(ident.KindRun, key)

		status := graph.StatusGood
		if !run.Outcome.Success {
			status = graph.StatusBad
		}
		fp := map[string]string{"signature": string(cluster.SignatureOf(run))}
		if run.RunID != "" {
			fp["run_id"] = run.RunID
		}
		b.store.AddNode(graph.Node{
			ID:           taskID,
			Type:         graph.NodeTask,
			Label:        taskLabel(run.Task.Name, run.Task.Command),
			Health:       &graph.Health{Status: status},
			Tags:         requirementTags(run.Task.Requires),
			Fingerprints: fp,
			LastSeen:     run.Timestamp,
		})

		envID := b.ensureEnv(run.Env.Path)
		b.routeEdge(taskID, envID, 1)
		if !run.Outcome.Success {
			b.failedEdge(taskID, envID, 1, cluster.FailureCode(run))
		}
	}
}

// addClusterTasks creates one task node per cluster and weights its edges by
// the cluster's per-environment run and failure counts.
func (b *builder) addClusterTasks(clusters []*cluster.Cluster) {
	for _, c := range clusters {
		taskID := ident.StableID(ident.KindTask, string(c.Signature))
		score := math.Round(c.SuccessRate * 100)
		b.store.AddNode(graph.Node{
			ID:     taskID,
			Type:   graph.NodeTask,
			Label:  taskLabel(c.Name, c.Command),
			Health: &graph.Health{Status: clusterStatus(c), Score: &score},
			Tags:   requirementTags(c.Requires),
			Fingerprints: map[string]string{
				"signature": string(c.Signature),
				"command":   c.Command,
			},
			LastSeen: c.LastSeen,
		})

		for _, es := range c.Envs() {
			envID := b.ensureEnv(es.Path)
			b.routeEdge(taskID, envID, es.Runs)
			if es.Failures > 0 {
				b.failedEdge(taskID, envID, es.Failures, es.FailureCodes.Dominant())
			}
		}
	}
}

func clusterStatus(c *cluster.Cluster) graph.Status {
	switch {
	case c.Runs == 0:
		return graph.StatusUnknown
	case c.Successes == 0:
		return graph.StatusBad
	case c.SuccessRate >= taskGoodRate:
		return graph.StatusGood
	}
	return graph.StatusWarn
}

// routeEdge records that a task ran on an environment. Repeated routes
// accumulate into one edge whose runs meta tracks the weight.
func (b *builder) routeEdge(taskID, envID string, runs int) {
	id := ident.EdgeID(taskID, string(graph.EdgeRoutesTaskTo), envID)
	b.store.AddEdge(graph.Edge{
		ID:     id,
		From:   taskID,
		To:     envID,
		Type:   graph.EdgeRoutesTaskTo,
		Weight: runs,
		Meta:   map[string]any{graph.MetaRuns: runs},
	})
	e := b.store.Edge(id)
	e.Meta[graph.MetaRuns] = e.Weight
}

// failedEdge records failures of a task on an environment, labeled with the
// dominant failure code and its glyph.
func (b *builder) failedEdge(taskID, envID string, failures int, code string) {
	if code == "" {
		code = codes.Unknown
	}
	id := ident.EdgeID(taskID, string(graph.EdgeFailedRun), envID)
	if existing := b.store.Edge(id); existing != nil {
		b.store.AddEdge(graph.Edge{ID: id, Weight: failures})
		existing = b.store.Edge(id)
		existing.Meta[graph.MetaFailures] = existing.Weight
		return
	}
	b.store.AddEdge(graph.Edge{
		ID:     id,
		From:   taskID,
		To:     envID,
		Type:   graph.EdgeFailedRun,
		Weight: failures,
		Label:  code,
		Meta: map[string]any{
			graph.MetaDominantIssue: code,
			graph.MetaGlyph:         codes.Glyph(code),
			graph.MetaFailures:      failures,
		},
	})
}

func taskLabel(name, command string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return cluster.NormalizeCommand(command)
}

func requirementTags(req *graph.Requirements) []string {
	if req == nil || len(req.Tags) == 0 {
		return nil
	}
	out := make([]string, len(req.Tags))
	copy(out, req.Tags)
	return out
}
