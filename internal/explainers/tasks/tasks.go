// Package tasks holds the task-history insight rules: flaky tasks,
// environment-dependent flakes, failure hotspots, and failure contagion.
package tasks

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dejo1307/envmap/internal/cluster"
	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/explainers"
	"github.com/dejo1307/envmap/internal/graph"
)

// Rule names recorded in insight metadata.
const (
	RuleFlaky        = "flaky"
	RuleEnvDependent = "env_dependent"
	RuleHotspot      = "hotspot"
	RuleContagion    = "contagion"
)

// Explainer evaluates the task rules.
type Explainer struct{}

// New creates a tasks Explainer.
func New() *Explainer {
	return &Explainer{}
}

func (e *Explainer) Name() string {
	return "tasks"
}

// Explain runs the rules in order: flaky, environment-dependent, hotspots,
// contagion.
func (e *Explainer) Explain(ctx context.Context, in *explainers.Input) ([]graph.Insight, error) {
	var out []graph.Insight
	flaky, reported := flakyTasks(in)
	out = append(out, flaky...)
	out = append(out, envDependent(in, reported)...)
	out = append(out, hotspots(in)...)
	out = append(out, contagion(in)...)
	return out, nil
}

func flakyTasks(in *explainers.Input) ([]graph.Insight, map[cluster.Signature]bool) {
	var out []graph.Insight
	reported := make(map[cluster.Signature]bool)
	for _, c := range in.Clusters {
		if len(out) == explainers.MaxFlakyInsights {
			break
		}
		if !c.IsFlaky() {
			continue
		}
		reported[c.Signature] = true

		rate := int(math.Round(c.SuccessRate * 100))
		var worst []string
		for _, ef := range c.FailingEnvs(explainers.MaxFlakyWorstEnvs) {
			worst = append(worst, in.EnvLabel(ef.Key))
		}
		text := fmt.Sprintf("Flaky task %s: %d%% success over %d runs, mostly failing with %s",
			c.Name, rate, c.Runs, c.DominantFailure)
		if len(worst) > 0 {
			text += " on " + strings.Join(worst, ", ")
		}
		out = append(out, graph.Insight{
			Severity: graph.InsightHigh,
			Text:     text + ".",
			Meta: map[string]any{
				"rule":         RuleFlaky,
				"task":         c.Name,
				"signature":    string(c.Signature),
				"success_rate": rate,
				"runs":         c.Runs,
				"dominant":     c.DominantFailure,
				"worst_envs":   worst,
			},
		})
	}
	return out, reported
}

func envDependent(in *explainers.Input, reported map[cluster.Signature]bool) []graph.Insight {
	var out []graph.Insight
	for _, c := range in.Clusters {
		if len(out) == explainers.MaxEnvDependentInsights {
			break
		}
		if reported[c.Signature] || !c.IsEnvDependentFlaky() {
			continue
		}
		var failing []string
		for _, es := range c.Envs() {
			if es.Failures > 0 && es.Successes == 0 {
				failing = append(failing, in.EnvLabel(es.Key))
			}
		}
		out = append(out, graph.Insight{
			Severity: graph.InsightHigh,
			Text: fmt.Sprintf("Task %s passes on some environments but always fails on %s. Pin it to a known-good environment.",
				c.Name, strings.Join(failing, ", ")),
			Meta: map[string]any{
				"rule":         RuleEnvDependent,
				"task":         c.Name,
				"signature":    string(c.Signature),
				"failing_envs": failing,
			},
		})
	}
	return out
}

type hotspot struct {
	envID  string
	weight int
}

// hotspots ranks environments by total FAILED_RUN weight. Ties go to the
// smaller node id.
func hotspots(in *explainers.Input) []graph.Insight {
	weights := make(map[string]int)
	for _, e := range in.Map.Edges {
		if e.Type == graph.EdgeFailedRun {
			weights[e.To] += e.Weight
		}
	}
	ranked := make([]hotspot, 0, len(weights))
	for id, w := range weights {
		ranked = append(ranked, hotspot{envID: id, weight: w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].envID < ranked[j].envID
	})
	if len(ranked) > explainers.MaxHotspots {
		ranked = ranked[:explainers.MaxHotspots]
	}

	var out []graph.Insight
	for _, h := range ranked {
		if h.weight < explainers.HotspotMinWeight {
			continue
		}
		label := h.envID
		if n := in.Index.Node(h.envID); n != nil {
			label = n.Label
		}
		out = append(out, graph.Insight{
			Severity: graph.InsightHigh,
			Text: fmt.Sprintf("Failure hotspot: %d failed runs on %s. Rebuild it or isolate task routing away from it.",
				h.weight, label),
			Meta: map[string]any{
				"rule":     RuleHotspot,
				"env":      h.envID,
				"label":    label,
				"failures": h.weight,
			},
		})
	}
	return out
}

// contagion looks for one failure code behind most failed runs. Runs with no
// classification are left out; they share no known cause.
func contagion(in *explainers.Input) []graph.Insight {
	failed := in.Map.Summary.FailedRuns
	if failed == 0 {
		return nil
	}
	totals := make(map[string]int)
	for _, c := range in.Clusters {
		for code, n := range c.FailureCodes.Counts() {
			if code == codes.Unknown {
				continue
			}
			totals[code] += n
		}
	}
	top, topCount := "", 0
	for code, n := range totals {
		if n > topCount || (n == topCount && code < top) {
			top, topCount = code, n
		}
	}
	if topCount == 0 || float64(topCount) < explainers.ContagionMinShare*float64(failed) {
		return nil
	}
	share := int(math.Round(float64(topCount) / float64(failed) * 100))
	return []graph.Insight{{
		Severity: graph.InsightHigh,
		Text: fmt.Sprintf("Contagion: %s %s caused %d of %d failed runs (%d%%). Treat it as a shared root cause. %s",
			codes.Glyph(top), top, topCount, failed, share, codes.Hint(top)),
		Meta: map[string]any{
			"rule":   RuleContagion,
			"code":   top,
			"count":  topCount,
			"failed": failed,
			"share":  share,
		},
	}}
}
