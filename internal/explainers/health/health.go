// Package health holds the fleet-health insight rules: recurring issues,
// base blast radius, ecosystem hygiene, and finding-code entropy.
package health

import (
	"context"
	"fmt"

	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/explainers"
	"github.com/dejo1307/envmap/internal/graph"
)

// Rule names recorded in insight metadata.
const (
	RuleTopIssue    = "top_issue"
	RuleBlastRadius = "blast_radius"
	RuleHygiene     = "hygiene"
	RuleEntropy     = "entropy"
)

// Explainer evaluates the health rules.
type Explainer struct{}

// New creates a health Explainer.
func New() *Explainer {
	return &Explainer{}
}

func (e *Explainer) Name() string {
	return "health"
}

// Explain runs the rules in order: top issue, blast radius, hygiene, entropy.
func (e *Explainer) Explain(ctx context.Context, in *explainers.Input) ([]graph.Insight, error) {
	var out []graph.Insight
	out = append(out, topIssue(in)...)
	out = append(out, blastRadius(in)...)
	out = append(out, hygiene(in)...)
	out = append(out, entropy(in)...)
	return out, nil
}

func topIssue(in *explainers.Input) []graph.Insight {
	if len(in.Map.Summary.TopIssues) == 0 {
		return nil
	}
	top := in.Map.Summary.TopIssues[0]
	sev := graph.InsightMedium
	if top.Count >= explainers.TopIssueHighCount {
		sev = graph.InsightHigh
	}
	return []graph.Insight{{
		Severity: sev,
		Text: fmt.Sprintf("%s %s is the most common issue (%d occurrences). %s",
			codes.Glyph(top.Code), top.Code, top.Count, top.Hint),
		Meta: map[string]any{
			"rule":  RuleTopIssue,
			"code":  top.Code,
			"count": top.Count,
			"hint":  top.Hint,
		},
	}}
}

func blastRadius(in *explainers.Input) []graph.Insight {
	var out []graph.Insight
	for _, base := range in.Index.ByType(graph.NodeBase) {
		children := in.Index.Children(base.ID, graph.EdgeUsesBase)
		total := len(children)
		if total < explainers.BlastRadiusMinChildren {
			continue
		}
		bad := 0
		for _, c := range children {
			if c.Status() == graph.StatusBad {
				bad++
			}
		}
		if bad < (total+1)/2 {
			continue
		}
		out = append(out, graph.Insight{
			Severity: graph.InsightHigh,
			Text: fmt.Sprintf("Base interpreter %s has a wide blast radius: %d/%d environments built on it are broken. Repair or replace the base before fixing environments one by one.",
				base.Label, bad, total),
			Meta: map[string]any{
				"rule":  RuleBlastRadius,
				"base":  base.ID,
				"label": base.Label,
				"path":  base.Path,
				"bad":   bad,
				"total": total,
			},
		})
	}
	return out
}

func hygiene(in *explainers.Input) []graph.Insight {
	leaks, injected := 0, 0
	for _, r := range in.Reports {
		if hasCode(r, codes.UserSiteLeak) {
			leaks++
		}
		if hasCode(r, codes.PathInjected) {
			injected++
		}
	}
	if leaks < explainers.HygieneMinReports && injected < explainers.HygieneMinReports {
		return nil
	}
	return []graph.Insight{{
		Severity: graph.InsightHigh,
		Text: fmt.Sprintf("Ecosystem hygiene: user site-packages leak into %d environments and PYTHONPATH is injected into %d. Isolate task execution from the user's shell environment.",
			leaks, injected),
		Meta: map[string]any{
			"rule":     RuleHygiene,
			"leaks":    leaks,
			"injected": injected,
		},
	}}
}

func entropy(in *explainers.Input) []graph.Insight {
	if len(in.Reports) < explainers.EntropyMinReports {
		return nil
	}
	distinct := make(map[string]struct{})
	for _, r := range in.Reports {
		for _, f := range r.Findings {
			if f.Severity == graph.SeverityInfo {
				continue
			}
			distinct[codes.Normalize(f.Code)] = struct{}{}
		}
	}
	if len(distinct) < explainers.EntropyMinCodes {
		return nil
	}
	return []graph.Insight{{
		Severity: graph.InsightMedium,
		Text: fmt.Sprintf("High entropy: %d distinct issue types across %d environments. Standardize on a small number of known-good environments.",
			len(distinct), len(in.Reports)),
		Meta: map[string]any{
			"rule":         RuleEntropy,
			"codes":        len(distinct),
			"environments": len(in.Reports),
		},
	}}
}

func hasCode(r graph.EnvironmentReport, code string) bool {
	for _, f := range r.Findings {
		if codes.Normalize(f.Code) == codes.Normalize(code) {
			return true
		}
	}
	return false
}
