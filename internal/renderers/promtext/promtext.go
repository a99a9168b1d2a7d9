// Package promtext renders map gauges in the Prometheus text exposition
// format, ready for a node_exporter textfile collector.
package promtext

import (
	"bytes"
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/dejo1307/envmap/internal/graph"
)

// ArtifactName is the file the renderer produces.
const ArtifactName = "envmap.prom"

const namespace = "envmap"

// Renderer produces the textfile artifact.
type Renderer struct{}

// New creates a promtext Renderer.
func New() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Name() string {
	return "promtext"
}

// Render produces envmap.prom.
func (r *Renderer) Render(ctx context.Context, snapshot *graph.Snapshot) ([]graph.Artifact, error) {
	if snapshot.Map == nil {
		return nil, fmt.Errorf("snapshot has no map")
	}
	text, err := Encode(snapshot.Map, snapshot.Insights)
	if err != nil {
		return nil, err
	}
	return []graph.Artifact{
		{
			Name:    ArtifactName,
			Content: text,
			Type:    "text/plain; version=0.0.4",
		},
	}, nil
}

// Encode registers the map's gauges on a private registry and returns the
// gathered families in text format.
func Encode(m *graph.Map, insights []graph.Insight) ([]byte, error) {
	reg := prometheus.NewRegistry()
	collect(promauto.With(reg), m, insights)

	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

func collect(f promauto.Factory, m *graph.Map, insights []graph.Insight) {
	s := m.Summary

	envs := f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "environments",
		Help:      "Environments by health status.",
	}, []string{"status"})
	envs.WithLabelValues(string(graph.StatusGood)).Set(float64(s.Healthy))
	envs.WithLabelValues(string(graph.StatusWarn)).Set(float64(s.Warning))
	envs.WithLabelValues(string(graph.StatusBad)).Set(float64(s.Broken))
	envs.WithLabelValues(string(graph.StatusUnknown)).Set(float64(s.Environments - s.Healthy - s.Warning - s.Broken))

	f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bases",
		Help:      "Distinct base interpreters.",
	}).Set(float64(s.Bases))

	f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks",
		Help:      "Task nodes in the map.",
	}).Set(float64(s.Tasks))

	runs := f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs",
		Help:      "Recorded task runs by result.",
	}, []string{"result"})
	runs.WithLabelValues("passed").Set(float64(s.PassedRuns))
	runs.WithLabelValues("failed").Set(float64(s.FailedRuns))

	issues := f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "issue_occurrences",
		Help:      "Occurrences of the most common finding codes.",
	}, []string{"code"})
	for _, ti := range s.TopIssues {
		issues.WithLabelValues(ti.Code).Set(float64(ti.Count))
	}

	bySeverity := f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "insights",
		Help:      "Insights by severity.",
	}, []string{"severity"})
	for _, sev := range []graph.InsightSeverity{graph.InsightHigh, graph.InsightMedium, graph.InsightLow} {
		bySeverity.WithLabelValues(string(sev)).Set(0)
	}
	for _, in := range insights {
		bySeverity.WithLabelValues(string(in.Severity)).Inc()
	}

	scores := f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_score",
		Help:      "Health score of base, environment and task nodes.",
	}, []string{"type", "id", "name", "status"})
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if n.Health == nil || n.Health.Score == nil {
			continue
		}
		// Task nodes have no path and may share a label, so the node id keys
		// the series.
		name := n.Path
		if name == "" {
			name = n.Label
		}
		scores.WithLabelValues(string(n.Type), n.ID, name, string(n.Status())).Set(*n.Health.Score)
	}
}
