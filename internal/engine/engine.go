// Package engine wires ingestion, map building, insight synthesis and
// rendering into one pipeline and owns the artifacts it produces.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dejo1307/envmap/internal/builder"
	"github.com/dejo1307/envmap/internal/cluster"
	"github.com/dejo1307/envmap/internal/config"
	"github.com/dejo1307/envmap/internal/explainers"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ingest"
	"github.com/dejo1307/envmap/internal/renderers"
	"github.com/dejo1307/envmap/internal/renderers/mermaid"
)

// Fixed artifact names written next to the renderer output.
const (
	GraphFile    = "graph.json"
	InsightsFile = "insights.json"
	MetaFile     = "snapshot.meta.json"
)

// Engine orchestrates the map generation pipeline.
type Engine struct {
	cfg        *config.Config
	explainers *explainers.Registry
	renderers  *renderers.Registry
	history    *ingest.HistoryStore
	host       graph.Host
	now        func() time.Time

	mu       sync.RWMutex
	snapshot *graph.Snapshot
	clusters []*cluster.Cluster
	reports  []graph.EnvironmentReport // surviving the filter
}

// New creates a new Engine with the given config.
// Explainers and renderers must be registered after creation.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	e := &Engine{
		cfg:        cfg,
		explainers: explainers.NewRegistry(),
		renderers:  renderers.NewRegistry(),
		host:       builder.LocalHost(),
		now:        time.Now,
	}
	if cfg.History != "" {
		e.history = ingest.NewHistoryStore(cfg.History)
	}
	return e, nil
}

// RegisterExplainer adds an explainer to the engine.
func (e *Engine) RegisterExplainer(exp explainers.Explainer) {
	e.explainers.Register(exp)
}

// RegisterRenderer adds a renderer to the engine.
func (e *Engine) RegisterRenderer(rnd renderers.Renderer) {
	e.renderers.Register(rnd)
}

// Config returns the engine config.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Snapshot returns the last generated snapshot, or nil.
func (e *Engine) Snapshot() *graph.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Clusters returns the task clusters of the last generation.
func (e *Engine) Clusters() []*cluster.Cluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clusters
}

// Reports returns the reports that made it into the last map.
func (e *Engine) Reports() []graph.EnvironmentReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reports
}

// Filter is the report filter derived from the config.
func (e *Engine) Filter() builder.Filter {
	f := e.cfg.Filter
	return builder.Filter{
		MinScore:        f.MinScore,
		RequireCodes:    f.RequireCodes,
		PathPrefix:      f.PathPrefix,
		CaseInsensitive: f.CaseInsensitive,
	}
}

// DiagramOptions are the Mermaid options derived from the config.
func (e *Engine) DiagramOptions() mermaid.Options {
	d := e.cfg.Diagram
	return mermaid.Options{
		Direction:     d.Direction,
		GroupByBase:   d.GroupByBase,
		HotEdgeLabels: d.HotEdgeLabels,
	}
}

// RecordRun appends rec to the run history. RunID and Timestamp are filled
// in when empty.
func (e *Engine) RecordRun(rec *graph.RunRecord) error {
	if e.history == nil {
		return errors.New("no history file configured")
	}
	if rec.Task.Command == "" && rec.Task.Name == "" {
		return errors.New("run record needs a task name or command")
	}
	if rec.Env.Path == "" {
		return errors.New("run record needs an environment path")
	}
	return e.history.Append(rec)
}

// Generate loads reports and run history from the configured locations and
// runs the pipeline over them.
func (e *Engine) Generate(ctx context.Context) (*graph.Snapshot, error) {
	reports, sources, err := ingest.LoadReports(ctx, e.cfg.Reports, e.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}
	var runs []graph.RunRecord
	if e.history != nil {
		runs, err = e.history.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		sources = append(sources, e.history.Path())
	}
	return e.GenerateFrom(ctx, reports, runs, sources)
}

// GenerateFrom runs cluster -> build -> explain -> render over in-memory
// inputs and stores the result as the current snapshot.
func (e *Engine) GenerateFrom(ctx context.Context, reports []graph.EnvironmentReport, runs []graph.RunRecord, sources []string) (*graph.Snapshot, error) {
	start := time.Now()
	filter := e.Filter()

	clusters := cluster.Build(runs, cluster.Options{CaseInsensitive: filter.CaseInsensitive})
	log.Printf("[engine] %d runs in %d task clusters", len(runs), len(clusters))

	m := builder.Build(reports, runs, builder.Options{
		Filter:       filter,
		TaskMode:     builder.TaskMode(e.cfg.Tasks.Mode),
		MaxTopIssues: e.cfg.MaxTopIssues,
		Host:         e.host,
		Now:          e.now,
		Clusters:     clusters,
	})
	log.Printf("[engine] built map: %d nodes, %d edges", len(m.Nodes), len(m.Edges))

	surviving := filter.Apply(reports)
	in := explainers.NewInput(m, surviving, clusters)
	insights, usedExplainers, err := explainers.Synthesize(ctx, in, e.explainers.Select(e.cfg.IsExplainerEnabled))
	if err != nil {
		return nil, fmt.Errorf("explanation: %w", err)
	}
	log.Printf("[engine] produced %d insights using %d explainers", len(insights), len(usedExplainers))

	snapshot := &graph.Snapshot{
		Meta: graph.SnapshotMeta{
			GeneratedAt:  m.GeneratedAt,
			ReportCount:  len(surviving),
			RunCount:     len(runs),
			ClusterCount: len(clusters),
			InsightCount: len(insights),
			Duration:     time.Since(start).String(),
			Explainers:   usedExplainers,
			Renderers:    []string{},
			Sources:      sources,
		},
		Map:      m,
		Insights: insights,
	}

	usedRenderers, err := e.runRenderers(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("rendering: %w", err)
	}
	snapshot.Meta.Renderers = usedRenderers
	duration := time.Since(start)
	snapshot.Meta.Duration = duration.String()
	log.Printf("[engine] produced %d artifacts using %d renderers", len(snapshot.Artifacts), len(usedRenderers))

	e.mu.Lock()
	e.snapshot = snapshot
	e.clusters = clusters
	e.reports = surviving
	e.mu.Unlock()

	log.Printf("[engine] map generated in %s", duration)
	return snapshot, nil
}

// runRenderers runs all enabled renderers.
func (e *Engine) runRenderers(ctx context.Context, snapshot *graph.Snapshot) ([]string, error) {
	var usedNames []string

	for _, rnd := range e.renderers.Select(e.cfg.IsRendererEnabled) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Printf("[engine] running renderer: %s", rnd.Name())
		artifacts, err := rnd.Render(ctx, snapshot)
		if err != nil {
			log.Printf("[engine] renderer %s error: %v", rnd.Name(), err)
			continue
		}

		snapshot.Artifacts = append(snapshot.Artifacts, artifacts...)
		usedNames = append(usedNames, rnd.Name())
	}

	return usedNames, nil
}

// OutputDir is the configured output directory.
func (e *Engine) OutputDir() string {
	return e.cfg.Output.Dir
}

// WriteArtifacts writes the current snapshot to the output directory:
// graph.json and insights.json unless the output mode is diagram, map.mmd
// unless it is json, every other renderer artifact, and snapshot.meta.json.
func (e *Engine) WriteArtifacts() error {
	snapshot := e.Snapshot()
	if snapshot == nil {
		return fmt.Errorf("no snapshot generated")
	}

	outDir := e.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	write := func(name string, data []byte) error {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Printf("[engine] wrote %s (%d bytes)", path, len(data))
		return nil
	}

	if e.cfg.WritesJSON() {
		if err := graph.WriteMapFile(filepath.Join(outDir, GraphFile), snapshot.Map); err != nil {
			return fmt.Errorf("writing %s: %w", GraphFile, err)
		}
		log.Printf("[engine] wrote %s", filepath.Join(outDir, GraphFile))

		insightsJSON, err := json.MarshalIndent(snapshot.Insights, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling insights: %w", err)
		}
		if err := write(InsightsFile, insightsJSON); err != nil {
			return err
		}
	}

	wroteDiagram := false
	for _, a := range snapshot.Artifacts {
		if a.Name == mermaid.ArtifactName {
			if !e.cfg.WritesDiagram() {
				continue
			}
			wroteDiagram = true
		}
		if err := write(a.Name, a.Content); err != nil {
			return err
		}
	}
	if e.cfg.WritesDiagram() && !wroteDiagram {
		if err := write(mermaid.ArtifactName, []byte(mermaid.Render(snapshot.Map, e.DiagramOptions()))); err != nil {
			return err
		}
	}

	metaJSON, err := json.MarshalIndent(snapshot.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	return write(MetaFile, metaJSON)
}

// GetArtifact returns the content of a named artifact: the fixed JSON files,
// map.mmd, or any renderer artifact.
func (e *Engine) GetArtifact(name string) ([]byte, error) {
	snapshot := e.Snapshot()
	if snapshot == nil {
		return nil, fmt.Errorf("no snapshot generated")
	}

	switch name {
	case GraphFile:
		return json.MarshalIndent(snapshot.Map, "", "  ")
	case InsightsFile:
		return json.MarshalIndent(snapshot.Insights, "", "  ")
	case MetaFile:
		return json.MarshalIndent(snapshot.Meta, "", "  ")
	}
	for _, a := range snapshot.Artifacts {
		if a.Name == name {
			return a.Content, nil
		}
	}
	if name == mermaid.ArtifactName && snapshot.Map != nil {
		return []byte(mermaid.Render(snapshot.Map, e.DiagramOptions())), nil
	}
	return nil, fmt.Errorf("artifact %q not found", name)
}

// LoadExisting restores the snapshot from a previous WriteArtifacts so
// queries work before the first generation. It reports false when there is
// no graph.json to load.
func (e *Engine) LoadExisting() (bool, error) {
	outDir := e.OutputDir()
	m, err := graph.ReadMapFile(filepath.Join(outDir, GraphFile))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	snapshot := &graph.Snapshot{Map: m}
	if data, err := os.ReadFile(filepath.Join(outDir, InsightsFile)); err == nil {
		if err := json.Unmarshal(data, &snapshot.Insights); err != nil {
			return false, fmt.Errorf("parsing %s: %w", InsightsFile, err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(outDir, MetaFile)); err == nil {
		if err := json.Unmarshal(data, &snapshot.Meta); err != nil {
			return false, fmt.Errorf("parsing %s: %w", MetaFile, err)
		}
	}

	e.mu.Lock()
	e.snapshot = snapshot
	e.mu.Unlock()
	return true, nil
}
