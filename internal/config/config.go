package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dejo1307/envmap/internal/ident"
)

// Output modes.
const (
	OutputJSON    = "json"
	OutputDiagram = "diagram"
	OutputBoth    = "both"
)

// Task modes, mirrored by builder.TaskMode.
const (
	TasksNone      = "none"
	TasksPerRun    = "per_run"
	TasksClustered = "clustered"
)

// Config represents the envmap.yaml configuration.
type Config struct {
	Reports      []string      `yaml:"reports"`
	History      string        `yaml:"history"`
	Workers      int           `yaml:"workers"`
	Filter       FilterConfig  `yaml:"filter"`
	Tasks        TasksConfig   `yaml:"tasks"`
	MaxTopIssues int           `yaml:"max_top_issues"`
	Diagram      DiagramConfig `yaml:"diagram"`
	Explainers   []string      `yaml:"explainers"`
	Renderers    []string      `yaml:"renderers"`
	Output       OutputConfig  `yaml:"output"`
	Log          LogConfig     `yaml:"log"`
}

// FilterConfig selects which reports enter the map.
type FilterConfig struct {
	MinScore        float64  `yaml:"min_score"`
	RequireCodes    []string `yaml:"require_codes"`
	PathPrefix      string   `yaml:"path_prefix"`
	CaseInsensitive bool     `yaml:"case_insensitive"`
}

// TasksConfig controls how run history becomes task nodes.
type TasksConfig struct {
	Mode string `yaml:"mode"`
}

// DiagramConfig controls the Mermaid layout.
type DiagramConfig struct {
	GroupByBase   bool   `yaml:"group_by_base"`
	HotEdgeLabels bool   `yaml:"hot_edge_labels"`
	Direction     string `yaml:"direction"`
}

// OutputConfig controls where and how output artifacts are generated.
type OutputConfig struct {
	Dir             string `yaml:"dir"`
	Mode            string `yaml:"mode"`
	MaxReportTokens int    `yaml:"max_report_tokens"`
}

// LogConfig enables an additional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Reports:      []string{"reports/*.json"},
		History:      ".envmap/runs.jsonl",
		Workers:      8,
		Filter:       FilterConfig{CaseInsensitive: ident.CaseInsensitiveFS()},
		Tasks:        TasksConfig{Mode: TasksClustered},
		MaxTopIssues: 10,
		Diagram: DiagramConfig{
			GroupByBase:   true,
			HotEdgeLabels: true,
			Direction:     "LR",
		},
		Explainers: []string{"health", "tasks"},
		Renderers:  []string{"mermaid", "report", "promtext"},
		Output: OutputConfig{
			Dir:             ".envmap",
			Mode:            OutputBoth,
			MaxReportTokens: 8000,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads a configuration file from the given path.
// Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = ".envmap"
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = OutputBoth
	}
	if cfg.Output.MaxReportTokens == 0 {
		cfg.Output.MaxReportTokens = 8000
	}
	if cfg.Tasks.Mode == "" {
		cfg.Tasks.Mode = TasksClustered
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields and numeric ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Output.Mode {
	case OutputJSON, OutputDiagram, OutputBoth:
	default:
		errs = append(errs, fmt.Errorf("output.mode %q: want json, diagram or both", c.Output.Mode))
	}
	switch c.Tasks.Mode {
	case TasksNone, TasksPerRun, TasksClustered:
	default:
		errs = append(errs, fmt.Errorf("tasks.mode %q: want none, per_run or clustered", c.Tasks.Mode))
	}
	switch strings.ToUpper(c.Diagram.Direction) {
	case "", "LR", "RL", "TB", "TD", "BT":
	default:
		errs = append(errs, fmt.Errorf("diagram.direction %q: want LR, RL, TB, TD or BT", c.Diagram.Direction))
	}
	if c.Filter.MinScore < 0 || c.Filter.MinScore > 100 {
		errs = append(errs, fmt.Errorf("filter.min_score %v: want 0..100", c.Filter.MinScore))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d: must not be negative", c.Workers))
	}
	if c.MaxTopIssues < 0 {
		errs = append(errs, fmt.Errorf("max_top_issues %d: must not be negative", c.MaxTopIssues))
	}
	return errors.Join(errs...)
}

// WritesDiagram reports whether map.mmd belongs in the output.
func (c *Config) WritesDiagram() bool {
	return c.Output.Mode != OutputJSON
}

// WritesJSON reports whether graph.json and insights.json belong in the
// output.
func (c *Config) WritesJSON() bool {
	return c.Output.Mode != OutputDiagram
}

// IsExplainerEnabled returns true if the named explainer is enabled.
func (c *Config) IsExplainerEnabled(name string) bool {
	return contains(c.Explainers, name)
}

// IsRendererEnabled returns true if the named renderer is enabled.
func (c *Config) IsRendererEnabled(name string) bool {
	return contains(c.Renderers, name)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
