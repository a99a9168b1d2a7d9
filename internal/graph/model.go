// Package graph defines the environment map data model: the probe and run
// history inputs, the node/edge map produced from them, and the derived
// summary and insight types. Field names and the node/edge type enumerations
// are the wire contract consumed by dashboards and viewers.
package graph

// SchemaVersion is the version field written into every Map.
const SchemaVersion = "1.0"

// Status is a health status shared by reports and nodes.
type Status string

const (
	StatusGood    Status = "good"
	StatusWarn    Status = "warn"
	StatusBad     Status = "bad"
	StatusUnknown Status = "unknown"
)

// Severity is the severity of a single probe finding.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityBad  Severity = "bad"
)

// NodeType constants.
type NodeType string

const (
	NodeBase     NodeType = "base"
	NodeEnv      NodeType = "venv"
	NodeTask     NodeType = "task"
	NodeArtifact NodeType = "artifact"
)

// EdgeType constants.
type EdgeType string

const (
	EdgeUsesBase         EdgeType = "USES_BASE"
	EdgeRoutesTaskTo     EdgeType = "ROUTES_TASK_TO"
	EdgeFailedRun        EdgeType = "FAILED_RUN"
	EdgeSharesWheelhouse EdgeType = "SHARES_WHEELHOUSE"
	EdgeShadowsPath      EdgeType = "SHADOWS_PATH"
	EdgeCreatedFrom      EdgeType = "CREATED_FROM"
)

// Finding is one diagnostic emitted by the interpreter probe.
type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
	Penalty  float64  `json:"penalty"`
}

// ReportFacts are optional interpreter facts gathered by the probe.
type ReportFacts struct {
	Version        string `json:"version,omitempty"` // "3.11.4"
	Bits           int    `json:"bits,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	BasePrefix     string `json:"base_prefix,omitempty"` // set only for derived environments
	Executable     string `json:"executable,omitempty"`
	Implementation string `json:"implementation,omitempty"`
}

// EnvironmentReport is the probe's verdict for one interpreter path.
type EnvironmentReport struct {
	Path     string       `json:"path"`
	Status   Status       `json:"status"`
	Score    float64      `json:"score"`
	Findings []Finding    `json:"findings,omitempty"`
	Facts    *ReportFacts `json:"facts,omitempty"`
}

// Requirements describe what a task needs from its environment.
type Requirements struct {
	Packages     []string `json:"packages,omitempty"`
	Features     []string `json:"features,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Require64Bit bool     `json:"require_64bit,omitempty"`
}

// TaskSpec describes a task definition as recorded with each run.
type TaskSpec struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Args     []string      `json:"args,omitempty"`
	Requires *Requirements `json:"requires,omitempty"`
}

// EnvRef references the environment selected for a run.
type EnvRef struct {
	Path   string   `json:"path"`
	Score  *float64 `json:"score,omitempty"`
	Status Status   `json:"status,omitempty"`
}

// Outcome is the result of one task execution.
type Outcome struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	ErrorCode  string `json:"error_code,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// RunRecord is one entry of the run history.
type RunRecord struct {
	RunID         string   `json:"run_id,omitempty"`
	Timestamp     string   `json:"timestamp"` // ISO-8601, compared lexicographically
	Task          TaskSpec `json:"task"`
	Env           EnvRef   `json:"env"`
	Outcome       Outcome  `json:"outcome"`
	DominantIssue string   `json:"dominant_issue,omitempty"`
}

// Issue is a finding carried on a node's health snapshot.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
	Penalty  float64  `json:"penalty"`
}

// Health is a node's health snapshot.
type Health struct {
	Status Status   `json:"status"`
	Score  *float64 `json:"score,omitempty"` // nil means insufficient information
	Issues []Issue  `json:"issues,omitempty"`
}

// Capability feature keys set on environment nodes.
const (
	FeatureSSLOK           = "ssl_ok"
	FeatureUserSiteClean   = "user_site_clean"
	FeatureSearchPathClean = "search_path_clean"
)

// Node is a vertex of the environment map.
type Node struct {
	ID           string            `json:"id"`
	Type         NodeType          `json:"type"`
	Label        string            `json:"label"`
	Path         string            `json:"path,omitempty"`
	Version      string            `json:"version,omitempty"`
	Arch         string            `json:"arch,omitempty"`
	Health       *Health           `json:"health,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Features     map[string]bool   `json:"features,omitempty"`
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
	LastSeen     string            `json:"last_seen,omitempty"`
}

// Status returns the node's health status, or StatusUnknown without health.
func (n *Node) Status() Status {
	if n.Health == nil || n.Health.Status == "" {
		return StatusUnknown
	}
	return n.Health.Status
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	ID     string         `json:"id"`
	From   string         `json:"from"`
	To     string         `json:"to"`
	Type   EdgeType       `json:"type"`
	Weight int            `json:"weight"`
	Label  string         `json:"label,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Edge metadata keys.
const (
	MetaDominantIssue = "dominant_issue"
	MetaGlyph         = "glyph"
	MetaFailures      = "failures"
	MetaRuns          = "runs"
)

// TopIssue is a ranked recurring finding code.
type TopIssue struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
	Hint  string `json:"hint"`
}

// Summary aggregates counts over a built map.
type Summary struct {
	Environments int        `json:"environments"`
	Bases        int        `json:"bases"`
	Tasks        int        `json:"tasks"`
	Healthy      int        `json:"healthy"`
	Warning      int        `json:"warning"`
	Broken       int        `json:"broken"`
	PassedRuns   int        `json:"passed_runs"`
	FailedRuns   int        `json:"failed_runs"`
	TopIssues    []TopIssue `json:"top_issues"`
}

// Host describes the machine the map was generated on.
type Host struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
}

// Map is the versioned graph result. GeneratedAt is the only field that may
// differ between two syntheses over identical inputs.
type Map struct {
	Version     string  `json:"version"`
	GeneratedAt string  `json:"generated_at"`
	Host        Host    `json:"host"`
	Summary     Summary `json:"summary"`
	Nodes       []Node  `json:"nodes"`
	Edges       []Edge  `json:"edges"`
}

// InsightSeverity ranks a map insight.
type InsightSeverity string

const (
	InsightLow    InsightSeverity = "low"
	InsightMedium InsightSeverity = "medium"
	InsightHigh   InsightSeverity = "high"
)

// Insight is a rule-derived finding about the whole fleet.
type Insight struct {
	Severity InsightSeverity `json:"severity"`
	Text     string          `json:"text"`
	Meta     map[string]any  `json:"metadata,omitempty"`
}

// Artifact represents a generated output file.
type Artifact struct {
	Name    string `json:"name"`
	Content []byte `json:"-"`
	Type    string `json:"type"` // MIME type hint
}

// Snapshot holds the complete result of one synthesis run.
type Snapshot struct {
	Meta      SnapshotMeta `json:"meta"`
	Map       *Map         `json:"map"`
	Insights  []Insight    `json:"insights"`
	Artifacts []Artifact   `json:"artifacts"`
}

// SnapshotMeta contains bookkeeping about a synthesis run.
type SnapshotMeta struct {
	GeneratedAt  string   `json:"generated_at"`
	Duration     string   `json:"duration"`
	ReportCount  int      `json:"report_count"`
	RunCount     int      `json:"run_count"`
	ClusterCount int      `json:"cluster_count"`
	InsightCount int      `json:"insight_count"`
	Explainers   []string `json:"explainers"`
	Renderers    []string `json:"renderers"`
	Sources      []string `json:"sources,omitempty"`
}
