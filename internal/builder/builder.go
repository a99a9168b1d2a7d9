// Package builder turns environment reports and run history into the
// three-tier environment map: base interpreter -> environment -> task.
//
// Build is a pure function of its inputs. Node and edge ids are derived from
// normalized semantic keys and every ranked list has an explicit tie-break,
// so the only field that can differ between two builds over identical input
// is Map.GeneratedAt.
package builder

import (
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dejo1307/envmap/internal/cluster"
	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// TaskMode selects how run history becomes task nodes.
type TaskMode string

const (
	TaskModeNone      TaskMode = "none"
	TaskModePerRun    TaskMode = "per_run"
	TaskModeClustered TaskMode = "clustered"
)

// DefaultMaxTopIssues caps Summary.TopIssues when Options leaves it unset.
const DefaultMaxTopIssues = 10

// Filter selects which reports become environment nodes.
type Filter struct {
	MinScore        float64  // keep reports scoring at least this; 0 disables
	RequireCodes    []string // keep reports carrying any of these finding codes
	PathPrefix      string   // keep reports under this path
	CaseInsensitive bool     // fold path case for keys and prefix matching
}

// Options controls a build. The zero value builds clustered task nodes with
// the default top-issue cap, no host info, and the wall clock.
type Options struct {
	Filter       Filter
	TaskMode     TaskMode
	MaxTopIssues int
	Host         graph.Host
	Now          func() time.Time

	// Clusters, when set, are used in clustered mode instead of clustering
	// runs again.
	Clusters []*cluster.Cluster
}

func (o Options) withDefaults() Options {
	if o.TaskMode == "" {
		o.TaskMode = TaskModeClustered
	}
	if o.MaxTopIssues <= 0 {
		o.MaxTopIssues = DefaultMaxTopIssues
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// LocalHost describes the current machine.
func LocalHost() graph.Host {
	name, _ := os.Hostname()
	return graph.Host{OS: runtime.GOOS, Arch: runtime.GOARCH, Hostname: name}
}

// builder carries the state of one Build call.
type builder struct {
	opts  Options
	store *graph.Store

	// base id -> env ids in insertion order
	baseChildren map[string][]string
	baseOrder    []string

	// surviving reports, in input order
	reports []graph.EnvironmentReport
}

// Build constructs the environment map. It never fails; reports removed by
// the filter and empty input simply produce fewer nodes.
func Build(reports []graph.EnvironmentReport, runs []graph.RunRecord, opts Options) *graph.Map {
	b := &builder{
		opts:         opts.withDefaults(),
		store:        graph.NewStore(),
		baseChildren: make(map[string][]string),
	}

	b.reports = b.opts.Filter.Apply(reports)
	for _, r := range b.reports {
		b.addReport(r)
	}
	b.rollupBases()

	passed, failed := 0, 0
	for _, run := range runs {
		if run.Outcome.Success {
			passed++
		} else {
			failed++
		}
	}
	if len(runs) > 0 {
		switch b.opts.TaskMode {
		case TaskModePerRun:
			b.addRunTasks(runs)
		case TaskModeClustered:
			clusters := b.opts.Clusters
			if clusters == nil {
				clusters = cluster.Build(runs, cluster.Options{CaseInsensitive: b.opts.Filter.CaseInsensitive})
			}
			b.addClusterTasks(clusters)
		}
	}

	summary := b.summarize()
	summary.PassedRuns = passed
	summary.FailedRuns = failed

	return &graph.Map{
		Version:     graph.SchemaVersion,
		GeneratedAt: b.opts.Now().UTC().Format(time.RFC3339),
		Host:        b.opts.Host,
		Summary:     summary,
		Nodes:       b.store.Nodes(),
		Edges:       b.store.Edges(),
	}
}

// Keep reports whether r passes the filter. RequireCodes match if any code
// is present.
func (f Filter) Keep(r graph.EnvironmentReport) bool {
	if f.MinScore > 0 && r.Score < f.MinScore {
		return false
	}
	if f.PathPrefix != "" {
		prefix := ident.NormalizePath(f.PathPrefix, f.CaseInsensitive)
		if !underPath(ident.NormalizePath(r.Path, f.CaseInsensitive), prefix) {
			return false
		}
	}
	if len(f.RequireCodes) > 0 {
		for _, want := range f.RequireCodes {
			if hasFinding(r, want) {
				return true
			}
		}
		return false
	}
	return true
}

// underPath reports whether path is dir or lies below it. Both arguments are
// normalized; a match must end on a path segment boundary.
func underPath(path, dir string) bool {
	if !strings.HasPrefix(path, dir) {
		return false
	}
	return len(path) == len(dir) || strings.HasSuffix(dir, "/") || path[len(dir)] == '/'
}

// Apply returns the reports that pass the filter, in input order.
func (f Filter) Apply(reports []graph.EnvironmentReport) []graph.EnvironmentReport {
	var out []graph.EnvironmentReport
	for _, r := range reports {
		if f.Keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (b *builder) envKey(path string) string {
	return ident.NormalizePath(path, b.opts.Filter.CaseInsensitive)
}

func (b *builder) envID(path string) string {
	return ident.StableID(ident.KindEnv, b.envKey(path))
}

// addReport creates the environment node for r, its base node when first
// seen, and the USES_BASE edge between them.
func (b *builder) addReport(r graph.EnvironmentReport) {
	envID := b.envID(r.Path)
	if !b.store.AddNode(envNode(envID, r)) {
		// A second report for the same path adds nothing.
		return
	}

	basePath := baseKeyPath(r)
	baseID := ident.StableID(ident.KindBase, b.envKey(basePath))
	if !b.store.HasNode(baseID) {
		n := graph.Node{
			ID:    baseID,
			Type:  graph.NodeBase,
			Label: shortLabel(basePath),
			Path:  basePath,
		}
		if r.Facts != nil {
			n.Version = r.Facts.Version
			n.Arch = archLabel(r.Facts.Bits)
		}
		b.store.AddNode(n)
		b.baseOrder = append(b.baseOrder, baseID)
	}
	b.baseChildren[baseID] = append(b.baseChildren[baseID], envID)

	edge := graph.Edge{
		ID:   ident.EdgeID(baseID, string(graph.EdgeUsesBase), envID),
		From: baseID,
		To:   envID,
		Type: graph.EdgeUsesBase,
	}
	if code := dominantFinding(r.Findings); code != "" {
		edge.Label = code
		edge.Meta = map[string]any{
			graph.MetaDominantIssue: code,
			graph.MetaGlyph:         codes.Glyph(code),
		}
	}
	b.store.AddEdge(edge)
}

func envNode(id string, r graph.EnvironmentReport) graph.Node {
	status := r.Status
	if status == "" {
		status = graph.StatusUnknown
	}
	score := r.Score
	n := graph.Node{
		ID:    id,
		Type:  graph.NodeEnv,
		Label: shortLabel(r.Path),
		Path:  r.Path,
		Health: &graph.Health{
			Status: status,
			Score:  &score,
			Issues: issuesFrom(r.Findings),
		},
		Features: map[string]bool{
			graph.FeatureSSLOK:           !hasFinding(r, codes.SSLBroken),
			graph.FeatureUserSiteClean:   !hasFinding(r, codes.UserSiteLeak),
			graph.FeatureSearchPathClean: !hasFinding(r, codes.PathInjected),
		},
	}
	if f := r.Facts; f != nil {
		n.Version = f.Version
		n.Arch = archLabel(f.Bits)
		fp := make(map[string]string)
		if f.Executable != "" {
			fp["executable"] = f.Executable
		}
		if f.Implementation != "" {
			fp["implementation"] = f.Implementation
		}
		if len(fp) > 0 {
			n.Fingerprints = fp
		}
	}
	return n
}

// unknownEnvNode is the placeholder for a path seen only in run history.
func unknownEnvNode(id, path string) graph.Node {
	return graph.Node{
		ID:     id,
		Type:   graph.NodeEnv,
		Label:  shortLabel(path),
		Path:   path,
		Health: &graph.Health{Status: graph.StatusUnknown},
	}
}

// ensureEnv returns the id of the environment node for path, synthesizing an
// unknown-health node when no surviving report covered it.
func (b *builder) ensureEnv(path string) string {
	id := b.envID(path)
	if !b.store.HasNode(id) {
		b.store.AddNode(unknownEnvNode(id, path))
	}
	return id
}

// rollupBases computes base health from the finished environment nodes.
// Status is the worst child status; score is the lower median of child
// scores.
func (b *builder) rollupBases() {
	for _, baseID := range b.baseOrder {
		var (
			status = graph.StatusUnknown
			scores []float64
		)
		for _, envID := range b.baseChildren[baseID] {
			env := b.store.Node(envID)
			if env == nil || env.Health == nil {
				continue
			}
			status = worse(status, env.Health.Status)
			if env.Health.Score != nil {
				scores = append(scores, *env.Health.Score)
			}
		}
		h := &graph.Health{Status: status}
		if m, ok := LowerMedian(scores); ok {
			h.Score = &m
		}
		b.store.Node(baseID).Health = h
	}
}

// LowerMedian returns the element at index len/2 of the ascending-sorted
// values. It reports false for an empty slice.
func LowerMedian(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2], true
}

var statusRank = map[graph.Status]int{
	graph.StatusGood: 1,
	graph.StatusWarn: 2,
	graph.StatusBad:  3,
}

// worse returns the more severe of two statuses. Statuses outside
// good/warn/bad never win a vote.
func worse(cur, next graph.Status) graph.Status {
	if statusRank[next] > statusRank[cur] {
		return next
	}
	return cur
}

// baseKeyPath picks the grouping path for a report: declared base install,
// then the environment's own prefix, then the report path.
func baseKeyPath(r graph.EnvironmentReport) string {
	if r.Facts != nil {
		if p := strings.TrimSpace(r.Facts.BasePrefix); p != "" {
			return p
		}
		if p := strings.TrimSpace(r.Facts.Prefix); p != "" {
			return p
		}
	}
	return r.Path
}

// dominantFinding is the code of the highest-penalty non-info finding. The
// earliest finding wins a tie.
func dominantFinding(findings []graph.Finding) string {
	best, bestPenalty := "", 0.0
	for _, f := range findings {
		if f.Severity == graph.SeverityInfo {
			continue
		}
		if best == "" || f.Penalty > bestPenalty {
			best, bestPenalty = findingCode(f), f.Penalty
		}
	}
	return best
}

func findingCode(f graph.Finding) string {
	return codes.Normalize(f.Code)
}

func hasFinding(r graph.EnvironmentReport, code string) bool {
	for _, f := range r.Findings {
		if codes.Normalize(f.Code) == codes.Normalize(code) {
			return true
		}
	}
	return false
}

func issuesFrom(findings []graph.Finding) []graph.Issue {
	if len(findings) == 0 {
		return nil
	}
	out := make([]graph.Issue, len(findings))
	for i, f := range findings {
		out[i] = graph.Issue{
			Code:     f.Code,
			Severity: f.Severity,
			Message:  f.Message,
			Penalty:  f.Penalty,
		}
	}
	return out
}

// shortLabel keeps the last two segments of a path.
func shortLabel(path string) string {
	p := strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(path), "\\", "/"), "/")
	if p == "" {
		return path
	}
	parts := strings.Split(p, "/")
	if len(parts) <= 2 {
		return p
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

func archLabel(bits int) string {
	if bits <= 0 {
		return ""
	}
	return strconv.Itoa(bits) + "-bit"
}
