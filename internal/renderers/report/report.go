// Package report renders a compact markdown digest of the environment map,
// sized to fit a token budget so it can be handed to an LLM or pasted into a
// ticket.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dejo1307/envmap/internal/graph"
)

// ArtifactName is the file the renderer produces.
const ArtifactName = "envmap.md"

// DefaultMaxTokens is the budget used when New is given a non-positive one.
const DefaultMaxTokens = 8000

// Renderer produces the markdown digest.
type Renderer struct {
	maxTokens int
}

// New creates a Renderer with the given token budget.
func New(maxTokens int) *Renderer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Renderer{maxTokens: maxTokens}
}

func (r *Renderer) Name() string {
	return "report"
}

// section holds a rendered section with its display name.
type section struct {
	name    string
	content string
}

// Render produces envmap.md. Sections are ordered by priority; lower-priority
// sections are truncated or omitted first when the budget is tight.
func (r *Renderer) Render(ctx context.Context, snapshot *graph.Snapshot) ([]graph.Artifact, error) {
	if snapshot.Map == nil {
		return nil, fmt.Errorf("snapshot has no map")
	}
	m := snapshot.Map
	sections := []section{
		{"Fleet Summary", renderSummary(m)},
		{"Insights", renderInsights(snapshot.Insights)},
		{"Top Issues", renderTopIssues(m)},
		{"Base Interpreters", renderBases(m)},
		{"Broken Environments", renderBroken(m)},
		{"Tasks", renderTasks(m)},
		{"Meta", renderMeta(snapshot)},
	}

	header := "# Environment Map\n\n"
	maxChars := r.maxTokens * 4 // rough estimate: 1 token ~= 4 chars
	remaining := maxChars - len(header)

	var sb strings.Builder
	sb.WriteString(header)

	for i, sec := range sections {
		if sec.content == "" {
			continue
		}
		if len(sec.content) <= remaining {
			sb.WriteString(sec.content)
			remaining -= len(sec.content)
			continue
		}
		if remaining > 200 {
			cut := lineBoundary(sec.content, remaining-100)
			sb.WriteString(sec.content[:cut])
			fmt.Fprintf(&sb, "\n\n---\n*[Truncated in: %s]*\n", sec.name)
			i++
		}
		var omitted []string
		for _, s := range sections[i:] {
			if s.content != "" {
				omitted = append(omitted, s.name)
			}
		}
		if len(omitted) > 0 {
			fmt.Fprintf(&sb, "\n\n---\n*[Omitted: %s]*\n", strings.Join(omitted, ", "))
		}
		break
	}

	return []graph.Artifact{
		{
			Name:    ArtifactName,
			Content: []byte(sb.String()),
			Type:    "text/markdown",
		},
	}, nil
}

// lineBoundary returns the largest index <= limit that ends a line, or limit
// when there is none.
func lineBoundary(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	if limit <= 0 {
		return 0
	}
	if idx := strings.LastIndexByte(s[:limit], '\n'); idx > 0 {
		return idx + 1
	}
	return limit
}

func renderSummary(m *graph.Map) string {
	s := m.Summary
	var sb strings.Builder
	sb.WriteString("## Fleet Summary\n\n")
	fmt.Fprintf(&sb, "- **Environments:** %d (%d healthy, %d warning, %d broken)\n",
		s.Environments, s.Healthy, s.Warning, s.Broken)
	fmt.Fprintf(&sb, "- **Base interpreters:** %d\n", s.Bases)
	fmt.Fprintf(&sb, "- **Tasks:** %d\n", s.Tasks)
	if total := s.PassedRuns + s.FailedRuns; total > 0 {
		fmt.Fprintf(&sb, "- **Runs:** %d passed, %d failed (%.0f%% pass rate)\n",
			s.PassedRuns, s.FailedRuns, float64(s.PassedRuns)/float64(total)*100)
	}
	if m.Host.Hostname != "" {
		fmt.Fprintf(&sb, "- **Host:** %s (%s/%s)\n", m.Host.Hostname, m.Host.OS, m.Host.Arch)
	}
	sb.WriteString("\n")
	return sb.String()
}

var severityRank = map[graph.InsightSeverity]int{
	graph.InsightHigh:   0,
	graph.InsightMedium: 1,
	graph.InsightLow:    2,
}

func renderInsights(insights []graph.Insight) string {
	if len(insights) == 0 {
		return ""
	}
	sorted := make([]graph.Insight, len(insights))
	copy(sorted, insights)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank[sorted[i].Severity] < severityRank[sorted[j].Severity]
	})

	var sb strings.Builder
	sb.WriteString("## Insights\n\n")
	for _, in := range sorted {
		fmt.Fprintf(&sb, "- **[%s]** %s\n", strings.ToUpper(string(in.Severity)), in.Text)
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderTopIssues(m *graph.Map) string {
	if len(m.Summary.TopIssues) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Top Issues\n\n")
	sb.WriteString("| Code | Count | Remediation |\n")
	sb.WriteString("|------|-------|-------------|\n")
	for _, ti := range m.Summary.TopIssues {
		fmt.Fprintf(&sb, "| `%s` | %d | %s |\n", ti.Code, ti.Count, cell(ti.Hint))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderBases(m *graph.Map) string {
	ix := graph.NewIndex(m)
	bases := ix.ByType(graph.NodeBase)
	if len(bases) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Base Interpreters\n\n")
	sb.WriteString("| Base | Version | Status | Score | Environments |\n")
	sb.WriteString("|------|---------|--------|-------|--------------|\n")
	for _, b := range bases {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %d |\n",
			b.Path, orDash(b.Version), b.Status(), score(b), len(ix.Children(b.ID, graph.EdgeUsesBase)))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderBroken(m *graph.Map) string {
	var sb strings.Builder
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if n.Type != graph.NodeEnv || n.Status() != graph.StatusBad {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("## Broken Environments\n\n")
		}
		fmt.Fprintf(&sb, "- `%s` (score %s)\n", n.Path, score(n))
		for _, is := range n.Health.Issues {
			if is.Severity == graph.SeverityInfo {
				continue
			}
			fmt.Fprintf(&sb, "  - %s: %s\n", is.Code, orDash(is.Message))
		}
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderTasks lists task nodes worst first.
func renderTasks(m *graph.Map) string {
	var tasks []*graph.Node
	for i := range m.Nodes {
		if m.Nodes[i].Type == graph.NodeTask {
			tasks = append(tasks, &m.Nodes[i])
		}
	}
	if len(tasks) == 0 {
		return ""
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return scoreValue(tasks[i]) < scoreValue(tasks[j])
	})

	var sb strings.Builder
	sb.WriteString("## Tasks\n\n")
	sb.WriteString("| Task | Status | Success % | Last seen |\n")
	sb.WriteString("|------|--------|-----------|-----------|\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", cell(t.Label), t.Status(), score(t), orDash(t.LastSeen))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderMeta(snapshot *graph.Snapshot) string {
	var sb strings.Builder
	meta := snapshot.Meta
	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "*Generated at %s", meta.GeneratedAt)
	if meta.Duration != "" {
		fmt.Fprintf(&sb, " in %s", meta.Duration)
	}
	fmt.Fprintf(&sb, ". %d reports, %d runs, %d insights.*\n",
		meta.ReportCount, meta.RunCount, meta.InsightCount)
	return sb.String()
}

func score(n *graph.Node) string {
	if n.Health == nil || n.Health.Score == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *n.Health.Score)
}

// scoreValue sorts nodes without a score last.
func scoreValue(n *graph.Node) float64 {
	if n.Health == nil || n.Health.Score == nil {
		return 101
	}
	return *n.Health.Score
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cell makes s safe inside a markdown table cell.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
