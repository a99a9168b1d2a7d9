package builder

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// --- helpers ---

func report(path string, status graph.Status, score float64, base string, findings ...graph.Finding) graph.EnvironmentReport {
	r := graph.EnvironmentReport{Path: path, Status: status, Score: score, Findings: findings}
	if base != "" {
		r.Facts = &graph.ReportFacts{BasePrefix: base, Version: "3.11.4", Bits: 64}
	}
	return r
}

func finding(code string, sev graph.Severity, penalty float64) graph.Finding {
	return graph.Finding{Code: code, Severity: sev, Penalty: penalty}
}

func runOn(name, cmd, env string, ok bool, code string) graph.RunRecord {
	r := graph.RunRecord{
		Timestamp: "2026-05-01T10:00:00Z",
		Task:      graph.TaskSpec{Name: name, Command: cmd},
		Env:       graph.EnvRef{Path: env},
		Outcome:   graph.Outcome{Success: ok},
	}
	if !ok {
		r.Outcome.ExitCode = 1
		r.Outcome.ErrorCode = code
	}
	return r
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func nodesOfType(m *graph.Map, t graph.NodeType) []graph.Node {
	var out []graph.Node
	for _, n := range m.Nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func edgesOfType(m *graph.Map, t graph.EdgeType) []graph.Edge {
	var out []graph.Edge
	for _, e := range m.Edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func nodeByID(m *graph.Map, id string) *graph.Node {
	for i := range m.Nodes {
		if m.Nodes[i].ID == id {
			return &m.Nodes[i]
		}
	}
	return nil
}

// --- environments and bases ---

func TestBuild_Empty(t *testing.T) {
	m := Build(nil, nil, Options{})
	assert.Equal(t, graph.SchemaVersion, m.Version)
	assert.Empty(t, m.Nodes)
	assert.Empty(t, m.Edges)
	assert.NotNil(t, m.Nodes)
	assert.NotNil(t, m.Edges)
	assert.Equal(t, 0, m.Summary.Environments)
}

func TestBuild_BaseScoreIsLowerMedian(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/p/a/.venv", graph.StatusGood, 90, "/opt/py311"),
		report("/p/b/.venv", graph.StatusWarn, 50, "/opt/py311"),
		report("/p/c/.venv", graph.StatusBad, 30, "/opt/py311"),
	}
	m := Build(reports, nil, Options{})

	bases := nodesOfType(m, graph.NodeBase)
	require.Len(t, bases, 1)
	require.NotNil(t, bases[0].Health)
	require.NotNil(t, bases[0].Health.Score)
	assert.Equal(t, 50.0, *bases[0].Health.Score)
	assert.Equal(t, graph.StatusBad, bases[0].Health.Status)
	assert.Equal(t, "3.11.4", bases[0].Version)
	assert.Equal(t, "64-bit", bases[0].Arch)
	assert.Len(t, edgesOfType(m, graph.EdgeUsesBase), 3)
}

func TestLowerMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
		ok     bool
	}{
		{"empty", nil, 0, false},
		{"single", []float64{42}, 42, true},
		{"odd", []float64{90, 30, 50}, 50, true},
		{"even picks upper middle index", []float64{10, 40, 20, 30}, 30, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LowerMedian(tt.values)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLowerMedian_DoesNotReorderInput(t *testing.T) {
	in := []float64{3, 1, 2}
	LowerMedian(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestBuild_BaseStatusVote(t *testing.T) {
	tests := []struct {
		name     string
		statuses []graph.Status
		want     graph.Status
	}{
		{"warn beats good", []graph.Status{graph.StatusGood, graph.StatusWarn}, graph.StatusWarn},
		{"bad beats warn", []graph.Status{graph.StatusWarn, graph.StatusBad, graph.StatusGood}, graph.StatusBad},
		{"unknown ignored", []graph.Status{graph.StatusUnknown, graph.StatusGood}, graph.StatusGood},
		{"no status-bearing children", []graph.Status{graph.StatusUnknown, ""}, graph.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reports []graph.EnvironmentReport
			for i, st := range tt.statuses {
				reports = append(reports, report("/env/"+string(rune('a'+i)), st, 70, "/opt/base"))
			}
			bases := nodesOfType(Build(reports, nil, Options{}), graph.NodeBase)
			require.Len(t, bases, 1)
			assert.Equal(t, tt.want, bases[0].Health.Status)
		})
	}
}

func TestBuild_BaseKeyFallback(t *testing.T) {
	withPrefix := graph.EnvironmentReport{
		Path:   "/home/u/proj/.venv/bin/python",
		Status: graph.StatusGood,
		Score:  100,
		Facts:  &graph.ReportFacts{Prefix: "/home/u/proj/.venv"},
	}
	bare := graph.EnvironmentReport{Path: "/usr/bin/python3", Status: graph.StatusGood, Score: 100}
	declared := report("/srv/app/.venv/bin/python", graph.StatusGood, 100, "/usr/local")

	m := Build([]graph.EnvironmentReport{withPrefix, bare, declared}, nil, Options{})
	bases := nodesOfType(m, graph.NodeBase)
	require.Len(t, bases, 3)
	assert.Equal(t, "/home/u/proj/.venv", bases[0].Path)
	assert.Equal(t, "/usr/bin/python3", bases[1].Path)
	assert.Equal(t, "/usr/local", bases[2].Path)
	assert.Equal(t, ident.StableID(ident.KindBase, "/usr/local"), bases[2].ID)
}

func TestBuild_BasesDeduplicatedByNormalizedKey(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/a", graph.StatusGood, 100, "/opt/py/"),
		report("/b", graph.StatusGood, 100, "/opt/py"),
		report("/c", graph.StatusGood, 100, "/OPT/py"),
	}
	sensitive := Build(reports, nil, Options{})
	assert.Equal(t, 2, sensitive.Summary.Bases)

	folded := Build(reports, nil, Options{Filter: Filter{CaseInsensitive: true}})
	assert.Equal(t, 1, folded.Summary.Bases)
}

func TestBuild_EnvNode(t *testing.T) {
	r := report("/home/u/proj/.venv", graph.StatusBad, 20, "/opt/py",
		finding(codes.SSLBroken, graph.SeverityBad, 40),
		finding(codes.UserSiteLeak, graph.SeverityWarn, 10),
		finding("note", graph.SeverityInfo, 0),
	)
	r.Facts.Executable = "/home/u/proj/.venv/bin/python"
	m := Build([]graph.EnvironmentReport{r}, nil, Options{})

	envs := nodesOfType(m, graph.NodeEnv)
	require.Len(t, envs, 1)
	env := envs[0]
	assert.Equal(t, ident.StableID(ident.KindEnv, "/home/u/proj/.venv"), env.ID)
	assert.Equal(t, "proj/.venv", env.Label)
	assert.Equal(t, graph.StatusBad, env.Health.Status)
	assert.Equal(t, 20.0, *env.Health.Score)
	assert.Len(t, env.Health.Issues, 3)
	assert.Equal(t, codes.SSLBroken, env.Health.Issues[0].Code)
	assert.Equal(t, map[string]bool{
		graph.FeatureSSLOK:           false,
		graph.FeatureUserSiteClean:   false,
		graph.FeatureSearchPathClean: true,
	}, env.Features)
	assert.Equal(t, "/home/u/proj/.venv/bin/python", env.Fingerprints["executable"])
}

func TestBuild_UsesBaseCarriesDominantIssue(t *testing.T) {
	r := report("/e", graph.StatusWarn, 60, "/opt/py",
		finding(codes.UserSiteLeak, graph.SeverityWarn, 10),
		finding("big_info", graph.SeverityInfo, 99),
		finding(codes.PathInjected, graph.SeverityWarn, 15),
		finding(codes.PipMissing, graph.SeverityWarn, 15),
	)
	m := Build([]graph.EnvironmentReport{r}, nil, Options{})
	edges := edgesOfType(m, graph.EdgeUsesBase)
	require.Len(t, edges, 1)
	assert.Equal(t, codes.PathInjected, edges[0].Meta[graph.MetaDominantIssue])
	assert.Equal(t, codes.Glyph(codes.PathInjected), edges[0].Meta[graph.MetaGlyph])
	assert.Equal(t, 1, edges[0].Weight)
}

func TestBuild_UsesBaseWithoutIssues(t *testing.T) {
	m := Build([]graph.EnvironmentReport{report("/e", graph.StatusGood, 100, "/opt/py")}, nil, Options{})
	edges := edgesOfType(m, graph.EdgeUsesBase)
	require.Len(t, edges, 1)
	assert.Nil(t, edges[0].Meta)
}

func TestBuild_DuplicateReportPathKeepsFirst(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/e", graph.StatusGood, 100, "/opt/py"),
		report("/e", graph.StatusBad, 0, "/opt/other"),
	}
	m := Build(reports, nil, Options{})
	assert.Equal(t, 1, m.Summary.Environments)
	assert.Equal(t, 1, m.Summary.Bases)
	assert.Len(t, edgesOfType(m, graph.EdgeUsesBase), 1)
}

// --- filter ---

func TestBuild_Filter(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/work/a", graph.StatusGood, 90, "/opt/py", finding(codes.UserSiteLeak, graph.SeverityWarn, 5)),
		report("/work/b", graph.StatusBad, 40, "/opt/py", finding(codes.SSLBroken, graph.SeverityBad, 50)),
		report("/tmp/c", graph.StatusGood, 95, "/opt/py"),
	}
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"none", Filter{}, 3},
		{"min score", Filter{MinScore: 50}, 2},
		{"require codes is OR", Filter{RequireCodes: []string{codes.SSLBroken, codes.UserSiteLeak}}, 2},
		{"require codes case-insensitive", Filter{RequireCodes: []string{"SSL_BROKEN"}}, 1},
		{"path prefix", Filter{PathPrefix: "/work"}, 2},
		{"path prefix folded", Filter{PathPrefix: "/WORK", CaseInsensitive: true}, 2},
		{"path prefix trailing slash", Filter{PathPrefix: "/work/"}, 2},
		{"path prefix is whole report path", Filter{PathPrefix: "/work/a"}, 1},
		{"path prefix stops at segment boundary", Filter{PathPrefix: "/wo"}, 0},
		{"combined", Filter{MinScore: 50, PathPrefix: "/work"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Build(reports, nil, Options{Filter: tt.filter})
			assert.Equal(t, tt.want, m.Summary.Environments)
		})
	}
}

func TestBuild_TopIssuesFoldCodeSpelling(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/a", graph.StatusBad, 40, "", finding("SSL_Broken", graph.SeverityBad, 50)),
		report("/b", graph.StatusBad, 40, "", finding(" ssl_broken", graph.SeverityBad, 50)),
		report("/c", graph.StatusWarn, 80, "", finding("", graph.SeverityWarn, 5)),
	}
	m := Build(reports, nil, Options{})
	require.Len(t, m.Summary.TopIssues, 2)
	assert.Equal(t, graph.TopIssue{Code: codes.SSLBroken, Count: 2, Hint: codes.Hint(codes.SSLBroken)}, m.Summary.TopIssues[0])
	assert.Equal(t, codes.Unknown, m.Summary.TopIssues[1].Code)
}

func TestUnderPath(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/opt/py", "/opt/py", true},
		{"/opt/py/bin", "/opt/py", true},
		{"/opt/python3/bin", "/opt/py", false},
		{"/opt/py", "/", true},
		{"c:/tools/py", "c:", true},
		{"/opt", "/opt/py", false},
	}
	for _, tt := range tests {
		if got := underPath(tt.path, tt.dir); got != tt.want {
			t.Errorf("underPath(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}

func TestBuild_MinScoreCountsEnvironments(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/a", graph.StatusGood, 90, ""),
		report("/b", graph.StatusBad, 40, ""),
	}
	m := Build(reports, nil, Options{Filter: Filter{MinScore: 50}})
	assert.Equal(t, 1, m.Summary.Environments)
}

// --- tasks ---

func TestBuild_UnreportedEnvironmentIsSynthesized(t *testing.T) {
	reports := []graph.EnvironmentReport{report("/known", graph.StatusGood, 100, "/opt/py")}
	runs := []graph.RunRecord{runOn("tests", "pytest", "/nowhere/.venv", true, "")}

	m := Build(reports, runs, Options{})
	envID := ident.StableID(ident.KindEnv, "/nowhere/.venv")
	env := nodeByID(m, envID)
	require.NotNil(t, env)
	assert.Equal(t, graph.NodeEnv, env.Type)
	assert.Equal(t, graph.StatusUnknown, env.Status())

	routes := edgesOfType(m, graph.EdgeRoutesTaskTo)
	require.Len(t, routes, 1)
	assert.Equal(t, envID, routes[0].To)
	assert.NotNil(t, nodeByID(m, routes[0].From))
	assert.Equal(t, 2, m.Summary.Environments)
	assert.Equal(t, 1, m.Summary.Healthy)
}

func TestBuild_ClusteredTasks(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/good", graph.StatusGood, 100, "/opt/py"),
		report("/bad", graph.StatusBad, 10, "/opt/py"),
	}
	bad := runOn("tests", "pytest tests/", "/bad", false, codes.ErrImport)
	probe := bad
	probe.DominantIssue = codes.SSLBroken
	runs := []graph.RunRecord{
		runOn("tests", "pytest tests/", "/good", true, ""),
		runOn("tests", "pytest  tests/", "/good", true, ""),
		bad,
		probe,
		probe,
	}
	m := Build(reports, runs, Options{})

	tasks := nodesOfType(m, graph.NodeTask)
	require.Len(t, tasks, 1)
	assert.Equal(t, "tests", tasks[0].Label)
	assert.Equal(t, graph.StatusWarn, tasks[0].Health.Status)
	assert.Equal(t, 40.0, *tasks[0].Health.Score)

	routes := edgesOfType(m, graph.EdgeRoutesTaskTo)
	require.Len(t, routes, 2)
	assert.Equal(t, 2, routes[0].Weight)
	assert.Equal(t, 3, routes[1].Weight)
	assert.Equal(t, 2, routes[0].Meta[graph.MetaRuns])
	assert.Equal(t, 3, routes[1].Meta[graph.MetaRuns])

	failed := edgesOfType(m, graph.EdgeFailedRun)
	require.Len(t, failed, 1)
	assert.Equal(t, ident.StableID(ident.KindEnv, "/bad"), failed[0].To)
	assert.Equal(t, 3, failed[0].Weight)
	assert.Equal(t, codes.SSLBroken, failed[0].Label)
	assert.Equal(t, codes.Glyph(codes.SSLBroken), failed[0].Meta[graph.MetaGlyph])

	assert.Equal(t, 2, m.Summary.PassedRuns)
	assert.Equal(t, 3, m.Summary.FailedRuns)
	assert.Equal(t, 1, m.Summary.Tasks)
}

func TestBuild_ClusteredTaskStatus(t *testing.T) {
	tests := []struct {
		name    string
		ok, bad int
		want    graph.Status
	}{
		{"all pass", 4, 0, graph.StatusGood},
		{"all fail", 0, 3, graph.StatusBad},
		{"mixed", 3, 1, graph.StatusWarn},
		{"at good rate", 19, 1, graph.StatusGood},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runs []graph.RunRecord
			for i := 0; i < tt.ok; i++ {
				runs = append(runs, runOn("t", "x", "/e", true, ""))
			}
			for i := 0; i < tt.bad; i++ {
				runs = append(runs, runOn("t", "x", "/e", false, codes.ErrTimeout))
			}
			tasks := nodesOfType(Build(nil, runs, Options{}), graph.NodeTask)
			require.Len(t, tasks, 1)
			assert.Equal(t, tt.want, tasks[0].Health.Status)
		})
	}
}

func TestBuild_PerRunTasks(t *testing.T) {
	runs := []graph.RunRecord{
		runOn("tests", "pytest", "/e", true, ""),
		runOn("tests", "pytest", "/e", false, codes.ErrTimeout),
	}
	runs[0].RunID = "r-1"
	runs[1].RunID = "r-2"

	m := Build(nil, runs, Options{TaskMode: TaskModePerRun})
	tasks := nodesOfType(m, graph.NodeTask)
	require.Len(t, tasks, 2)
	assert.Equal(t, ident.StableID(ident.KindRun, "r-1"), tasks[0].ID)
	assert.Equal(t, graph.StatusGood, tasks[0].Health.Status)
	assert.Equal(t, graph.StatusBad, tasks[1].Health.Status)

	assert.Len(t, edgesOfType(m, graph.EdgeRoutesTaskTo), 2)
	failed := edgesOfType(m, graph.EdgeFailedRun)
	require.Len(t, failed, 1)
	assert.Equal(t, codes.ErrTimeout, failed[0].Label)
}

func TestBuild_PerRunWithoutRunIDIsStable(t *testing.T) {
	runs := []graph.RunRecord{runOn("tests", "pytest", "/e", true, "")}
	a := Build(nil, runs, Options{TaskMode: TaskModePerRun})
	b := Build(nil, runs, Options{TaskMode: TaskModePerRun})
	assert.Equal(t, nodesOfType(a, graph.NodeTask)[0].ID, nodesOfType(b, graph.NodeTask)[0].ID)
}

func TestBuild_TaskModeNoneStillCountsRuns(t *testing.T) {
	runs := []graph.RunRecord{
		runOn("tests", "pytest", "/e", true, ""),
		runOn("tests", "pytest", "/e", false, codes.ErrTimeout),
	}
	m := Build([]graph.EnvironmentReport{report("/e", graph.StatusGood, 100, "")}, runs, Options{TaskMode: TaskModeNone})
	assert.Equal(t, 0, m.Summary.Tasks)
	assert.Empty(t, edgesOfType(m, graph.EdgeRoutesTaskTo))
	assert.Equal(t, 1, m.Summary.PassedRuns)
	assert.Equal(t, 1, m.Summary.FailedRuns)
}

// --- summary ---

func TestBuild_SummaryHealthBucketsCountEnvironmentsOnly(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/a", graph.StatusGood, 100, "/opt/py"),
		report("/b", graph.StatusWarn, 60, "/opt/py"),
		report("/c", graph.StatusBad, 10, "/opt/py"),
		report("/d", graph.StatusBad, 5, "/opt/py"),
	}
	s := Build(reports, nil, Options{}).Summary
	assert.Equal(t, 4, s.Environments)
	assert.Equal(t, 1, s.Bases)
	assert.Equal(t, 1, s.Healthy)
	assert.Equal(t, 1, s.Warning)
	assert.Equal(t, 2, s.Broken)
}

func TestTopIssues(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/a", graph.StatusWarn, 50, "",
			finding(codes.PipMissing, graph.SeverityWarn, 5),
			finding(codes.UserSiteLeak, graph.SeverityWarn, 5),
			finding("note", graph.SeverityInfo, 0),
		),
		report("/b", graph.StatusWarn, 50, "",
			finding(codes.UserSiteLeak, graph.SeverityWarn, 5),
			finding(codes.VersionEOL, graph.SeverityWarn, 5),
		),
		report("/c", graph.StatusWarn, 50, "",
			finding(codes.VersionEOL, graph.SeverityWarn, 5),
			finding("", graph.SeverityBad, 5),
		),
	}
	got := TopIssues(reports, 0)
	want := []graph.TopIssue{
		{Code: codes.UserSiteLeak, Count: 2, Hint: codes.Hint(codes.UserSiteLeak)},
		{Code: codes.VersionEOL, Count: 2, Hint: codes.Hint(codes.VersionEOL)},
		{Code: codes.PipMissing, Count: 1, Hint: codes.Hint(codes.PipMissing)},
		{Code: codes.Unknown, Count: 1, Hint: codes.Hint(codes.Unknown)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TopIssues mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, TopIssues(reports, 2), 2)
}

func TestBuild_MaxTopIssues(t *testing.T) {
	var findings []graph.Finding
	for _, c := range []string{"a", "b", "c", "d"} {
		findings = append(findings, finding(c, graph.SeverityWarn, 1))
	}
	reports := []graph.EnvironmentReport{report("/e", graph.StatusWarn, 50, "", findings...)}
	assert.Len(t, Build(reports, nil, Options{MaxTopIssues: 3}).Summary.TopIssues, 3)
	assert.Len(t, Build(reports, nil, Options{}).Summary.TopIssues, 4)
}

// --- determinism ---

func TestBuild_Deterministic(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/p/a/.venv", graph.StatusGood, 90, "/opt/py311", finding(codes.VersionEOL, graph.SeverityWarn, 3)),
		report("/p/b/.venv", graph.StatusWarn, 50, "/opt/py311", finding(codes.UserSiteLeak, graph.SeverityWarn, 8)),
		report("/p/c/.venv", graph.StatusBad, 30, "/opt/py312", finding(codes.SSLBroken, graph.SeverityBad, 40)),
	}
	runs := []graph.RunRecord{
		runOn("tests", "pytest", "/p/a/.venv", true, ""),
		runOn("tests", "pytest", "/p/c/.venv", false, codes.ErrSSL),
		runOn("lint", "ruff check .", "/p/b/.venv", false, codes.ErrImport),
		runOn("lint", "ruff check .", "/p/z/.venv", true, ""),
	}
	host := graph.Host{OS: "linux", Arch: "amd64", Hostname: "ci-1"}

	for _, mode := range []TaskMode{TaskModeClustered, TaskModePerRun} {
		t.Run(string(mode), func(t *testing.T) {
			first := Build(reports, runs, Options{TaskMode: mode, Host: host, Now: fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))})
			second := Build(reports, runs, Options{TaskMode: mode, Host: host, Now: fixedClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))})

			assert.Equal(t, "2026-01-01T00:00:00Z", first.GeneratedAt)
			assert.NotEqual(t, first.GeneratedAt, second.GeneratedAt)

			second.GeneratedAt = first.GeneratedAt
			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("builds differ beyond GeneratedAt (-first +second):\n%s", diff)
			}
		})
	}
}

func TestShortLabel(t *testing.T) {
	tests := map[string]string{
		"/home/u/proj/.venv":      "proj/.venv",
		`C:\envs\proj\python.exe`: "proj/python.exe",
		"/usr/":                   "/usr",
		"python":                  "python",
		"":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, shortLabel(in), "shortLabel(%q)", in)
	}
}
