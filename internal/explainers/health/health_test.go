package health

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/envmap/internal/builder"
	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/explainers"
	"github.com/dejo1307/envmap/internal/graph"
)

// --- helpers ---

func report(path string, status graph.Status, base string, findingCodes ...string) graph.EnvironmentReport {
	r := graph.EnvironmentReport{Path: path, Status: status, Score: 50}
	if base != "" {
		r.Facts = &graph.ReportFacts{BasePrefix: base}
	}
	for _, c := range findingCodes {
		r.Findings = append(r.Findings, graph.Finding{Code: c, Severity: graph.SeverityWarn, Penalty: 5})
	}
	return r
}

func explain(t *testing.T, reports []graph.EnvironmentReport) []graph.Insight {
	t.Helper()
	m := builder.Build(reports, nil, builder.Options{})
	insights, err := New().Explain(context.Background(), explainers.NewInput(m, reports, nil))
	require.NoError(t, err)
	return insights
}

func byRule(insights []graph.Insight, rule string) []graph.Insight {
	var out []graph.Insight
	for _, in := range insights {
		if in.Meta["rule"] == rule {
			out = append(out, in)
		}
	}
	return out
}

// --- top issue ---

func TestTopIssue(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		wantSev graph.InsightSeverity
	}{
		{"below threshold", 2, graph.InsightMedium},
		{"at threshold", 3, graph.InsightHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reports []graph.EnvironmentReport
			for i := 0; i < tt.count; i++ {
				reports = append(reports, report(fmt.Sprintf("/e%d", i), graph.StatusWarn, "", codes.VersionEOL))
			}
			got := byRule(explain(t, reports), RuleTopIssue)
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantSev, got[0].Severity)
			assert.Equal(t, codes.VersionEOL, got[0].Meta["code"])
			assert.Contains(t, got[0].Text, codes.VersionEOL)
		})
	}
}

func TestTopIssue_NoneWithoutFindings(t *testing.T) {
	got := explain(t, []graph.EnvironmentReport{report("/e", graph.StatusGood, "")})
	assert.Empty(t, got)
}

// --- blast radius ---

func TestBlastRadius(t *testing.T) {
	tests := []struct {
		name     string
		statuses []graph.Status
		want     bool
	}{
		{"two of three bad", []graph.Status{graph.StatusBad, graph.StatusBad, graph.StatusGood}, true},
		{"one of three bad", []graph.Status{graph.StatusBad, graph.StatusGood, graph.StatusGood}, false},
		{"two of four bad", []graph.Status{graph.StatusBad, graph.StatusGood, graph.StatusBad, graph.StatusWarn}, true},
		{"two children only", []graph.Status{graph.StatusBad, graph.StatusBad}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reports []graph.EnvironmentReport
			for i, st := range tt.statuses {
				reports = append(reports, report(fmt.Sprintf("/proj/e%d", i), st, "/opt/X"))
			}
			got := byRule(explain(t, reports), RuleBlastRadius)
			if !tt.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, graph.InsightHigh, got[0].Severity)
			assert.Equal(t, "/opt/X", got[0].Meta["path"])
			assert.Contains(t, got[0].Text, "opt/X")
		})
	}
}

func TestBlastRadius_NamesBaseAndRatio(t *testing.T) {
	reports := []graph.EnvironmentReport{
		report("/a", graph.StatusBad, "/opt/X"),
		report("/b", graph.StatusBad, "/opt/X"),
		report("/c", graph.StatusGood, "/opt/X"),
	}
	got := byRule(explain(t, reports), RuleBlastRadius)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "2/3")
	assert.Equal(t, 2, got[0].Meta["bad"])
	assert.Equal(t, 3, got[0].Meta["total"])
}

// --- hygiene ---

func TestHygiene(t *testing.T) {
	tests := []struct {
		name    string
		reports []graph.EnvironmentReport
		want    bool
	}{
		{
			name: "two leaks",
			reports: []graph.EnvironmentReport{
				report("/a", graph.StatusWarn, "", codes.UserSiteLeak),
				report("/b", graph.StatusWarn, "", codes.UserSiteLeak),
			},
			want: true,
		},
		{
			name: "two injected paths",
			reports: []graph.EnvironmentReport{
				report("/a", graph.StatusWarn, "", codes.PathInjected),
				report("/b", graph.StatusWarn, "", codes.PathInjected),
			},
			want: true,
		},
		{
			name: "one of each",
			reports: []graph.EnvironmentReport{
				report("/a", graph.StatusWarn, "", codes.PathInjected),
				report("/b", graph.StatusWarn, "", codes.UserSiteLeak),
			},
			want: false,
		},
		{
			name: "case and whitespace folded",
			reports: []graph.EnvironmentReport{
				report("/a", graph.StatusWarn, "", "User_Site_Leak"),
				report("/b", graph.StatusWarn, "", " user_site_leak "),
			},
			want: true,
		},
		{
			name: "repeated in one report",
			reports: []graph.EnvironmentReport{
				report("/a", graph.StatusWarn, "", codes.UserSiteLeak, codes.UserSiteLeak),
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := byRule(explain(t, tt.reports), RuleHygiene)
			if !tt.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, graph.InsightHigh, got[0].Severity)
		})
	}
}

// --- entropy ---

func TestEntropy(t *testing.T) {
	eight := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"}

	spread := func(n int, all []string) []graph.EnvironmentReport {
		reports := make([]graph.EnvironmentReport, n)
		for i := range reports {
			reports[i] = report(fmt.Sprintf("/e%d", i), graph.StatusWarn, "")
		}
		for i, c := range all {
			r := &reports[i%n]
			r.Findings = append(r.Findings, graph.Finding{Code: c, Severity: graph.SeverityWarn})
		}
		return reports
	}

	got := byRule(explain(t, spread(5, eight)), RuleEntropy)
	require.Len(t, got, 1)
	assert.Equal(t, graph.InsightMedium, got[0].Severity)

	assert.Empty(t, byRule(explain(t, spread(4, eight)), RuleEntropy), "too few reports")
	assert.Empty(t, byRule(explain(t, spread(5, eight[:7])), RuleEntropy), "too few codes")
}

func TestEntropy_IgnoresInfoFindings(t *testing.T) {
	reports := make([]graph.EnvironmentReport, 5)
	for i := range reports {
		reports[i] = report(fmt.Sprintf("/e%d", i), graph.StatusGood, "")
	}
	for i := 0; i < 8; i++ {
		reports[0].Findings = append(reports[0].Findings, graph.Finding{Code: fmt.Sprintf("info%d", i), Severity: graph.SeverityInfo})
	}
	assert.Empty(t, byRule(explain(t, reports), RuleEntropy))
}

func TestEntropy_FoldsCodeSpellings(t *testing.T) {
	reports := make([]graph.EnvironmentReport, 5)
	for i := range reports {
		reports[i] = report(fmt.Sprintf("/e%d", i), graph.StatusWarn, "")
	}
	// c1..c6 plus unknown: seven distinct codes once spellings are folded.
	spellings := []string{"c1", "c2", "c3", "c4", "c5", "c6", "C1", "", "unknown"}
	for i, c := range spellings {
		r := &reports[i%len(reports)]
		r.Findings = append(r.Findings, graph.Finding{Code: c, Severity: graph.SeverityWarn})
	}
	assert.Empty(t, byRule(explain(t, reports), RuleEntropy))

	reports[0].Findings = append(reports[0].Findings, graph.Finding{Code: "c7", Severity: graph.SeverityWarn})
	got := byRule(explain(t, reports), RuleEntropy)
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].Meta["codes"])
}
