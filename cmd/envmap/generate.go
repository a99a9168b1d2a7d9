package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dejo1307/envmap/internal/graph"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build the map once and write its artifacts",
	Long: `Load reports and run history, build the environment map, synthesize
insights, and write graph.json, insights.json, map.mmd and the renderer
artifacts to the output directory (subject to output.mode).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, eng, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		snapshot, err := eng.Generate(ctx)
		if err != nil {
			return fmt.Errorf("map generation failed: %w", err)
		}
		if err := eng.WriteArtifacts(); err != nil {
			return fmt.Errorf("writing artifacts: %w", err)
		}
		printSummary(os.Stderr, snapshot, eng.OutputDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

// statusColor colors s by the health it names.
func statusColor(s graph.Status) func(a ...interface{}) string {
	switch s {
	case graph.StatusGood:
		return color.New(color.FgGreen).SprintFunc()
	case graph.StatusWarn:
		return color.New(color.FgYellow).SprintFunc()
	case graph.StatusBad:
		return color.New(color.FgRed).SprintFunc()
	}
	return color.New(color.FgHiBlack).SprintFunc()
}

// severityColor colors insight severities.
func severityColor(s graph.InsightSeverity) func(a ...interface{}) string {
	switch s {
	case graph.InsightHigh:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case graph.InsightMedium:
		return color.New(color.FgYellow).SprintFunc()
	}
	return color.New(color.FgCyan).SprintFunc()
}

func printSummary(w io.Writer, snapshot *graph.Snapshot, outDir string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	sum := snapshot.Map.Summary

	fmt.Fprintf(w, "\n%s\n", cyan("Environment map complete:"))
	fmt.Fprintf(w, "  Environments: %d (%s, %s, %s)\n", sum.Environments,
		statusColor(graph.StatusGood)(fmt.Sprintf("%d good", sum.Healthy)),
		statusColor(graph.StatusWarn)(fmt.Sprintf("%d warn", sum.Warning)),
		statusColor(graph.StatusBad)(fmt.Sprintf("%d bad", sum.Broken)))
	fmt.Fprintf(w, "  Bases:        %d\n", sum.Bases)
	fmt.Fprintf(w, "  Tasks:        %d\n", sum.Tasks)
	fmt.Fprintf(w, "  Runs:         %d passed, %d failed\n", sum.PassedRuns, sum.FailedRuns)
	fmt.Fprintf(w, "  Insights:     %d\n", snapshot.Meta.InsightCount)
	fmt.Fprintf(w, "  Artifacts:    %d\n", len(snapshot.Artifacts))
	fmt.Fprintf(w, "  Duration:     %s\n", snapshot.Meta.Duration)
	fmt.Fprintf(w, "  Output:       %s\n", outDir)
	if len(sum.TopIssues) > 0 {
		fmt.Fprintf(w, "\n%s\n", cyan("Top issues:"))
		for _, ti := range sum.TopIssues {
			fmt.Fprintf(w, "  %-24s %3d  %s\n", ti.Code, ti.Count, ti.Hint)
		}
	}
	fmt.Fprintln(w)
	printInsights(w, snapshot.Insights)
}

func printInsights(w io.Writer, insights []graph.Insight) {
	for _, in := range insights {
		tag := severityColor(in.Severity)(fmt.Sprintf("[%s]", in.Severity))
		fmt.Fprintf(w, "%s %s\n", tag, in.Text)
	}
}
