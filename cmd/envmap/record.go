package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dejo1307/envmap/internal/graph"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append one task run to the run history",
	Long: `Append a run record to the configured history file. The record is built
from flags, or read as JSON from a file (use - for stdin) with --from.

Examples:
  envmap record --task tests --cmd "pytest -q" --env /srv/app/.venv --success
  envmap record --cmd "pytest -q" --env /srv/app/.venv --error-code import_error
  envmap record --from run.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, eng, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		var rec graph.RunRecord
		if from, _ := cmd.Flags().GetString("from"); from != "" {
			rec, err = readRecord(from, cmd.InOrStdin())
		} else {
			rec, err = recordFromFlags(cmd)
		}
		if err != nil {
			return err
		}
		if err := eng.RecordRun(&rec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s\n", rec.RunID)
		return nil
	},
}

func init() {
	f := recordCmd.Flags()
	f.String("task", "", "task name")
	f.String("cmd", "", "command that was run")
	f.String("env", "", "interpreter path the task ran in")
	f.Bool("success", false, "the run succeeded")
	f.Int("exit-code", 0, "process exit code")
	f.Int64("duration-ms", 0, "run duration in milliseconds")
	f.String("error-code", "", "failure code, e.g. import_error")
	f.String("dominant-issue", "", "probe finding blamed for the failure")
	f.String("diagnostic", "", "short failure message")
	f.StringSlice("tag", nil, "requirement tag (repeatable)")
	f.String("from", "", "read the record as JSON from this file (- for stdin)")
	rootCmd.AddCommand(recordCmd)
}

func recordFromFlags(cmd *cobra.Command) (graph.RunRecord, error) {
	f := cmd.Flags()
	rec := graph.RunRecord{}
	rec.Task.Name, _ = f.GetString("task")
	rec.Task.Command, _ = f.GetString("cmd")
	rec.Env.Path, _ = f.GetString("env")
	rec.Outcome.Success, _ = f.GetBool("success")
	rec.Outcome.ExitCode, _ = f.GetInt("exit-code")
	rec.Outcome.DurationMS, _ = f.GetInt64("duration-ms")
	rec.Outcome.ErrorCode, _ = f.GetString("error-code")
	rec.Outcome.Diagnostic, _ = f.GetString("diagnostic")
	rec.DominantIssue, _ = f.GetString("dominant-issue")
	if tags, _ := f.GetStringSlice("tag"); len(tags) > 0 {
		rec.Task.Requires = &graph.Requirements{Tags: tags}
	}
	if rec.Outcome.Success && (rec.Outcome.ErrorCode != "" || rec.Outcome.ExitCode != 0) {
		return rec, fmt.Errorf("--success conflicts with --error-code/--exit-code")
	}
	return rec, nil
}

func readRecord(from string, stdin io.Reader) (graph.RunRecord, error) {
	var rec graph.RunRecord
	r := stdin
	if from != "-" {
		f, err := os.Open(from)
		if err != nil {
			return rec, fmt.Errorf("opening %s: %w", from, err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return rec, fmt.Errorf("decoding run record: %w", err)
	}
	return rec, nil
}
