package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var insightsJSON bool

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Print fleet insights without writing artifacts",
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
		if insightsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot.Insights)
		}
		printInsights(cmd.OutOrStdout(), snapshot.Insights)
		return nil
	},
}

func init() {
	insightsCmd.Flags().BoolVar(&insightsJSON, "json", false, "print insights as JSON")
	rootCmd.AddCommand(insightsCmd)
}
