package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/server"
)

var (
	serveWatch    bool
	serveDebounce time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the map over MCP on stdio",
	Long: `Start an MCP server on stdio exposing the environment map as resources
(envmap://map/graph, /insights, /diagram, /report, /meta) and tools
(generate_map, query_nodes, explore_node, failing_envs, record_run).

With --watch the map is regenerated whenever report files or the run history
change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, eng, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// Queries work immediately when a previous run left artifacts behind.
		if ok, err := eng.LoadExisting(); err != nil {
			log.Printf("[main] warning: failed to load existing map: %v", err)
		} else if ok {
			log.Printf("[main] loaded existing map from %s", eng.OutputDir())
		}

		if serveWatch {
			if _, err := eng.Generate(ctx); err != nil {
				log.Printf("[main] initial generation failed: %v", err)
			}
			go func() {
				err := eng.Watch(ctx, serveDebounce, func(s *graph.Snapshot, err error) {
					if err != nil {
						log.Printf("[main] regeneration failed: %v", err)
						return
					}
					log.Printf("[main] map refreshed: %d nodes, %d insights", len(s.Map.Nodes), len(s.Insights))
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("[main] watch stopped: %v", err)
				}
			}()
		}

		srv, err := server.New(eng, cfg)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "regenerate the map when inputs change")
	serveCmd.Flags().DurationVar(&serveDebounce, "debounce", 500*time.Millisecond, "quiet period before regenerating in watch mode")
	rootCmd.AddCommand(serveCmd)
}
