// Command envmap maps the health of a fleet of interpreter environments and
// the tasks routed to them, and serves the result over MCP.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dejo1307/envmap/internal/config"
	"github.com/dejo1307/envmap/internal/engine"
	"github.com/dejo1307/envmap/internal/explainers/health"
	"github.com/dejo1307/envmap/internal/explainers/tasks"
	"github.com/dejo1307/envmap/internal/renderers/mermaid"
	"github.com/dejo1307/envmap/internal/renderers/promtext"
	"github.com/dejo1307/envmap/internal/renderers/report"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "envmap",
	Short: "Map interpreter environment health and task routing",
	Long: `envmap reads interpreter health reports and task run history and builds
a map of base interpreters, the environments derived from them, and the tasks
that run on those environments. It explains systemic risks and renders the
map as JSON, a Mermaid diagram, a markdown digest and Prometheus text.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "envmap.yaml", "path to the configuration file")
}

func main() {
	// Log output goes to stderr, never stdout (MCP uses stdout for JSON-RPC).
	log.SetOutput(os.Stderr)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads cfgPath, falling back to defaults when the file is absent.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		return config.Default(), nil
	}
	return cfg, err
}

// setupLogging tees the log to a rotating file when one is configured.
func setupLogging(cfg *config.Config) io.Closer {
	if cfg.Log.File == "" {
		return nopCloser{}
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotating))
	return rotating
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newEngine builds an engine with every explainer and renderer registered;
// the config decides which of them run.
func newEngine(cfg *config.Config) (*engine.Engine, error) {
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	eng.RegisterExplainer(health.New())
	eng.RegisterExplainer(tasks.New())

	eng.RegisterRenderer(mermaid.New(eng.DiagramOptions()))
	eng.RegisterRenderer(report.New(cfg.Output.MaxReportTokens))
	eng.RegisterRenderer(promtext.New())
	return eng, nil
}

// setup is the common prologue of every subcommand.
func setup() (*config.Config, *engine.Engine, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	closer := setupLogging(cfg)
	eng, err := newEngine(cfg)
	if err != nil {
		closer.Close()
		return nil, nil, nil, err
	}
	return cfg, eng, closer, nil
}
