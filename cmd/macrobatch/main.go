// Command macrobatch runs the economy offline: Monte-Carlo batches over
// seeds, policy search, and inspection of archived runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/macrosim/internal/calibration"
	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/logging"
	"github.com/talgya/macrosim/internal/scenario"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath   string
	scenarioPath string
	logLevel     string
	asJSON       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("macrobatch failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "macrobatch",
		Short:         "Batch runs, policy search and run archive for macrosim",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "macrosim.toml", "TOML configuration file")
	root.PersistentFlags().StringVar(&g.scenarioPath, "scenarios", "", "YAML file of extra scenario presets")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&g.asJSON, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newRunCmd(g),
		newSearchCmd(g),
		newScenariosCmd(g),
		newHistoryCmd(g),
	)
	return root
}

// load reads configuration and calibration and installs the logger on
// stderr so stdout stays clean for results.
func (g *globals) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	level := cfg.LogLevel
	if g.logLevel != "" {
		level = g.logLevel
	}
	logging.Setup(level, cmd.ErrOrStderr())
	calibration.LoadInto(cfg.CalibrationPath, &cfg)
	return cfg, nil
}

func (g *globals) library() (*scenario.Library, error) {
	if g.scenarioPath == "" {
		return scenario.NewLibrary(), nil
	}
	return scenario.LoadFile(g.scenarioPath)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
