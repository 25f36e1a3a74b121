// Command macrosim runs the agent-based economy as a live HTTP service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/macrosim/internal/api"
	"github.com/talgya/macrosim/internal/calibration"
	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/engine"
	"github.com/talgya/macrosim/internal/entropy"
	"github.com/talgya/macrosim/internal/llm"
	"github.com/talgya/macrosim/internal/logging"
	"github.com/talgya/macrosim/internal/persistence"
	"github.com/talgya/macrosim/internal/scenario"
)

type options struct {
	configPath   string
	scenarioPath string
	startPreset  string
	noArchive    bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "macrosim",
		Short:         "Serve a live agent-based macroeconomy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "macrosim.toml", "TOML configuration file")
	cmd.Flags().StringVar(&opts.scenarioPath, "scenarios", "", "YAML file of extra scenario presets")
	cmd.Flags().StringVar(&opts.startPreset, "scenario", "", "apply this preset before the first step")
	cmd.Flags().BoolVar(&opts.noArchive, "no-archive", false, "do not record steps to the database")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("macrosim failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, os.Stderr)
	slog.Info("macrosim starting", "config", opts.configPath)

	calibration.LoadInto(cfg.CalibrationPath, &cfg)

	// ── Seed ──────────────────────────────────────────────────────────
	if cfg.Simulation.RandomSeed {
		src := entropy.NewClient(cfg.Simulation.EntropyKey)
		seed, err := src.Seed(ctx)
		if err != nil {
			return fmt.Errorf("draw seed: %w", err)
		}
		cfg.Simulation.Seed = seed
		slog.Info("random seed drawn", "seed", seed, "random_org", src.Enabled())
	}

	// ── Scenarios ─────────────────────────────────────────────────────
	lib := scenario.NewLibrary()
	if opts.scenarioPath != "" {
		if lib, err = scenario.LoadFile(opts.scenarioPath); err != nil {
			return err
		}
	}

	// ── Narration ─────────────────────────────────────────────────────
	var econOpts []engine.Option
	if client := llm.NewClient(cfg.Narration.APIKey); client != nil {
		narrator, err := llm.NewNarrator(client, cfg.Narration.CacheSize)
		if err != nil {
			return err
		}
		econOpts = append(econOpts, engine.WithNarrator(narrator))
		slog.Info("LLM narration enabled")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, narratives will use the template")
	}

	econ, err := engine.New(cfg, econOpts...)
	if err != nil {
		return err
	}
	if opts.startPreset != "" {
		p, err := lib.Get(opts.startPreset)
		if err != nil {
			return err
		}
		if err := scenario.Apply(econ, p); err != nil {
			return err
		}
		opts.startPreset = p.Key
	}
	slog.Info("economy ready",
		"households", cfg.Simulation.Households,
		"firms", cfg.Simulation.Firms,
		"seed", cfg.Simulation.Seed,
	)

	// ── Archive ───────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Storage.Path != "" && !opts.noArchive {
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err = persistence.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Storage.Path)
	}

	// ── Engine + API ──────────────────────────────────────────────────
	eng := engine.NewEngine(econ)
	eng.SetInterval(time.Duration(cfg.Server.IntervalMS) * time.Millisecond)
	eng.SetSpeed(cfg.Server.Speed)

	srv := api.NewServer(eng, db, lib)
	srv.Port = cfg.Server.Port
	srv.AdminKey = cfg.Server.AdminKey
	srv.CORSOrigins = cfg.Server.CORSOrigins
	if srv.AdminKey == "" {
		slog.Warn("MACROSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	if err := srv.StartRun("live", opts.startPreset); err != nil {
		return err
	}
	eng.OnStep = srv.Publish
	eng.Commit = srv.Archive

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	fmt.Printf("\nmacrosim is live: %d households, %d firms, seed %d.\n",
		cfg.Simulation.Households, cfg.Simulation.Firms, cfg.Simulation.Seed)
	fmt.Printf("API: http://localhost:%d/api/v1/state\n", cfg.Server.Port)
	fmt.Println("Stepping... (Ctrl+C to stop)")

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println("Simulation stopped.")
	return nil
}
