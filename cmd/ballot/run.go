package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/polzovatel/ballot-runner/internal/agent"
	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/config"
	"github.com/polzovatel/ballot-runner/internal/logging"
	"github.com/polzovatel/ballot-runner/internal/operator"
	"github.com/polzovatel/ballot-runner/internal/profile"
	"github.com/polzovatel/ballot-runner/internal/selectors"
	"github.com/polzovatel/ballot-runner/internal/snapshot"
	"github.com/polzovatel/ballot-runner/internal/solver"
)

func newRunCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ballot workflow for every usable profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.catalog, "catalog", "", "selector catalog override (YAML)")
	f.BoolVar(&opts.headless, "headless", false, "run the browser without a window")
	f.DurationVar(&opts.cooldown, "cooldown", 0, "pause between profiles (default $PROFILE_COOLDOWN or 30s)")
	f.StringVar(&opts.snapshots, "snapshots", "", "snapshot directory, empty string disables (default $SNAPSHOT_DIR or snapshots)")
	f.BoolVar(&opts.noSolver, "no-solver", false, "never call the captcha solver, always ask the operator")
	return cmd
}

func runBatch(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	runID, closer := logging.Setup(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set, err := profile.LoadFile(cfg.ProfilesFile, log.With().Str("comp", "profiles").Logger())
	if err != nil {
		return err
	}
	if len(set.Profiles) == 0 {
		return fmt.Errorf("no usable profiles in %s", cfg.ProfilesFile)
	}

	cat, err := selectors.Load(cfg.CatalogFile)
	if err != nil {
		return err
	}

	var sv solver.Client
	if cfg.SolverEnabled() {
		cs, err := solver.NewCapSolver(solver.Options{
			APIKey:  cfg.SolverKey,
			BaseURL: cfg.SolverURL,
			Timeout: cfg.SolverTimeout,
			Logger:  log.With().Str("comp", "solver").Logger(),
		})
		if err != nil {
			return fmt.Errorf("solver: %w", err)
		}
		sv = cs
	} else {
		log.Warn().Msg("captcha solver disabled, captchas will wait for the operator")
	}

	opLog := log.With().Str("comp", "operator").Logger()
	term := operator.NewTerminal(os.Stdin, os.Stdout, cfg.OperatorTimeout, opLog)
	defer term.Close()

	launcher, err := browser.NewLauncher(ctx, browser.Options{Headless: cfg.Headless})
	if err != nil {
		return fmt.Errorf("browser init: %w", err)
	}
	defer launcher.Close()

	rec := snapshot.NewRecorder(cfg.SnapshotDir, runID, log.With().Str("comp", "snapshot").Logger())
	runner := agent.NewRunner(agent.SettingsFrom(cfg), cat, sv, audited(term, opLog), rec, log.With().Str("comp", "runner").Logger())
	orch := agent.NewOrchestrator(
		agent.Config{Cooldown: cfg.Cooldown},
		runner,
		launcher,
		log.With().Str("comp", "orch").Logger(),
	)

	profiles := make([]*profile.Profile, len(set.Profiles))
	for i := range set.Profiles {
		profiles[i] = &set.Profiles[i]
	}
	sum := orch.Run(ctx, profiles)
	sum.Report(log.With().Str("comp", "report").Logger())

	if err := ctx.Err(); err != nil {
		return errors.New("run interrupted")
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d profiles failed", sum.Failed, sum.Total)
	}
	return nil
}

// audited records every operator suspension in the run log.
func audited(op operator.Operator, logger zerolog.Logger) operator.Operator {
	return operator.PromptFunc(func(ctx context.Context, prompt string) (string, error) {
		logger.Warn().Str("prompt", prompt).Msg("waiting for operator")
		start := time.Now()
		answer, err := op.Await(ctx, prompt)
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Dur("waited", time.Since(start)).Bool("answered", answer != "").Msg("operator returned")
		return answer, err
	})
}
