package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polzovatel/ballot-runner/internal/config"
)

type cliOptions struct {
	profiles  string
	catalog   string
	headless  bool
	cooldown  time.Duration
	snapshots string
	noSolver  bool
	logLevel  string
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "ballot",
		Short:         "Walk ballot registration profiles through the application workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.profiles, "profiles", "", "profile CSV file (default $PROFILES_FILE or profiles.csv)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.AddCommand(newRunCmd(opts), newProfilesCmd(opts))
	return root
}

// loadConfig reads the environment and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("profiles") {
		cfg.ProfilesFile = opts.profiles
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("catalog") {
		cfg.CatalogFile = opts.catalog
	}
	if flags.Changed("headless") {
		cfg.Headless = opts.headless
	}
	if flags.Changed("cooldown") {
		cfg.Cooldown = opts.cooldown
	}
	if flags.Changed("snapshots") {
		cfg.SnapshotDir = opts.snapshots
	}
	if opts.noSolver {
		cfg.AutoSolve = false
	}
	return cfg, cfg.Validate()
}
