package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shaneisley/sigmashift/pkg/config"
	"github.com/shaneisley/sigmashift/pkg/daemon"
	"github.com/shaneisley/sigmashift/pkg/history"
	"github.com/shaneisley/sigmashift/pkg/logging"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/shaneisley/sigmashift/pkg/schedulers"
	"github.com/shaneisley/sigmashift/pkg/shift"
	"github.com/shaneisley/sigmashift/pkg/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// flagKeys maps CLI flag names to configuration keys
var flagKeys = map[string]string{
	"model":      "model",
	"scheduler":  "scheduler",
	"steps-high": "steps_high",
	"steps-low":  "steps_low",
	"boundary":   "boundary",
	"interval":   "interval",
	"denoise":    "denoise",
	"format":     "format",
	"presets":    "presets_file",
	"cache":      "cache_path",
	"no-cache":   "no_cache",
	"log-level":  "log_level",
	"socket":     "socket_path",
	"rate-limit": "rate_limit",
	"rate-burst": "rate_burst",
}

// app holds the state shared by the root command and its subcommands
type app struct {
	flagConfig  config.Config
	configFile  string
	configPath  string
	debugConfig bool
	quiet       bool
	// explicit holds the config keys set by flags on this invocation
	explicit map[string]bool

	cfg      *config.Config
	logger   *logging.Logger
	reporter *ui.Reporter
	stdout   io.Writer
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "sigmashift [flags]",
		Short: "Find the sampling shift that splits a two-stage sigma schedule at a boundary",
		Long: `sigmashift searches for the smallest shift at which the first low-stage sigma
of a two-stage (high-noise/low-noise) sampling schedule reaches a boundary value,
then splits the schedule at that point. Both stages share the boundary sigma.

Configuration precedence (highest to lowest):
1. CLI flags
2. Environment variables (SIGMASHIFT_*)
3. Configuration file
4. Default values

The tool looks for configuration files in the following order:
1. File specified by --config flag
2. .sigmashift.toml or sigmashift.toml in current directory
3. .sigmashift.toml or sigmashift.toml in home directory

EXAMPLES:
  # Default Wan 2.2 split: 4 high + 4 low steps at boundary 0.875
  sigmashift

  # Beta scheduler with more low-noise steps, JSON output
  sigmashift --scheduler beta --steps-high 3 --steps-low 7 --format json

  # Partial denoise for a refine pass
  sigmashift --denoise 0.6

  # Environment variable usage
  SIGMASHIFT_BOUNDARY=0.9 sigmashift --model wan21`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
		RunE: a.runSearch,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Configuration file path")
	flags.BoolVar(&a.debugConfig, "debug-config", false, "Show configuration resolution debug information")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress diagnostics on stderr")

	flags.StringVarP(&a.flagConfig.Model, "model", "m", "", "Model preset (default: wan22)")
	flags.StringVarP(&a.flagConfig.Scheduler, "scheduler", "s", "", "Scheduler (default: simple)")
	flags.IntVar(&a.flagConfig.StepsHigh, "steps-high", 0, "High-noise stage steps (default: 4, range: 1-99)")
	flags.IntVar(&a.flagConfig.StepsLow, "steps-low", 0, "Low-noise stage steps (default: 4, range: 1-99)")
	flags.Float64VarP(&a.flagConfig.Boundary, "boundary", "b", 0, "Target boundary sigma (default: 0.875, range: 0-0.999)")
	flags.Float64Var(&a.flagConfig.Interval, "interval", 0, "Shift search step (default: 0.01, range: 0.01-1)")
	flags.Float64VarP(&a.flagConfig.Denoise, "denoise", "d", 0, "Denoise fraction (default: 1.0, range: 0.01-1.0)")
	flags.StringVarP(&a.flagConfig.Format, "format", "f", "", "Output format: text or json (default: text)")
	flags.StringVar(&a.flagConfig.PresetsFile, "presets", "", "YAML file with additional or overriding model presets")
	flags.StringVar(&a.flagConfig.CachePath, "cache", "", "Result cache database (default: ~/.sigmashift/history.db)")
	flags.BoolVar(&a.flagConfig.NoCache, "no-cache", false, "Do not read or write the result cache")
	flags.StringVar(&a.flagConfig.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: warn)")
	flags.StringVar(&a.flagConfig.SocketPath, "socket", "", "Daemon socket path")

	rootCmd.AddCommand(
		a.newSigmasCommand(),
		a.newSchedulersCommand(),
		a.newSweepCommand(),
		a.newPlotCommand(),
		a.newHistoryCommand(),
		a.newServeCommand(),
		a.newQueryCommand(),
	)

	return rootCmd
}

// setup resolves configuration and builds the logger and reporter
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfiguration(cmd)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := logging.New("cli", level)
	if err != nil {
		return err
	}
	a.logger = logger.WithComponent(cmd.Name())

	a.stdout = cmd.OutOrStdout()
	a.reporter = ui.NewReporter(cmd.ErrOrStderr())
	a.reporter.SetQuiet(a.quiet)
	return nil
}

// loadConfiguration loads configuration with full precedence support
func (a *app) loadConfiguration(cmd *cobra.Command) (*config.Config, error) {
	a.configPath = a.configFile
	if a.configPath == "" {
		cwd, _ := os.Getwd()
		if found := config.FindConfigFile(cwd); found != "" {
			a.configPath = found
		} else if homeDir, err := os.UserHomeDir(); err == nil {
			a.configPath = config.FindConfigFile(homeDir)
		}
	}

	var effectiveFlagConfig *config.Config
	var explicitFields map[string]bool
	for flagName, key := range flagKeys {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			if explicitFields == nil {
				explicitFields = make(map[string]bool)
				effectiveFlagConfig = &a.flagConfig
			}
			explicitFields[key] = true
		}
	}

	a.explicit = explicitFields

	finalConfig, debugInfo, err := config.LoadWithPrecedenceAndExplicitFlags(a.configPath, effectiveFlagConfig, explicitFields, a.debugConfig)
	if err != nil {
		return nil, err
	}

	if a.debugConfig && debugInfo != nil {
		debugInfo.PrintDebugInfo()
		fmt.Println()
	}

	return finalConfig, nil
}

// newService builds an in-process search service over the configured presets
// and cache. A cache that cannot be opened is reported and skipped.
func (a *app) newService() (*daemon.Service, func(), error) {
	presets, err := sampling.LoadPresets(a.cfg.PresetsFile)
	if err != nil {
		return nil, nil, err
	}

	opts := []daemon.ServiceOption{daemon.WithServiceLogger(a.logger)}
	closeFn := func() {}
	if !a.cfg.NoCache {
		path := a.cfg.CachePath
		if path == "" {
			path = history.DefaultPath()
		}
		store, err := history.Open(path)
		if err != nil {
			a.reporter.Warn("result cache unavailable: %v", err)
			a.logger.Warn("result cache unavailable", zap.Error(err))
		} else {
			opts = append(opts, daemon.WithStore(store))
			closeFn = func() { store.Close() }
		}
	}

	return daemon.NewService(presets, schedulers.NewEvaluator(), opts...), closeFn, nil
}

// search runs the configured search and reports diagnostics
func (a *app) search(ctx context.Context) (*shift.Result, error) {
	svc, closeFn, err := a.newService()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	start := time.Now()
	outcome, err := svc.Search(ctx, a.cfg.Model, a.cfg.Request(), !a.cfg.NoCache, a.logger)
	if err != nil {
		return nil, err
	}

	a.reporter.SearchSummary(outcome.Result, ui.SearchStats{
		Model:   a.cfg.Model,
		Elapsed: time.Since(start),
		Cached:  outcome.Cached,
	})
	return outcome.Result, nil
}

func (a *app) runSearch(cmd *cobra.Command, args []string) error {
	result, err := a.search(cmd.Context())
	if err != nil {
		return err
	}
	return ui.WriteResult(a.stdout, result, a.cfg.Format)
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
