package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shaneisley/sigmashift/pkg/chart"
	"github.com/shaneisley/sigmashift/pkg/daemon"
	"github.com/shaneisley/sigmashift/pkg/history"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/shaneisley/sigmashift/pkg/schedulers"
	"github.com/shaneisley/sigmashift/pkg/shift"
	"github.com/shaneisley/sigmashift/pkg/sweep"
	"github.com/shaneisley/sigmashift/pkg/ui"
	"github.com/spf13/cobra"
)

// newSigmasCommand creates the sigmas subcommand
func (a *app) newSigmasCommand() *cobra.Command {
	var shiftValue float64
	var steps int

	cmd := &cobra.Command{
		Use:   "sigmas [SCHEDULER] --shift X",
		Short: "Print the sigma sequence of a scheduler at a fixed shift",
		Long: `Print the sigma sequence a scheduler produces for the model at a fixed shift,
without searching. Any scheduler in the catalog is accepted here, including
those that ignore shift. The scheduler defaults to the configured one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("shift") {
				return fmt.Errorf("--shift is required")
			}
			scheduler := a.cfg.Scheduler
			if len(args) == 1 {
				scheduler = args[0]
			}
			if steps == 0 {
				steps = a.cfg.StepsHigh + a.cfg.StepsLow
			}

			presets, err := sampling.LoadPresets(a.cfg.PresetsFile)
			if err != nil {
				return err
			}
			model, err := sampling.LookupModel(presets, a.cfg.Model)
			if err != nil {
				return err
			}
			params, err := model.WithShift(shiftValue)
			if err != nil {
				return err
			}
			sigmas, err := schedulers.Calculate(params, scheduler, steps)
			if err != nil {
				return err
			}
			return ui.WriteSigmas(a.stdout, sigmas, a.cfg.Format)
		},
	}
	cmd.Flags().Float64Var(&shiftValue, "shift", 0, "Shift to sample at")
	cmd.Flags().IntVarP(&steps, "steps", "n", 0, "Number of steps (default: steps-high + steps-low)")

	return cmd
}

// newSchedulersCommand creates the schedulers subcommand
func (a *app) newSchedulersCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "schedulers",
		Aliases: []string{"ls"},
		Short:   "List schedulers and whether they can be searched",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.WriteSchedulers(a.stdout, schedulers.All(), a.cfg.Format)
		},
	}
}

// newSweepCommand creates the sweep subcommand
func (a *app) newSweepCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sweep [SCHEDULER...]",
		Short: "Search the same split with several schedulers",
		Long: `Run one independent search per scheduler and print the shift each one needs.
Without arguments every shift-sensitive scheduler is swept. A scheduler that
fails is reported on its own line and does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets, err := sampling.LoadPresets(a.cfg.PresetsFile)
			if err != nil {
				return err
			}
			model, err := sampling.LookupModel(presets, a.cfg.Model)
			if err != nil {
				return err
			}

			entries, err := sweep.Run(cmd.Context(), a.cfg.Request(), args, model,
				schedulers.NewEvaluator(), limit, shift.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if len(sweep.Accepted(entries)) == 0 {
				if werr := ui.WriteSweep(a.stdout, entries, a.cfg.Format); werr != nil {
					return werr
				}
				return fmt.Errorf("no scheduler reached boundary %.3f", a.cfg.Boundary)
			}
			return ui.WriteSweep(a.stdout, entries, a.cfg.Format)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", sweep.DefaultLimit, "Maximum concurrent searches")

	return cmd
}

// newPlotCommand creates the plot subcommand
func (a *app) newPlotCommand() *cobra.Command {
	var output, title string

	cmd := &cobra.Command{
		Use:   "plot -o FILE",
		Short: "Search and render the split schedule as an image",
		Long: `Search with the current configuration and draw both stages and the boundary
sigma. The image format follows the file extension (.png, .svg, .pdf, .jpg).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			result, err := a.search(cmd.Context())
			if err != nil {
				return err
			}
			if title == "" {
				title = fmt.Sprintf("%s / %s: shift %.2f", a.cfg.Model, a.cfg.Scheduler, result.Shift)
			}
			if err := chart.Render(output, result, title); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Image file to write")
	cmd.Flags().StringVar(&title, "title", "", "Chart title")

	return cmd
}

// newHistoryCommand creates the history subcommand
func (a *app) newHistoryCommand() *cobra.Command {
	var limit int
	var clearOlder time.Duration
	var showStats bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or prune cached search results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.CachePath
			if path == "" {
				path = history.DefaultPath()
			}
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			if cmd.Flags().Changed("clear-older") {
				removed, err := store.Cleanup(clearOlder)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "removed %d cached results\n", removed)
				return nil
			}

			if showStats {
				stats, err := store.Stats()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "entries: %v\n", stats["entry_count"])
				fmt.Fprintf(a.stdout, "hits: %v\n", stats["total_hits"])
				if size, ok := stats["database_size_bytes"]; ok {
					fmt.Fprintf(a.stdout, "size: %v bytes\n", size)
				}
				return nil
			}

			entries, err := store.List(limit)
			if err != nil {
				return err
			}
			return ui.WriteHistory(a.stdout, entries, a.cfg.Format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to list (0 for all)")
	cmd.Flags().DurationVar(&clearOlder, "clear-older", 0, "Remove results not used within this duration (e.g. 720h)")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Show cache statistics")

	return cmd
}

// newServeCommand creates the serve subcommand
func (a *app) newServeCommand() *cobra.Command {
	var pidFile string
	var maxConnections int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search daemon on a unix socket",
		Long: `Serve searches to local clients over a unix socket using a JSON-lines protocol.
Searches for the same model are serialized, results are cached, and uncached
searches are throttled. Changes to the config file update the defaults used
for fields a client leaves out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if running, pid, _ := daemon.IsRunning(pidFile); running {
				return fmt.Errorf("daemon is already running with PID %d", pid)
			}

			d, err := daemon.NewDaemon(&daemon.Config{
				Search:            a.cfg,
				ConfigFile:        a.configPath,
				PidFile:           pidFile,
				MaxConnections:    maxConnections,
				ConnectionTimeout: daemon.DefaultConnectionTimeout,
			}, a.logger)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path")
	cmd.Flags().IntVar(&maxConnections, "max-connections", daemon.DefaultMaxConnections, "Maximum concurrent client connections")
	cmd.Flags().Float64Var(&a.flagConfig.RateLimit, "rate-limit", 0, "Uncached searches per second (default: 20)")
	cmd.Flags().IntVar(&a.flagConfig.RateBurst, "rate-burst", 0, "Burst of uncached searches (default: 5)")

	return cmd
}

// newQueryCommand creates the query subcommand
func (a *app) newQueryCommand() *cobra.Command {
	var timeout time.Duration
	var retries int
	var listSchedulers, showStats bool

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask a running daemon for a search",
		Long: `Ask a running daemon for a search. Only the search flags given on this
command line are sent; everything else takes the daemon's current defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := daemon.NewClient(a.cfg.SocketPath)
			client.SetRetry(retries, nil)
			defer client.Close()

			if showStats {
				resp, err := client.Stats(ctx)
				if err != nil {
					return err
				}
				return ui.WriteStats(a.stdout, ui.DaemonStats{
					Uptime:   time.Duration(resp.Uptime * float64(time.Second)),
					Searches: resp.Searches,
					Cache:    resp.Cache,
					Runtime:  resp.Runtime,
				}, a.cfg.Format)
			}

			if listSchedulers {
				resp, err := client.Schedulers(ctx)
				if err != nil {
					return err
				}
				entries := make([]schedulers.Entry, len(resp.Schedulers))
				for i, s := range resp.Schedulers {
					entries[i] = schedulers.Entry{Name: s.Name, ShiftSensitive: s.ShiftSensitive}
				}
				return ui.WriteSchedulers(a.stdout, entries, a.cfg.Format)
			}

			start := time.Now()
			msg := daemon.NewPartialSearchRequestJSON(a.cfg.Model, a.cfg.Request(), a.explicit)
			resp, err := client.SearchMessage(ctx, msg)
			if err != nil {
				return err
			}
			a.reporter.SearchSummary(resp.Result, ui.SearchStats{
				Model:   resp.Model,
				Elapsed: time.Since(start),
				Cached:  resp.Cached,
			})
			return ui.WriteResult(a.stdout, resp.Result, a.cfg.Format)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait for the daemon")
	cmd.Flags().IntVar(&retries, "retries", 0, "Reconnect attempts while the daemon is starting")
	cmd.Flags().BoolVar(&listSchedulers, "schedulers", false, "List the daemon's schedulers instead of searching")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Show daemon activity instead of searching")
	cmd.MarkFlagsMutuallyExclusive("schedulers", "stats")

	return cmd
}
