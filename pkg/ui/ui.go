package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shaneisley/sigmashift/pkg/history"
	"github.com/shaneisley/sigmashift/pkg/metrics"
	"github.com/shaneisley/sigmashift/pkg/schedulers"
	"github.com/shaneisley/sigmashift/pkg/shift"
	"github.com/shaneisley/sigmashift/pkg/sweep"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Reporter writes diagnostics about a search. It never writes the result
// itself; see WriteResult.
type Reporter struct {
	writer io.Writer
	quiet  bool
}

// SearchStats describes how a result was obtained
type SearchStats struct {
	Model   string
	Elapsed time.Duration
	Cached  bool
}

// NewReporter creates a new diagnostics reporter
func NewReporter(writer io.Writer) *Reporter {
	return &Reporter{
		writer: writer,
		quiet:  false,
	}
}

// SetQuiet enables or disables quiet mode
func (r *Reporter) SetQuiet(quiet bool) {
	r.quiet = quiet
}

// SearchSummary reports the chosen shift and both stage sequences
func (r *Reporter) SearchSummary(result *shift.Result, stats SearchStats) {
	if r.quiet {
		return
	}

	fmt.Fprintf(r.writer, "[sigmashift] shift: %s\n", formatShift(result.Shift))
	fmt.Fprintf(r.writer, "[sigmashift] sigmas (high): %s\n", FormatSigmas(result.High))
	fmt.Fprintf(r.writer, "[sigmashift] sigmas (low): %s\n", FormatSigmas(result.Low))

	var builder strings.Builder
	builder.WriteString("[sigmashift] ")
	if stats.Model != "" {
		builder.WriteString(stats.Model)
		builder.WriteString(": ")
	}
	if stats.Cached {
		builder.WriteString("cached result")
	} else {
		builder.WriteString(strconv.Itoa(result.Iterations))
		if result.Iterations == 1 {
			builder.WriteString(" evaluation")
		} else {
			builder.WriteString(" evaluations")
		}
		builder.WriteString(" in ")
		builder.WriteString(formatDuration(stats.Elapsed))
	}
	builder.WriteString(", stop: ")
	builder.WriteString(string(result.Stop))
	if result.Cause != nil {
		builder.WriteString(" (")
		builder.WriteString(result.Cause.Error())
		builder.WriteString(")")
	}
	builder.WriteString(".\n")
	fmt.Fprint(r.writer, builder.String())
}

// Warn prints a one-line warning unless quiet
func (r *Reporter) Warn(format string, args ...interface{}) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.writer, "[sigmashift] warning: "+format+"\n", args...)
}

// WriteResult writes the output tuple in the requested format
func WriteResult(w io.Writer, result *shift.Result, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText, "":
		fmt.Fprintf(w, "shift: %s\n", formatShift(result.Shift))
		fmt.Fprintf(w, "steps: %d\n", result.TotalSteps)
		fmt.Fprintf(w, "steps_high: %d\n", result.StepsHigh)
		fmt.Fprintf(w, "steps_low: %d\n", result.StepsLow)
		fmt.Fprintf(w, "sigmas: %s\n", FormatSigmas(result.Full))
		fmt.Fprintf(w, "sigmas_high: %s\n", FormatSigmas(result.High))
		fmt.Fprintf(w, "sigmas_low: %s\n", FormatSigmas(result.Low))
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteSigmas writes a bare sequence
func WriteSigmas(w io.Writer, sigmas []float64, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, sigmas)
	case FormatText, "":
		_, err := fmt.Fprintln(w, FormatSigmas(sigmas))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteSchedulers lists the scheduler catalog
func WriteSchedulers(w io.Writer, entries []schedulers.Entry, format string) error {
	if format == FormatJSON {
		type row struct {
			Name           string `json:"name"`
			ShiftSensitive bool   `json:"shift_sensitive"`
		}
		rows := make([]row, len(entries))
		for i, e := range entries {
			rows[i] = row{Name: e.Name, ShiftSensitive: e.ShiftSensitive}
		}
		return writeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULER\tSEARCHABLE")
	for _, e := range entries {
		searchable := "yes"
		if !e.ShiftSensitive {
			searchable = "no (ignores shift)"
		}
		fmt.Fprintf(tw, "%s\t%s\n", e.Name, searchable)
	}
	return tw.Flush()
}

// WriteSweep prints one line per scheduler of a sweep
func WriteSweep(w io.Writer, entries []sweep.Entry, format string) error {
	if format == FormatJSON {
		type row struct {
			Scheduler string        `json:"scheduler"`
			Result    *shift.Result `json:"result,omitempty"`
			Error     string        `json:"error,omitempty"`
		}
		rows := make([]row, len(entries))
		for i, e := range entries {
			rows[i] = row{Scheduler: e.Scheduler, Result: e.Result}
			if e.Err != nil {
				rows[i].Error = e.Err.Error()
			}
		}
		return writeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULER\tSHIFT\tBOUNDARY SIGMA\tEVALUATIONS\tSTOP")
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\terror: %v\n", e.Scheduler, e.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%d\t%s\n",
			e.Scheduler, formatShift(e.Result.Shift), e.Result.BoundarySigma(), e.Result.Iterations, e.Result.Stop)
	}
	return tw.Flush()
}

// WriteHistory lists cached results
func WriteHistory(w io.Writer, entries []*history.Entry, format string) error {
	if format == FormatJSON {
		if entries == nil {
			entries = []*history.Entry{}
		}
		return writeJSON(w, entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No cached results.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSCHEDULER\tSTEPS\tDENOISE\tBOUNDARY\tSHIFT\tHITS\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d+%d\t%g\t%g\t%s\t%d\t%s\n",
			e.Model, e.Scheduler, e.StepsHigh, e.StepsLow, e.Denoise, e.Boundary,
			formatShift(e.Shift), e.Hits, e.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// DaemonStats is what a running daemon reports about itself
type DaemonStats struct {
	Uptime   time.Duration            `json:"-"`
	Searches *metrics.AggregatedStats `json:"searches,omitempty"`
	Cache    map[string]interface{}   `json:"cache,omitempty"`
	Runtime  metrics.RuntimeSnapshot  `json:"runtime"`
}

// WriteStats prints daemon activity
func WriteStats(w io.Writer, stats DaemonStats, format string) error {
	if format == FormatJSON {
		return writeJSON(w, struct {
			UptimeSeconds float64 `json:"uptime_seconds"`
			DaemonStats
		}{stats.Uptime.Seconds(), stats})
	}

	fmt.Fprintf(w, "uptime: %s\n", formatDuration(stats.Uptime.Truncate(time.Second)))
	if s := stats.Searches; s != nil {
		fmt.Fprintf(w, "searches: %d (cached %d, failed %d)\n", s.TotalSearches, s.CachedSearches, s.FailedSearches)
		fmt.Fprintf(w, "cache hit rate: %.1f%%\n", s.CacheHitRate*100)
		if s.AverageIterations > 0 {
			fmt.Fprintf(w, "average evaluations: %.1f\n", s.AverageIterations)
		}
		fmt.Fprintf(w, "average latency: %s\n", formatDuration(s.AverageDuration))
	}
	if stats.Cache != nil {
		fmt.Fprintf(w, "cached results: %v\n", stats.Cache["entry_count"])
	}
	fmt.Fprintf(w, "memory: %.1f MB, goroutines: %d\n", stats.Runtime.AllocMB, stats.Runtime.NumGoroutine)

	if stats.Searches == nil || len(stats.Searches.TopSchedulers) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSCHEDULER\tSEARCHES\tFAILURES\tAVG SHIFT")
	for _, s := range stats.Searches.TopSchedulers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Model, s.Scheduler, s.Count, s.Failures, formatShift(s.AverageShift))
	}
	return tw.Flush()
}

// FormatSigmas renders a sequence with four decimals
func FormatSigmas(sigmas []float64) string {
	parts := make([]string, len(sigmas))
	for i, s := range sigmas {
		parts[i] = strconv.FormatFloat(s, 'f', 4, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatShift(shift float64) string {
	return strconv.FormatFloat(shift, 'f', 2, 64)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}

	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	if d < time.Minute {
		seconds := float64(d) / float64(time.Second)
		if seconds == float64(int(seconds)) {
			return fmt.Sprintf("%.0fs", seconds)
		}
		formatted := fmt.Sprintf("%.2f", seconds)
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
		return formatted + "s"
	}

	minutes := d / time.Minute
	seconds := (d % time.Minute) / time.Second
	if seconds > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%dm", minutes)
}
