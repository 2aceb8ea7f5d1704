package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/signalsim/internal/backtest"
	"github.com/seenimoa/signalsim/internal/metrics"
	"github.com/seenimoa/signalsim/internal/report"
	"github.com/seenimoa/signalsim/internal/series"
)

// minCoverage is the share of reference bars below which a symbol is
// reported as misaligned.
const minCoverage = 0.95

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest and print its report",
	Long: `Run a backtest over the configured (or given) symbols and print the
metrics report. Interrupting the run stops it early; open positions are
force-closed and the partial result is still reported.

Examples:
  signalsim run --symbols BTCUSDT,ETHUSDT --from 2024-01-01 --to 2024-03-31
  signalsim run --source breakout --out result.json --format html --report-out report.html
  signalsim run --replay proposals.json --signals-csv signals.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		requested, _ := f.GetStringSlice("symbols")
		if len(requested) == 0 {
			requested = cfg.Data.Symbols
		}
		if len(requested) == 0 {
			return errors.New("no symbols: pass --symbols or set data.symbols")
		}
		symbols := make([]string, len(requested))
		for i, s := range requested {
			symbols[i] = strings.ToUpper(strings.TrimSpace(s))
		}

		if v, _ := f.GetString("interval"); v != "" {
			cfg.Backtest.Interval = v
		}
		if v, _ := f.GetString("source"); v != "" {
			cfg.Signal.Source = v
		}
		if v, _ := f.GetString("replay"); v != "" {
			cfg.Signal.Source, cfg.Signal.ReplayFile = "replay", v
		}
		if f.Changed("seed") {
			cfg.Backtest.Seed, _ = f.GetInt64("seed")
		}
		if f.Changed("max-open") {
			cfg.Backtest.MaxOpenPositions, _ = f.GetInt("max-open")
		}
		if v, _ := f.GetString("data-dir"); v != "" {
			cfg.Data.Dir = v
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		format, err := report.ParseFormat(flagString(cmd, "format"))
		if err != nil {
			return err
		}

		src, err := cfg.Signal.NewSource()
		if err != nil {
			return err
		}

		ctx, stop := interruptContext()
		defer stop()

		loader := &series.Loader{
			Dir:         cfg.Data.Dir,
			Format:      series.Format(cfg.Data.Format),
			Concurrency: cfg.Data.FetchConcurrency,
			Logger:      logger,
		}
		store, err := loader.LoadAll(ctx, withReference(symbols, cfg.Data.ReferenceSymbol))
		if err != nil {
			return fmt.Errorf("load series: %w", err)
		}

		start, end, err := runWindow(store, symbols, flagString(cmd, "from"), flagString(cmd, "to"))
		if err != nil {
			return err
		}
		checkCoverage(logger, store, symbols, cfg.Data.ReferenceSymbol, start, end)

		engine, err := backtest.NewEngine(cfg.Backtest.Engine(), backtest.WithLogger(logger))
		if err != nil {
			return err
		}
		res, err := engine.Run(ctx, backtest.RunRequest{
			Symbols:  symbols,
			StartTS:  start,
			EndTS:    end,
			Interval: cfg.Backtest.Interval,
			Feed:     store,
			Source:   src,
		})
		if err != nil {
			return err
		}

		if out, _ := f.GetString("out"); out != "" {
			if err := backtest.SaveResult(out, res); err != nil {
				return err
			}
			logger.Info("result saved", "path", out)
		}

		return emit(cmd, res, format)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("symbols", nil, "symbols to backtest, in priority order (default: data.symbols)")
	f.String("from", "", "start, YYYY-MM-DD or RFC 3339 (default: first bar)")
	f.String("to", "", "end, inclusive; a bare date covers that whole day (default: last bar)")
	f.String("interval", "", "bar interval override, e.g. 1h")
	f.String("source", "", "signal source override: sma_cross, breakout, rsi_reversion, macd_cross or replay")
	f.String("replay", "", "replay proposals from this JSON file")
	f.String("data-dir", "", "series directory override")
	f.Int64("seed", 0, "slippage seed override")
	f.Int("max-open", 0, "open position cap override (0 = unlimited)")
	f.String("out", "", "write the full result as JSON to this file")
	addReportFlags(runCmd)
}

// --- Metrics Command ---

var metricsCmd = &cobra.Command{
	Use:   "metrics [result.json]",
	Short: "Compute the report for a saved run result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(flagString(cmd, "format"))
		if err != nil {
			return err
		}
		res, err := backtest.LoadResult(args[0])
		if err != nil {
			return err
		}
		return emit(cmd, res, format)
	},
}

func init() {
	addReportFlags(metricsCmd)
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", "text", "report format: text, json, csv or html")
	cmd.Flags().String("report-out", "", "write the report to this file instead of stdout")
	cmd.Flags().String("signals-csv", "", "export every signal as CSV to this file")
}

// emit computes metrics for res and writes the report and optional exports.
func emit(cmd *cobra.Command, res *backtest.Result, format report.Format) error {
	rep, err := metrics.Compute(res.Signals, res.Equity, cfg.Metrics.Options(cfg.Backtest.InitialCapital))
	if err != nil {
		return err
	}
	doc := report.NewDocument(res, rep)

	if err := writeTo(cmd.OutOrStdout(), flagString(cmd, "report-out"), func(w io.Writer) error {
		return report.Render(w, doc, format)
	}); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if path, _ := cmd.Flags().GetString("signals-csv"); path != "" {
		if err := writeTo(nil, path, func(w io.Writer) error {
			return report.WriteSignalsCSV(w, res.Signals)
		}); err != nil {
			return fmt.Errorf("write signals: %w", err)
		}
	}
	return nil
}

// writeTo runs fn against path, or against def when path is empty.
func writeTo(def io.Writer, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(def)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func withReference(symbols []string, ref string) []string {
	if ref == "" {
		return symbols
	}
	for _, s := range symbols {
		if s == ref {
			return symbols
		}
	}
	return append(append([]string(nil), symbols...), ref)
}

// runWindow resolves the simulated range. Missing bounds default to the
// earliest and latest bar over the run's symbols.
func runWindow(store *series.Store, symbols []string, from, to string) (int64, int64, error) {
	var first, last int64
	found := false
	for _, sym := range symbols {
		s, ok := store.Get(sym)
		if !ok {
			continue
		}
		f, l, ok := s.Span()
		if !ok {
			continue
		}
		if !found || f < first {
			first = f
		}
		if !found || l > last {
			last = l
		}
		found = true
	}

	start, end := first, last
	if from != "" {
		t, err := parseDate(from, false)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --from: %w", err)
		}
		start = t.UnixMilli()
	}
	if to != "" {
		t, err := parseDate(to, true)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --to: %w", err)
		}
		end = t.UnixMilli()
	}
	if !found && (from == "" || to == "") {
		return 0, 0, fmt.Errorf("cannot infer the run window: %w", series.ErrNoData)
	}
	if end < start {
		return 0, 0, fmt.Errorf("end %s is before start %s", time.UnixMilli(end).UTC(), time.UnixMilli(start).UTC())
	}
	return start, end, nil
}

// checkCoverage warns about symbols whose bars are badly misaligned with
// the reference symbol.
func checkCoverage(log *slog.Logger, store *series.Store, symbols []string, ref string, from, to int64) {
	if ref == "" {
		return
	}
	if _, ok := store.Get(ref); !ok {
		log.Debug("reference symbol not loaded; skipping coverage check", "reference", ref)
		return
	}
	for _, sym := range symbols {
		if sym == ref {
			continue
		}
		c, err := store.Coverage(sym, ref, from, to)
		if err != nil {
			continue
		}
		if c < minCoverage {
			log.Warn("series misaligned with reference", "symbol", sym, "reference", ref, "coverage", c)
		}
	}
}

// parseDate accepts RFC 3339 or YYYY-MM-DD; with endOfDay a bare date means
// the last millisecond of that day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

// splitAddr parses "host:port" or ":port".
func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in --addr %q", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
