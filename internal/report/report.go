// Package report renders backtest metrics as JSON, aligned text, CSV or a
// self-contained HTML page with SVG charts, and exports signal lists as CSV.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/seenimoa/signalsim/internal/backtest"
	"github.com/seenimoa/signalsim/internal/metrics"
	"github.com/seenimoa/signalsim/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Formats
// ════════════════════════════════════════════════════════════════════

// Format specifies the output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat accepts a case-insensitive format name; "table" and "txt"
// are aliases for text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "text", "txt", "table", "":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Document is everything a rendered report shows.
type Document struct {
	Title       string               `json:"title,omitempty"`
	Meta        backtest.RunMeta     `json:"meta"`
	Report      metrics.Report       `json:"metrics"`
	Equity      []models.EquityPoint `json:"-"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// NewDocument builds a document from a run result and its metrics.
func NewDocument(res *backtest.Result, rep metrics.Report) Document {
	return Document{
		Title:       "Backtest " + res.Meta.Source,
		Meta:        res.Meta,
		Report:      rep,
		Equity:      res.Equity,
		GeneratedAt: time.Now().UTC(),
	}
}

// Render writes doc to w in format f.
func Render(w io.Writer, doc Document, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatText:
		return writeText(w, doc)
	case FormatCSV:
		return writeCSV(w, doc)
	case FormatHTML:
		return writeHTML(w, doc)
	}
	return fmt.Errorf("unsupported report format %q", f)
}

// ════════════════════════════════════════════════════════════════════
// Sections: shared by text, CSV and HTML
// ════════════════════════════════════════════════════════════════════

// Row is one labelled value.
type Row struct {
	Key   string
	Label string
	Value string
}

// Section is a titled group of rows.
type Section struct {
	Name string
	Rows []Row
}

func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
func itoa(v int) string   { return strconv.Itoa(v) }

func sections(doc Document) []Section {
	m, s, p := doc.Meta, doc.Report.Signals, doc.Report.Portfolio

	run := Section{Name: "Run", Rows: []Row{
		{"iterations", "Iterations", itoa(m.Iterations)},
		{"symbols", "Symbols", fmt.Sprintf("%d (%d with data, %d with signals)", m.Symbols, m.SymbolsWithData, m.SymbolsWithSignals)},
		{"proposed", "Proposed", itoa(m.Proposed)},
		{"rejected", "Rejected", itoa(m.Rejected)},
		{"source_errors", "Source errors", itoa(m.SourceErrors)},
		{"missing_bar_checks", "Missing bar checks", itoa(m.MissingBarChecks)},
		{"elapsed", "Elapsed", FormatDuration(time.Duration(m.ElapsedMS) * time.Millisecond)},
	}}
	if m.Cancelled {
		run.Rows = append(run.Rows, Row{"cancelled", "Cancelled", "yes"})
	}

	sig := Section{Name: "Signals", Rows: []Row{
		{"total", "Total", itoa(s.Total)},
		{"traded", "Traded", itoa(s.Traded)},
		{"not_filled", "Not filled", itoa(s.NotFilled)},
		{"wins", "Wins / losses / even", fmt.Sprintf("%d / %d / %d", s.Wins, s.Losses, s.Breakeven)},
		{"win_rate", "Win rate %", f2(s.WinRate)},
		{"mean_pnl_pct", "Mean PnL %", f4(s.MeanPnLPct)},
		{"median_pnl_pct", "Median PnL %", f4(s.MedianPnLPct)},
		{"min_pnl_pct", "Min PnL %", f4(s.MinPnLPct)},
		{"max_pnl_pct", "Max PnL %", f4(s.MaxPnLPct)},
		{"stdev_pnl_pct", "Stdev PnL %", f4(s.StdevPnLPct)},
		{"avg_reward_risk", "Avg reward:risk", f2(s.AvgRewardRisk)},
		{"streaks", "Longest win / loss streak", fmt.Sprintf("%d / %d", s.LongestWinStreak, s.LongestLossStreak)},
		{"mean_holding_hours", "Mean holding h", f2(s.MeanHoldingHours)},
		{"median_holding_hours", "Median holding h", f2(s.MedianHoldingHours)},
	}}

	port := Section{Name: "Portfolio", Rows: []Row{
		{"sharpe", "Sharpe", p.Sharpe.String()},
		{"sortino", "Sortino", p.Sortino.String()},
		{"max_drawdown_pct", "Max drawdown %", f2(p.MaxDrawdownPct)},
		{"max_concurrent", "Max concurrent", itoa(p.MaxConcurrent)},
		{"trades_per_day", "Trades per day", f2(p.TradesPerDay)},
		{"profit_factor", "Profit factor", p.ProfitFactor.String()},
		{"net_pnl", "Net PnL", f2(p.NetPnL)},
		{"total_fees", "Fees", f2(p.TotalFees)},
	}}

	exits := Section{Name: "Exit reasons"}
	for _, r := range models.ExitReasons {
		if n := s.ExitReasons[r]; n > 0 {
			exits.Rows = append(exits.Rows, Row{string(r), string(r), itoa(n)})
		}
	}
	return []Section{run, sig, port, exits}
}

// ════════════════════════════════════════════════════════════════════
// Text
// ════════════════════════════════════════════════════════════════════

func writeText(w io.Writer, doc Document) error {
	line := strings.Repeat("═", 60)
	thin := strings.Repeat("─", 60)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n  %s\n  %s · %s · %s\n%s\n", line, doc.Title, doc.Meta.Source, doc.Meta.Interval, period(doc.Meta), line)

	for _, sec := range sections(doc) {
		if len(sec.Rows) == 0 {
			continue
		}
		fmt.Fprintf(tw, "\n  ■ %s\n", strings.ToUpper(sec.Name))
		for _, r := range sec.Rows {
			fmt.Fprintf(tw, "    %s\t%s\n", r.Label, r.Value)
		}
		fmt.Fprintf(tw, "%s\n", thin)
	}

	writeHistogram := func(name string, h metrics.Histogram) {
		fmt.Fprintf(tw, "\n  ■ %s\n", name)
		for _, b := range h.Buckets {
			fmt.Fprintf(tw, "    %s\t%d\t%s\n", b.Label(), b.Count, strings.Repeat("#", min(b.Count, 50)))
		}
	}
	writeHistogram("PNL % DISTRIBUTION", doc.Report.Distribution.PnL)
	writeHistogram("HOLDING HOURS DISTRIBUTION", doc.Report.Distribution.Holding)

	fmt.Fprintf(tw, "\n  ■ BY SIDE\n")
	fmt.Fprintf(tw, "    side\ttrades\twin rate %%\tmean pnl %%\n")
	for _, s := range doc.Report.Distribution.BySide {
		fmt.Fprintf(tw, "    %s\t%d\t%s\t%s\n", s.Side, s.Trades, f2(s.WinRate), f4(s.MeanPnLPct))
	}
	fmt.Fprintf(tw, "%s\n", line)
	return tw.Flush()
}

func period(m backtest.RunMeta) string {
	const layout = "2006-01-02 15:04"
	return models.FromMillis(m.StartTS).Format(layout) + " → " + models.FromMillis(m.EndTS).Format(layout)
}

// ════════════════════════════════════════════════════════════════════
// CSV
// ════════════════════════════════════════════════════════════════════

func writeCSV(w io.Writer, doc Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"section", "metric", "value"}); err != nil {
		return err
	}
	for _, sec := range sections(doc) {
		name := strings.ToLower(strings.ReplaceAll(sec.Name, " ", "_"))
		for _, r := range sec.Rows {
			if err := cw.Write([]string{name, r.Key, r.Value}); err != nil {
				return err
			}
		}
	}
	hist := map[string]metrics.Histogram{
		"pnl_histogram":     doc.Report.Distribution.PnL,
		"holding_histogram": doc.Report.Distribution.Holding,
	}
	for _, name := range []string{"pnl_histogram", "holding_histogram"} {
		for _, b := range hist[name].Buckets {
			if err := cw.Write([]string{name, b.Label(), itoa(b.Count)}); err != nil {
				return err
			}
		}
	}
	for _, s := range doc.Report.Distribution.BySide {
		side := "side_" + string(s.Side)
		rows := [][]string{
			{side, "trades", itoa(s.Trades)},
			{side, "win_rate", f2(s.WinRate)},
			{side, "mean_pnl_pct", f4(s.MeanPnLPct)},
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// signalColumns is the header of WriteSignalsCSV.
var signalColumns = []string{
	"id", "symbol", "side", "source", "proposed_ts",
	"entry", "stop", "target1", "target2", "eligible_ts",
	"filled", "filled_ts", "actual_entry",
	"exit_ts", "exit_price", "exit_reason", "exit_label",
	"fees", "pnl_pct", "net_pnl_pct", "pnl_amount", "holding_hours",
}

// WriteSignalsCSV exports one row per signal. Unset optional fields are
// written as empty cells.
func WriteSignalsCSV(w io.Writer, signals []models.Signal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(signalColumns); err != nil {
		return err
	}
	price := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	optF := func(p *float64) string {
		if p == nil {
			return ""
		}
		return price(*p)
	}
	optT := func(p *int64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatInt(*p, 10)
	}
	for _, s := range signals {
		rec := []string{
			s.ID, s.Symbol, string(s.Side), s.Source, strconv.FormatInt(s.ProposedTS, 10),
			price(s.EntryPrice), price(s.StopPrice), price(s.Target1Price), price(s.Target2Price),
			strconv.FormatInt(s.EntryEligibleFromTS, 10),
			strconv.FormatBool(s.EntryFilled), optT(s.EntryFilledTS), optF(s.ActualEntryPrice),
			optT(s.ExitTS), optF(s.ExitPrice), string(s.ExitReason), s.ExitLabel,
			price(s.FeesPaid), optF(s.PnLPct), optF(s.NetPnLPct), optF(s.PnLAmount), optF(s.HoldingHours),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ════════════════════════════════════════════════════════════════════
// HTML
// ════════════════════════════════════════════════════════════════════

type htmlData struct {
	Title        string
	RunID        string
	Source       string
	Interval     string
	Period       string
	GeneratedAt  string
	Sections     []Section
	EquityChart  template.HTML
	PnLChart     template.HTML
	HoldingChart template.HTML
	Sides        []metrics.SideStats
}

var reportTmpl = template.Must(template.New("report").Parse(htmlTemplate))

func writeHTML(w io.Writer, doc Document) error {
	cfg := DefaultChartConfig()
	data := htmlData{
		Title:       doc.Title,
		RunID:       doc.Meta.RunID,
		Source:      doc.Meta.Source,
		Interval:    doc.Meta.Interval,
		Period:      period(doc.Meta),
		GeneratedAt: doc.GeneratedAt.Format(time.RFC3339),
		Sections:    sections(doc),
		Sides:       doc.Report.Distribution.BySide,
	}
	if len(doc.Equity) > 1 {
		data.EquityChart = template.HTML(EquityChart(doc.Equity, cfg))
	}
	pnlCfg, holdCfg := cfg, cfg
	pnlCfg.Title = "PnL %"
	holdCfg.Title = "Holding hours"
	data.PnLChart = template.HTML(HistogramChart(doc.Report.Distribution.PnL, pnlCfg))
	data.HoldingChart = template.HTML(HistogramChart(doc.Report.Distribution.Holding, holdCfg))

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
