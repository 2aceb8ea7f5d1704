package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/seenimoa/signalsim/internal/metrics"
	"github.com/seenimoa/signalsim/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// SVG Charts
// ════════════════════════════════════════════════════════════════════

// ChartConfig holds rendering parameters for SVG charts.
type ChartConfig struct {
	Width        int    // default: 800
	Height       int    // default: 320
	MarginTop    int    // default: 40
	MarginRight  int    // default: 30
	MarginBottom int    // default: 50
	MarginLeft   int    // default: 70
	BgColor      string // default: "#ffffff"
	GridColor    string // default: "#e8e8e8"
	TextColor    string // default: "#333333"
	FontSize     int    // default: 11
	Title        string
}

// DefaultChartConfig returns the defaults used by the HTML report.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Width:        800,
		Height:       320,
		MarginTop:    40,
		MarginRight:  30,
		MarginBottom: 50,
		MarginLeft:   70,
		BgColor:      "#ffffff",
		GridColor:    "#e8e8e8",
		TextColor:    "#333333",
		FontSize:     11,
	}
}

func (c ChartConfig) plotArea() (x, y, w, h int) {
	return c.MarginLeft, c.MarginTop,
		c.Width - c.MarginLeft - c.MarginRight,
		c.Height - c.MarginTop - c.MarginBottom
}

// ────────────────────────────────────────────────────────────────────
// Equity curve
// ────────────────────────────────────────────────────────────────────

// EquityChart draws total and realized equity over time.
func EquityChart(points []models.EquityPoint, cfg ChartConfig) string {
	if cfg.Width == 0 {
		cfg = DefaultChartConfig()
	}
	if len(points) < 2 {
		return emptySVG(cfg, "Not enough equity points")
	}
	if cfg.Title == "" {
		cfg.Title = "Equity"
	}

	px, py, pw, ph := cfg.plotArea()

	// realized is relative to capital; plot it on the equity axis
	base := points[0].Equity - points[0].Realized
	lo, hi := math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		lo = math.Min(lo, math.Min(p.Equity, base+p.Realized))
		hi = math.Max(hi, math.Max(p.Equity, base+p.Realized))
	}
	span := hi - lo
	if span < 0.001 {
		span = 1
	}
	lo -= span * 0.05
	hi += span * 0.05
	span = hi - lo

	x := func(i int) float64 { return float64(px) + float64(i)*float64(pw)/float64(len(points)-1) }
	y := func(v float64) float64 { return float64(py+ph) - (v-lo)/span*float64(ph) }

	var sb strings.Builder
	sb.WriteString(svgHeader(cfg))
	writeFrame(&sb, cfg)

	for i := 0; i <= 5; i++ {
		v := lo + span*float64(i)/5
		gy := y(v)
		fmt.Fprintf(&sb, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="%s" stroke-dasharray="3,3"/>`,
			px, gy, px+pw, gy, cfg.GridColor)
		fmt.Fprintf(&sb, `<text x="%d" y="%.1f" font-size="%d" fill="%s" text-anchor="end">%.0f</text>`,
			px-5, gy+4, cfg.FontSize, cfg.TextColor, v)
	}

	series := []struct {
		name  string
		color string
		value func(models.EquityPoint) float64
	}{
		{"equity", "#2196f3", func(p models.EquityPoint) float64 { return p.Equity }},
		{"realized", "#ff9800", func(p models.EquityPoint) float64 { return base + p.Realized }},
	}
	for si, s := range series {
		parts := make([]string, len(points))
		for i, p := range points {
			cmd := "L"
			if i == 0 {
				cmd = "M"
			}
			parts[i] = fmt.Sprintf("%s%.1f,%.1f", cmd, x(i), y(s.value(p)))
		}
		fmt.Fprintf(&sb, `<path d="%s" fill="none" stroke="%s" stroke-width="2"/>`, strings.Join(parts, " "), s.color)

		ly := py + 10 + si*16
		fmt.Fprintf(&sb, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="2"/>`, px+10, ly, px+30, ly, s.color)
		fmt.Fprintf(&sb, `<text x="%d" y="%d" font-size="10" fill="%s">%s</text>`, px+35, ly+4, cfg.TextColor, s.name)
	}

	step := max(1, len(points)/6)
	for i := 0; i < len(points); i += step {
		label := models.FromMillis(points[i].TS).Format(time.DateOnly)
		fmt.Fprintf(&sb, `<text x="%.1f" y="%d" font-size="%d" fill="%s" text-anchor="middle">%s</text>`,
			x(i), py+ph+18, cfg.FontSize-1, cfg.TextColor, label)
	}

	sb.WriteString("</svg>")
	return sb.String()
}

// ────────────────────────────────────────────────────────────────────
// Histogram
// ────────────────────────────────────────────────────────────────────

// HistogramChart draws one vertical bar per bucket.
func HistogramChart(h metrics.Histogram, cfg ChartConfig) string {
	if cfg.Width == 0 {
		cfg = DefaultChartConfig()
	}
	if len(h.Buckets) == 0 {
		return emptySVG(cfg, "No buckets")
	}
	if cfg.Title == "" {
		cfg.Title = "Distribution"
	}

	px, py, pw, ph := cfg.plotArea()
	top := 0
	for _, b := range h.Buckets {
		top = max(top, b.Count)
	}
	if top == 0 {
		top = 1
	}

	slot := float64(pw) / float64(len(h.Buckets))
	barW := slot * 0.8

	var sb strings.Builder
	sb.WriteString(svgHeader(cfg))
	writeFrame(&sb, cfg)
	fmt.Fprintf(&sb, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#999" stroke-width="1"/>`, px, py+ph, px+pw, py+ph)

	for i, b := range h.Buckets {
		bh := float64(b.Count) / float64(top) * float64(ph)
		bx := float64(px) + float64(i)*slot + (slot-barW)/2
		by := float64(py+ph) - bh
		color := "#4caf50"
		if float64(b.High) <= 0 {
			color = "#ef5350"
		}
		fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s" rx="2"/>`, bx, by, barW, bh, color)
		fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" font-size="%d" fill="%s" text-anchor="middle">%d</text>`,
			bx+barW/2, by-4, cfg.FontSize, cfg.TextColor, b.Count)
		fmt.Fprintf(&sb, `<text x="%.1f" y="%d" font-size="%d" fill="%s" text-anchor="middle">%s</text>`,
			bx+barW/2, py+ph+16, cfg.FontSize-2, cfg.TextColor, escapeXML(b.Label()))
	}

	sb.WriteString("</svg>")
	return sb.String()
}

// ════════════════════════════════════════════════════════════════════
// SVG Helpers
// ════════════════════════════════════════════════════════════════════

func svgHeader(cfg ChartConfig) string {
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`,
		cfg.Width, cfg.Height, cfg.Width, cfg.Height)
}

func writeFrame(sb *strings.Builder, cfg ChartConfig) {
	fmt.Fprintf(sb, `<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`, cfg.Width, cfg.Height, cfg.BgColor)
	fmt.Fprintf(sb, `<text x="%d" y="20" font-size="14" font-weight="bold" fill="%s" text-anchor="middle">%s</text>`,
		cfg.Width/2, cfg.TextColor, escapeXML(cfg.Title))
}

func emptySVG(cfg ChartConfig, msg string) string {
	if cfg.Width == 0 {
		cfg.Width = 400
	}
	if cfg.Height == 0 {
		cfg.Height = 200
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><rect width="%d" height="%d" fill="#f5f5f5"/><text x="%d" y="%d" text-anchor="middle" fill="#999" font-size="14">%s</text></svg>`,
		cfg.Width, cfg.Height, cfg.Width, cfg.Height, cfg.Width/2, cfg.Height/2, escapeXML(msg))
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}
