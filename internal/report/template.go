package report

// htmlTemplate is the HTML layout of a backtest report. Charts are inlined
// as SVG so the file has no external dependencies.
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
  :root {
    --bg: #ffffff;
    --text: #1a1a2e;
    --muted: #6b7280;
    --border: #e5e7eb;
    --accent: #2563eb;
    --green: #16a34a;
    --red: #dc2626;
    --section-bg: #f8fafc;
  }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    color: var(--text);
    background: var(--bg);
    line-height: 1.6;
    max-width: 900px;
    margin: 0 auto;
    padding: 20px;
  }
  h1 { font-size: 1.5rem; margin-bottom: 4px; color: var(--accent); }
  h2 { font-size: 1.2rem; margin: 24px 0 12px; padding-bottom: 6px; border-bottom: 2px solid var(--accent); }
  .muted { color: var(--muted); font-size: 0.85rem; }
  .grid {
    display: grid;
    grid-template-columns: repeat(auto-fill, minmax(160px, 1fr));
    gap: 8px;
    margin: 10px 0 16px;
  }
  .card { background: var(--section-bg); padding: 8px 12px; border-radius: 6px; }
  .card .label { font-size: 0.75rem; color: var(--muted); text-transform: uppercase; }
  .card .value { font-size: 1.05rem; font-weight: 600; }
  table { width: 100%; border-collapse: collapse; margin: 8px 0 16px; font-size: 0.9rem; }
  th { background: var(--section-bg); text-align: left; padding: 8px; font-weight: 600; }
  td { padding: 8px; border-bottom: 1px solid var(--border); }
  .chart-container { margin: 12px 0; overflow-x: auto; }
</style>
</head>
<body>
<div class="header">
  <h1>{{.Title}}</h1>
  <p class="muted">Run {{.RunID}} · source {{.Source}} · interval {{.Interval}} · {{.Period}}</p>
  <p class="muted">Generated {{.GeneratedAt}}</p>
</div>

{{range .Sections}}
<h2>{{.Name}}</h2>
<div class="grid">
  {{range .Rows}}<div class="card"><div class="label">{{.Label}}</div><div class="value">{{.Value}}</div></div>
  {{end}}
</div>
{{end}}

{{if .EquityChart}}
<h2>Equity</h2>
<div class="chart-container">{{.EquityChart}}</div>
{{end}}

<h2>Distribution</h2>
<div class="chart-container">{{.PnLChart}}</div>
<div class="chart-container">{{.HoldingChart}}</div>

<table>
  <tr><th>Side</th><th>Trades</th><th>Win rate</th><th>Mean PnL %</th></tr>
  {{range .Sides}}<tr><td>{{.Side}}</td><td>{{.Trades}}</td><td>{{printf "%.2f" .WinRate}}</td><td>{{printf "%.4f" .MeanPnLPct}}</td></tr>
  {{end}}
</table>
</body>
</html>
`
