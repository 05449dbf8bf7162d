package output

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - shortload report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --pass: #22c55e;
            --fail: #ef4444;
            --warn: #f59e0b;
        }
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: var(--bg); color: var(--text); line-height: 1.6; }
        .container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
        header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 2rem; }
        .meta { color: var(--muted); font-size: 0.875rem; }
        .verdict { padding: 0.5rem 1.25rem; border-radius: 999px; font-weight: 700; color: #fff; }
        .verdict.PASS { background: var(--pass); }
        .verdict.FAIL { background: var(--fail); }
        .verdict.INCONCLUSIVE { background: var(--warn); }
        .reason { color: var(--muted); margin-top: 0.25rem; text-align: right; }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .card, section { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem 1.25rem; }
        .card .label { color: var(--muted); font-size: 0.75rem; text-transform: uppercase; }
        .card .value { font-size: 1.5rem; font-weight: 700; }
        section { margin-bottom: 2rem; }
        h2 { font-size: 1.125rem; margin-bottom: 1rem; }
        table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
        th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid var(--border); }
        .pass { color: var(--pass); }
        .fail { color: var(--fail); }
        .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(340px, 1fr)); gap: 1rem; }
        .chart { height: 240px; }
        footer { color: var(--muted); font-size: 0.75rem; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <div>
            <h1>{{.Name}}</h1>
            {{if .Description}}<p>{{.Description}}</p>{{end}}
            <p class="meta">{{.BaseURL}} &middot; {{.StartTime.Format "2006-01-02 15:04:05"}} &middot; {{formatDuration .Duration}}{{if .Aborted}} &middot; aborted{{end}}</p>
        </div>
        <div>
            <div class="verdict {{.Verdict}}">{{.Verdict}}</div>
            {{if .Breached}}<p class="reason">breached {{range $i, $b := .Breached}}{{if $i}}, {{end}}{{$b}}{{end}}</p>{{end}}
            {{if .Reason}}<p class="reason">{{.Reason}}</p>{{end}}
        </div>
    </header>

    <div class="cards">
        <div class="card"><div class="label">Iterations</div><div class="value">{{formatNumber .Iterations}}</div></div>
        <div class="card"><div class="label">Error rate</div><div class="value">{{percent .ErrorRate}}</div></div>
        <div class="card"><div class="label">P95 latency</div><div class="value">{{formatLatency .P95}}</div></div>
        {{with .Metrics}}<div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}} /s</div></div>{{end}}
    </div>

    {{with .Metrics}}
    <section>
        <h2>Latency distribution</h2>
        <table>
            <tr><th>Min</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th><th>Mean</th></tr>
            <tr>
                <td>{{formatLatency .Latency.Min}}</td><td>{{formatLatency .Latency.P50}}</td><td>{{formatLatency .Latency.P90}}</td>
                <td>{{formatLatency .Latency.P95}}</td><td>{{formatLatency .Latency.P99}}</td><td>{{formatLatency .Latency.Max}}</td>
                <td>{{formatLatency .Latency.Mean}}</td>
            </tr>
        </table>
    </section>
    {{end}}

    {{if .Actions}}
    <section>
        <h2>Actions</h2>
        <table>
            <tr><th>Action</th><th>Iterations</th><th>Failed</th><th>P50</th><th>P95</th><th>P99</th></tr>
            {{range .Actions}}
            <tr>
                <td>{{.Name}}</td><td>{{formatNumber .Stats.Iterations}}</td><td>{{formatNumber .Stats.Failed}}</td>
                <td>{{formatLatency .Stats.Latency.P50}}</td><td>{{formatLatency .Stats.Latency.P95}}</td><td>{{formatLatency .Stats.Latency.P99}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    {{if .Thresholds}}
    <section>
        <h2>Thresholds</h2>
        <table>
            {{range .Thresholds}}
            <tr>
                <td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
                <td>{{.Metric}}</td><td>{{.Expression}}</td><td>actual {{.Value}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    {{if .TimeSeries}}
    <section>
        <h2>Timeline</h2>
        <div class="charts">
            <div class="chart"><canvas id="rpsChart"></canvas></div>
            <div class="chart"><canvas id="latencyChart"></canvas></div>
            <div class="chart"><canvas id="vusChart"></canvas></div>
        </div>
    </section>
    {{end}}

    <footer>shortload run {{.RunID}} &middot; {{.EndTime.Format "2006-01-02 15:04:05 MST"}}</footer>
</div>
<script>
    const series = {{.TimeSeriesJSON}};
    const labels = series.map((d, i) => i + 's');
    function line(id, datasets) {
        const el = document.getElementById(id);
        if (!el || typeof Chart === 'undefined') return;
        new Chart(el.getContext('2d'), {
            type: 'line',
            data: { labels: labels, datasets: datasets },
            options: { responsive: true, maintainAspectRatio: false, elements: { point: { radius: 0 } }, scales: { y: { beginAtZero: true } } }
        });
    }
    line('rpsChart', [{ label: 'Iterations/s', data: series.map(d => d.rps), borderColor: '#3b82f6' }]);
    line('latencyChart', [{ label: 'P95 (ms)', data: series.map(d => d.p95), borderColor: '#8b5cf6' }]);
    line('vusChart', [
        { label: 'Active VUs', data: series.map(d => d.activeVUs), borderColor: '#22c55e' },
        { label: 'Error rate (%)', data: series.map(d => d.errorRate * 100), borderColor: '#ef4444' }
    ]);
</script>
</body>
</html>
`
