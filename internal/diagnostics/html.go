package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/sawpanic/perfguard/internal/calibration"
	"github.com/sawpanic/perfguard/internal/features"
	atomicio "github.com/sawpanic/perfguard/internal/io"
)

const chartTemplate = `{{define "chart"}}<figure>
<figcaption>{{.Title}}</figcaption>
<svg viewBox="0 0 {{.Width}} {{.Height}}" width="{{.Width}}" height="{{.Height}}" xmlns="http://www.w3.org/2000/svg">
<line x1="{{.Pad}}" y1="0" x2="{{.Pad}}" y2="{{sub .Height .Pad}}" stroke="#999"/>
<line x1="{{.Pad}}" y1="{{sub .Height .Pad}}" x2="{{.Width}}" y2="{{sub .Height .Pad}}" stroke="#999"/>
{{range .XTicks}}<text x="{{printf "%.1f" .Pos}}" y="{{sub $.Height 22}}" font-size="10" text-anchor="middle">{{.Label}}</text>
{{end}}{{range .YTicks}}<text x="{{sub $.Pad 4}}" y="{{printf "%.1f" .Pos}}" font-size="10" text-anchor="end">{{.Label}}</text>
{{end}}<polyline fill="none" stroke="#1f77b4" stroke-width="2" points="{{.Points}}"/>
{{if .HasMarker}}<line x1="{{printf "%.1f" .Marker}}" y1="0" x2="{{printf "%.1f" .Marker}}" y2="{{sub $.Height $.Pad}}" stroke="#d62728" stroke-dasharray="4 3"/>{{end}}
<text x="{{sub .Width 4}}" y="{{sub .Height 4}}" font-size="10" text-anchor="end">{{.YLabel}}</text>
</svg>
</figure>{{end}}`

const traceTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{padding:2px 8px;border-bottom:1px solid #ddd;text-align:right}tr.best{background:#fde2e2}</style>
</head><body>
<h1>{{.Title}}</h1>
<p>Selected threshold: <strong>{{printf "%.2f" .Best}}</strong> ({{len .Trace}} candidates evaluated)</p>
{{range .Charts}}{{template "chart" .}}{{end}}
<table><thead><tr><th>threshold</th><th>accuracy</th><th>metric</th><th>flagged</th><th>resolved</th></tr></thead><tbody>
{{range .Trace}}<tr class="{{if eq .Threshold $.Best}}best{{end}}"><td>{{printf "%.2f" .Threshold}}</td><td>{{printf "%.4f" .Accuracy}}</td><td>{{printf "%.4f" .Metric}}</td><td>{{.Flagged}}</td><td>{{.Resolved}}</td></tr>
{{end}}</tbody></table>
</body></html>`

var funcs = template.FuncMap{
	"sub": func(a, b int) int { return a - b },
}

var traceTmpl = template.Must(template.Must(template.New("trace").Funcs(funcs).Parse(chartTemplate)).Parse(traceTemplate))

// HTMLSink renders one page per segment with threshold vs accuracy, metric and
// flagged count, the selected threshold marked
type HTMLSink struct {
	Dir  string
	Base string
}

type tracePage struct {
	Title  string
	Best   float64
	Trace  calibration.Trace
	Charts []lineChart
}

func (s HTMLSink) Record(_ context.Context, seg features.Segment, trace calibration.Trace, best float64) error {
	page := tracePage{
		Title: fmt.Sprintf("%s %s threshold calibration", seg.TimeControl, seg.Label()),
		Best:  best,
		Trace: trace,
	}

	xs := make([]float64, len(trace))
	acc := make([]float64, len(trace))
	metric := make([]float64, len(trace))
	flagged := make([]float64, len(trace))
	for i, c := range trace {
		xs[i], acc[i], metric[i], flagged[i] = c.Threshold, c.Accuracy, c.Metric, float64(c.Flagged)
	}
	page.Charts = []lineChart{
		newLineChart("Accuracy", "accuracy", xs, acc, &best),
		newLineChart("Metric ln(n+1) x accuracy", "metric", xs, metric, &best),
		newLineChart("Flagged players", "flagged", xs, flagged, &best),
	}

	var buf bytes.Buffer
	if err := traceTmpl.ExecuteTemplate(&buf, "trace", page); err != nil {
		return fmt.Errorf("failed to render trace for %s: %w", seg, err)
	}

	path := filepath.Join(s.Dir, FileName(s.Base, seg, ".html"))
	if err := atomicio.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write trace for %s: %w", seg, err)
	}
	return nil
}
