package diagnostics

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perfguard/internal/features"
	atomicio "github.com/sawpanic/perfguard/internal/io"
)

// Summary describes the distribution of one feature within a rating bin
type Summary struct {
	Label  string  `json:"rating_bin"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes count, mean, quartiles and range of values
func Summarize(label string, values []float64) (Summary, error) {
	s := Summary{Label: label, Count: len(values)}
	if len(values) == 0 {
		return s, nil
	}

	data := stats.Float64Data(values)
	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return s, err
	}
	if s.Min, err = stats.Min(data); err != nil {
		return s, err
	}
	if s.Max, err = stats.Max(data); err != nil {
		return s, err
	}
	if s.Median, err = stats.Median(data); err != nil {
		return s, err
	}
	if len(values) < 2 {
		s.Q1, s.Q3 = s.Median, s.Median
		return s, nil
	}
	q, err := stats.Quartile(data)
	if err != nil {
		return s, err
	}
	s.Q1, s.Q3 = q.Q1, q.Q3
	return s, nil
}

// explored features: file suffix, axis title, accessor
var exploredFeatures = []struct {
	suffix string
	title  string
	value  func(features.Row) float64
}{
	{"rating_gain", "Mean Rating Change", func(r features.Row) float64 { return r.MeanRatingGain }},
	{"perf_diff", "Mean Performance Difference", func(r features.Row) float64 { return r.MeanPerfDiff }},
}

// Explore writes, per time control present in rows, one HTML page per
// explored feature summarizing its distribution in each rating bin.
// Returns the paths written.
func Explore(rows []features.Row, dir, base string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create exploratory folder: %w", err)
	}

	byTC := make(map[features.TimeControl][]features.Row)
	for _, r := range features.FilterRecognized(rows) {
		byTC[r.TimeControl] = append(byTC[r.TimeControl], r)
	}

	var paths []string
	for _, tc := range features.AllTimeControls() {
		tcRows := byTC[tc]
		if len(tcRows) == 0 {
			continue
		}
		groups, segments := features.GroupBySegment(tcRows)

		for _, f := range exploredFeatures {
			page := explorePage{
				Title:  fmt.Sprintf("%s %s by Rating Bin", tc, f.title),
				XTitle: f.title,
			}
			for _, seg := range segments {
				values := make([]float64, 0, len(groups[seg]))
				for _, r := range groups[seg] {
					values = append(values, f.value(r))
				}
				s, err := Summarize(seg.Label(), values)
				if err != nil {
					return paths, fmt.Errorf("failed to summarize %s %s: %w", seg, f.suffix, err)
				}
				page.Summaries = append(page.Summaries, s)
			}
			page.layout()

			var buf bytes.Buffer
			if err := exploreTmpl.Execute(&buf, page); err != nil {
				return paths, fmt.Errorf("failed to render %s %s: %w", tc, f.suffix, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.html", base, tc, f.suffix))
			if err := atomicio.WriteFileAtomic(path, buf.Bytes()); err != nil {
				return paths, fmt.Errorf("failed to write %s: %w", path, err)
			}
			paths = append(paths, path)
		}

		log.Debug().Str("time_control", string(tc)).Int("bins", len(segments)).Msg("exploratory pages written")
	}
	return paths, nil
}

type boxRow struct {
	Summary
	Y                          float64
	XMin, XQ1, XMed, XQ3, XMax float64
	XMean                      float64
	BoxWidth                   float64
}

type explorePage struct {
	Title     string
	XTitle    string
	Summaries []Summary
	Boxes     []boxRow
	Width     int
	Height    int
	ZeroX     float64
}

const boxHeight = 18

func (p *explorePage) layout() {
	p.Width = chartWidth
	p.Height = chartPad + len(p.Summaries)*(boxHeight+6) + chartPad

	var all []float64
	for _, s := range p.Summaries {
		if s.Count > 0 {
			all = append(all, s.Min, s.Max)
		}
	}
	xe := extentOf(append(all, 0))
	left, right := float64(chartPad*2), float64(chartWidth-chartPad/2)

	for i, s := range p.Summaries {
		p.Boxes = append(p.Boxes, boxRow{
			Summary: s,
			Y:       float64(chartPad + i*(boxHeight+6)),
			XMin:    xe.scale(s.Min, left, right),
			XQ1:     xe.scale(s.Q1, left, right),
			XMed:    xe.scale(s.Median, left, right),
			XQ3:     xe.scale(s.Q3, left, right),
			XMax:    xe.scale(s.Max, left, right),
			XMean:   xe.scale(s.Mean, left, right),
		})
		b := &p.Boxes[i]
		b.BoxWidth = b.XQ3 - b.XQ1
	}
	p.ZeroX = xe.scale(0, left, right)
}

var exploreTmpl = template.Must(template.New("explore").Funcs(template.FuncMap{
	"add":  func(a, b float64) float64 { return a + b },
	"half": func() float64 { return boxHeight / 2 },
	"box":  func() int { return boxHeight },
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{padding:2px 8px;border-bottom:1px solid #ddd;text-align:right}</style>
</head><body>
<h1>{{.Title}}</h1>
<svg viewBox="0 0 {{.Width}} {{.Height}}" width="{{.Width}}" height="{{.Height}}" xmlns="http://www.w3.org/2000/svg">
<line x1="{{printf "%.1f" .ZeroX}}" y1="20" x2="{{printf "%.1f" .ZeroX}}" y2="{{.Height}}" stroke="#1f77b4" stroke-dasharray="5 4" opacity="0.5"/>
{{range .Boxes}}{{if .Count}}<text x="4" y="{{printf "%.1f" (add .Y 13.0)}}" font-size="11">{{.Label}}</text>
<line x1="{{printf "%.1f" .XMin}}" y1="{{printf "%.1f" (add .Y half)}}" x2="{{printf "%.1f" .XMax}}" y2="{{printf "%.1f" (add .Y half)}}" stroke="#666"/>
<rect x="{{printf "%.1f" .XQ1}}" y="{{printf "%.1f" .Y}}" width="{{printf "%.1f" .BoxWidth}}" height="{{box}}" fill="#aec7e8" opacity="0.6"/>
<line x1="{{printf "%.1f" .XMed}}" y1="{{printf "%.1f" .Y}}" x2="{{printf "%.1f" .XMed}}" y2="{{printf "%.1f" (add .Y 18.0)}}" stroke="#333" stroke-width="2"/>
<circle cx="{{printf "%.1f" .XMean}}" cy="{{printf "%.1f" (add .Y half)}}" r="3" fill="black"/>
{{end}}{{end}}</svg>
<p>{{.XTitle}}</p>
<table><thead><tr><th>rating bin</th><th>count</th><th>mean</th><th>min</th><th>q1</th><th>median</th><th>q3</th><th>max</th></tr></thead><tbody>
{{range .Summaries}}<tr><td>{{.Label}}</td><td>{{.Count}}</td><td>{{printf "%.3f" .Mean}}</td><td>{{printf "%.3f" .Min}}</td><td>{{printf "%.3f" .Q1}}</td><td>{{printf "%.3f" .Median}}</td><td>{{printf "%.3f" .Q3}}</td><td>{{printf "%.3f" .Max}}</td></tr>
{{end}}</tbody></table>
</body></html>`))
