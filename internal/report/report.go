// Package report aggregates stored evaluations into run summaries and
// renders them as text, JSON, or HTML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/prospector/internal/storage"
)

// Summary contains aggregated metrics about a qualification run.
type Summary struct {
	TotalEvaluated int
	TotalQualified int
	TotalErrors    int
	StatusCodes    map[int]int
	QualifiedURLs  []string
	TotalMatches   int
	AvgDuration    time.Duration
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}

// GenerateSummary folds a slice of evaluations into summary metrics.
func GenerateSummary(evals []*storage.Evaluation) Summary {
	s := Summary{
		StatusCodes: make(map[int]int),
	}

	if len(evals) == 0 {
		return s
	}

	s.StartTime = evals[0].CreatedAt
	s.EndTime = evals[0].CreatedAt

	var totalFetch time.Duration
	for _, e := range evals {
		s.TotalEvaluated++
		if e.Error != "" {
			s.TotalErrors++
		}
		if e.Qualified {
			s.TotalQualified++
			s.QualifiedURLs = append(s.QualifiedURLs, e.URL)
		}
		if e.StatusCode > 0 {
			s.StatusCodes[e.StatusCode]++
		}
		s.TotalMatches += e.Matches
		totalFetch += e.Duration

		if e.CreatedAt.Before(s.StartTime) {
			s.StartTime = e.CreatedAt
		}
		if e.CreatedAt.After(s.EndTime) {
			s.EndTime = e.CreatedAt
		}
	}

	s.AvgDuration = totalFetch / time.Duration(len(evals))
	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Prospector Run Summary
----------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Evaluated:     {{.TotalEvaluated}} pages
Qualified:     {{.TotalQualified}}
Errors:        {{.TotalErrors}}
Total Matches: {{.TotalMatches}}
Avg Fetch:     {{.AvgDuration}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Qualified URLs:
{{- range .QualifiedURLs}}
  {{.}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Prospector Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Prospector Run Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Evaluated</div>
    <div class="stat-val">{{.TotalEvaluated}}</div>
  </div>
  <div class="stat-card">
    <div>Qualified</div>
    <div class="stat-val" style="color: {{if gt .TotalQualified 0}}green{{else}}red{{end}};">{{.TotalQualified}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Total Matches</div>
    <div class="stat-val">{{.TotalMatches}}</div>
  </div>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Qualified URLs</h3>
  <table>
    <tr><th>URL</th></tr>
    {{- range .QualifiedURLs}}
    <tr><td>{{.}}</td></tr>
    {{- else}}
    <tr><td>None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
