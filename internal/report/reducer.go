// Package report assembles display-ready artifacts from raw tool results:
// a reducer that normalizes the tool's row shapes, and an orchestrator that
// fans a composite request out into a fixed battery of sub-queries.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"metriclens/internal/perception"
)

// Row is one normalized result row: dimension values then metric values,
// in the order the report request declared them.
type Row struct {
	DimensionValues []string `json:"dimensionValues"`
	MetricValues    []string `json:"metricValues"`
}

// ChartSeries is the rendering-ready series form of a result: one label
// per row, one numeric series per metric.
type ChartSeries struct {
	Hint   perception.ChartHint `json:"hint,omitempty"`
	Labels []string             `json:"labels"`
	Series map[string][]float64 `json:"series"`
}

// Artifact is the reducer's output. Immutable once returned.
type Artifact struct {
	SummaryText string               `json:"summaryText"`
	Table       string               `json:"table,omitempty"`
	Rows        []Row                `json:"rows,omitempty"`
	Totals      map[string]float64   `json:"totals,omitempty"`
	ChartSeries *ChartSeries         `json:"chartSeries,omitempty"`
	Metrics     []string             `json:"metrics,omitempty"`
	Dimensions  []string             `json:"dimensions,omitempty"`
	DateRanges  []perception.DateRange `json:"dateRanges,omitempty"`
}

// Raw shapes the tool is known to emit. The reporting result proper is a
// rows/totals object; some deployments wrap it in a content envelope, and
// a broken deployment may return arbitrary text.
type rawCell struct {
	Value string `json:"value"`
}

type rawRow struct {
	DimensionValues []rawCell `json:"dimensionValues"`
	MetricValues    []rawCell `json:"metricValues"`
}

type rawHeader struct {
	Name string `json:"name"`
}

type rawReport struct {
	DimensionHeaders []rawHeader `json:"dimensionHeaders"`
	MetricHeaders    []rawHeader `json:"metricHeaders"`
	Rows             []rawRow    `json:"rows"`
	Totals           []rawRow    `json:"totals"`
	RowCount         int         `json:"rowCount"`
}

type contentEnvelope struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Reduce converts one raw tool result into an Artifact. Decode attempts run
// in order: a rows/totals object, a text-wrapped JSON payload, then a
// verbatim text blob with a plain summary. Later attempts only run when the
// earlier shape does not fit.
func Reduce(raw json.RawMessage, spec *perception.QuerySpec) *Artifact {
	if rep, ok := decodeReport(raw); ok {
		return build(rep, spec)
	}

	text := blobText(raw)
	return &Artifact{
		SummaryText: "The analytics tool returned an unstructured response.\n\n" + text,
		Metrics:     append([]string(nil), spec.Metrics...),
		Dimensions:  append([]string(nil), spec.Dimensions...),
		DateRanges:  append([]perception.DateRange(nil), spec.DateRanges...),
	}
}

// decodeReport tries the structured shapes.
func decodeReport(raw json.RawMessage) (*rawReport, bool) {
	var rep rawReport
	if err := json.Unmarshal(raw, &rep); err == nil && reportish(&rep) {
		return &rep, true
	}

	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		for _, c := range env.Content {
			if c.Type != "" && c.Type != "text" {
				continue
			}
			if rep2, ok := decodeReportText(c.Text); ok {
				return rep2, true
			}
		}
	}
	return nil, false
}

func decodeReportText(text string) (*rawReport, bool) {
	trimmed := strings.TrimSpace(text)

	var rep rawReport
	if err := json.Unmarshal([]byte(trimmed), &rep); err == nil && reportish(&rep) {
		return &rep, true
	}
	for _, candidate := range perception.JSONCandidates(trimmed) {
		var rep2 rawReport
		if err := json.Unmarshal([]byte(candidate), &rep2); err == nil && reportish(&rep2) {
			return &rep2, true
		}
	}
	return nil, false
}

// reportish accepts a decoded object only when it carries row data or row
// metadata; json.Unmarshal succeeds on any JSON object, so the zero value
// alone proves nothing.
func reportish(rep *rawReport) bool {
	return len(rep.Rows) > 0 || len(rep.Totals) > 0 ||
		len(rep.MetricHeaders) > 0 || rep.RowCount > 0
}

// blobText extracts displayable text from an undecodable result.
func blobText(raw json.RawMessage) string {
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Content) > 0 {
		parts := make([]string, 0, len(env.Content))
		for _, c := range env.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func build(rep *rawReport, spec *perception.QuerySpec) *Artifact {
	dims := headerNames(rep.DimensionHeaders, spec.Dimensions)
	metrics := headerNames(rep.MetricHeaders, spec.Metrics)

	rows := make([]Row, 0, len(rep.Rows))
	for _, rr := range rep.Rows {
		rows = append(rows, Row{
			DimensionValues: cellValues(rr.DimensionValues),
			MetricValues:    cellValues(rr.MetricValues),
		})
	}

	totals := serverTotals(rep, metrics)
	if totals == nil {
		totals = columnSums(rows, metrics)
	}

	a := &Artifact{
		Rows:       rows,
		Totals:     totals,
		Metrics:    metrics,
		Dimensions: dims,
		DateRanges: append([]perception.DateRange(nil), spec.DateRanges...),
	}
	a.Table = markdownTable(dims, metrics, rows)
	a.ChartSeries = chartSeries(dims, metrics, rows, spec.ChartHint)
	a.SummaryText = summarize(a, spec)
	return a
}

// headerNames prefers the tool's reported headers, falling back to the
// spec's declared order when the tool omits them.
func headerNames(headers []rawHeader, declared []string) []string {
	if len(headers) == 0 {
		return append([]string(nil), declared...)
	}
	names := make([]string, 0, len(headers))
	for _, h := range headers {
		names = append(names, h.Name)
	}
	return names
}

func cellValues(cells []rawCell) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.Value)
	}
	return out
}

// serverTotals reads the tool-computed totals row when present.
func serverTotals(rep *rawReport, metrics []string) map[string]float64 {
	if len(rep.Totals) == 0 {
		return nil
	}
	vals := rep.Totals[0].MetricValues
	if len(vals) == 0 {
		return nil
	}
	totals := make(map[string]float64, len(metrics))
	for i, m := range metrics {
		if i >= len(vals) {
			break
		}
		if n, err := strconv.ParseFloat(vals[i].Value, 64); err == nil {
			totals[m] = n
		}
	}
	if len(totals) == 0 {
		return nil
	}
	return totals
}

// columnSums computes totals by summing each metric column. Values that do
// not parse as numbers contribute nothing.
func columnSums(rows []Row, metrics []string) map[string]float64 {
	if len(rows) == 0 {
		return nil
	}
	totals := make(map[string]float64, len(metrics))
	for i, m := range metrics {
		sum := 0.0
		for _, r := range rows {
			if i >= len(r.MetricValues) {
				continue
			}
			if n, err := strconv.ParseFloat(r.MetricValues[i], 64); err == nil {
				sum += n
			}
		}
		totals[m] = sum
	}
	return totals
}

// markdownTable renders dimension columns then metric columns, a header
// row, a separator, then one row per result row.
func markdownTable(dims, metrics []string, rows []Row) string {
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}

	header := make([]string, 0, len(dims)+len(metrics))
	for _, d := range dims {
		header = append(header, DisplayLabel(d))
	}
	for _, m := range metrics {
		header = append(header, DisplayLabel(m))
	}
	writeRow(header)

	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)

	for _, r := range rows {
		cells := make([]string, 0, len(header))
		cells = append(cells, r.DimensionValues...)
		cells = append(cells, r.MetricValues...)
		for len(cells) < len(header) {
			cells = append(cells, "")
		}
		writeRow(cells)
	}
	return strings.TrimRight(b.String(), "\n")
}

// chartSeries builds the per-metric numeric series keyed by row label.
// Multi-dimension rows join their values into one label.
func chartSeries(dims, metrics []string, rows []Row, hint perception.ChartHint) *ChartSeries {
	if len(rows) == 0 || len(dims) == 0 {
		return nil
	}

	cs := &ChartSeries{
		Hint:   hint,
		Labels: make([]string, 0, len(rows)),
		Series: make(map[string][]float64, len(metrics)),
	}
	for _, r := range rows {
		cs.Labels = append(cs.Labels, strings.Join(r.DimensionValues, " / "))
	}
	for i, m := range metrics {
		series := make([]float64, 0, len(rows))
		for _, r := range rows {
			v := 0.0
			if i < len(r.MetricValues) {
				if n, err := strconv.ParseFloat(r.MetricValues[i], 64); err == nil {
					v = n
				}
			}
			series = append(series, v)
		}
		cs.Series[m] = series
	}
	return cs
}

func summarize(a *Artifact, spec *perception.QuerySpec) string {
	labels := make([]string, 0, len(a.Metrics))
	for _, m := range a.Metrics {
		labels = append(labels, DisplayLabel(m))
	}

	window := ""
	if len(spec.DateRanges) > 0 {
		r := spec.DateRanges[0]
		window = fmt.Sprintf(" (%s to %s)", r.Start, r.End)
	}

	if len(a.Rows) == 0 {
		return fmt.Sprintf("No data for %s%s.", strings.Join(labels, ", "), window)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s, %d rows.", strings.Join(labels, ", "), window, len(a.Rows))
	if a.Table != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Table)
	}
	return b.String()
}

// DisplayLabel converts a compact identifier to a spaced, capitalized
// label: "screenPageViews" becomes "Screen Page Views" and the namespaced
// "customEvent:author" becomes "Author".
func DisplayLabel(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return ""
	}

	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) && !unicode.IsUpper(runes[i-1]) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
