// Package perception turns free-form analytics questions into validated
// QuerySpecs. A deterministic rule pass runs first; only low-confidence
// texts fall through to the natural-language interpretation service.
package perception

import (
	"errors"
	"fmt"
)

// ErrExtractionFailed means the text could not be turned into a spec, even
// with the interpretation service. Terminal for the current request.
var ErrExtractionFailed = errors.New("could not extract a query from the request")

// MaxRowLimit caps the rows a single query may request.
const MaxRowLimit = 250000

// ChartHint is the caller's requested visualization, if any.
type ChartHint string

const (
	ChartNone     ChartHint = ""
	ChartLine     ChartHint = "line"
	ChartBar      ChartHint = "bar"
	ChartPie      ChartHint = "pie"
	ChartDoughnut ChartHint = "doughnut"
)

var knownChartHints = map[ChartHint]bool{
	ChartNone: true, ChartLine: true, ChartBar: true, ChartPie: true, ChartDoughnut: true,
}

// DateRange is one reporting window. Start and End are either absolute
// YYYY-MM-DD dates or the relative tokens the reporting tool accepts
// ("yesterday", "7daysAgo").
type DateRange struct {
	Start string `json:"startDate"`
	End   string `json:"endDate"`
	Label string `json:"name,omitempty"`
}

// MatchKind is a filter leaf's comparison operator.
type MatchKind string

const (
	MatchExact    MatchKind = "EXACT"
	MatchContains MatchKind = "CONTAINS"
	MatchBegins   MatchKind = "BEGINS_WITH"
)

// Combinator joins a filter group's children.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// FilterExpr is a leaf comparison or a group of sub-expressions. A node is
// a group when it has children; leaf fields are ignored on groups. Trees
// are built fresh each parse and never link back to a parent, so they are
// acyclic by construction.
type FilterExpr struct {
	// Leaf
	Field         string    `json:"field,omitempty"`
	Match         MatchKind `json:"match,omitempty"`
	Value         string    `json:"value,omitempty"`
	CaseSensitive bool      `json:"caseSensitive,omitempty"`

	// Group
	Op       Combinator    `json:"op,omitempty"`
	Children []*FilterExpr `json:"children,omitempty"`
}

// IsGroup reports whether the node is a combinator group.
func (f *FilterExpr) IsGroup() bool { return f != nil && len(f.Children) > 0 }

// Leaf builds a leaf comparison node.
func Leaf(field string, match MatchKind, value string) *FilterExpr {
	return &FilterExpr{Field: field, Match: match, Value: value}
}

// Group builds a combinator node over children.
func Group(op Combinator, children ...*FilterExpr) *FilterExpr {
	return &FilterExpr{Op: op, Children: children}
}

// OrderRule orders results by a metric or dimension.
type OrderRule struct {
	Field  string `json:"field"`
	Metric bool   `json:"metric"`
	Desc   bool   `json:"desc"`
}

// QuerySpec is the structured, validated representation of a report
// request. Treated as immutable once handed downstream: refinement produces
// a fresh spec, never edits one in place.
type QuerySpec struct {
	TargetID        string      `json:"targetId"`
	DateRanges      []DateRange `json:"dateRanges"`
	Metrics         []string    `json:"metrics"`
	Dimensions      []string    `json:"dimensions"`
	DimensionFilter *FilterExpr `json:"dimensionFilter,omitempty"`
	MetricFilter    *FilterExpr `json:"metricFilter,omitempty"`
	OrderBys        []OrderRule `json:"orderBys,omitempty"`
	Limit           int64       `json:"limit,omitempty"`
	ChartHint       ChartHint   `json:"chartHint,omitempty"`
	Composite       bool        `json:"isComposite"`
}

// Validate enforces the QuerySpec invariants.
func (s *QuerySpec) Validate() error {
	if s.TargetID == "" {
		return fmt.Errorf("%w: no target property", ErrExtractionFailed)
	}
	if len(s.Metrics) == 0 {
		return fmt.Errorf("%w: at least one metric is required", ErrExtractionFailed)
	}
	if len(s.DateRanges) == 0 {
		return fmt.Errorf("%w: at least one date range is required", ErrExtractionFailed)
	}
	seen := make(map[string]struct{}, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if _, dup := seen[d]; dup {
			return fmt.Errorf("%w: duplicate dimension %q", ErrExtractionFailed, d)
		}
		seen[d] = struct{}{}
	}
	if s.Limit < 0 || s.Limit > MaxRowLimit {
		return fmt.Errorf("%w: limit %d outside (0, %d]", ErrExtractionFailed, s.Limit, MaxRowLimit)
	}
	if !knownChartHints[s.ChartHint] {
		return fmt.Errorf("%w: unknown chart hint %q", ErrExtractionFailed, s.ChartHint)
	}
	return nil
}

// Clone returns a deep copy. Refinement edits the copy so the spec a caller
// holds never changes underneath it.
func (s *QuerySpec) Clone() *QuerySpec {
	out := *s
	out.DateRanges = append([]DateRange(nil), s.DateRanges...)
	out.Metrics = append([]string(nil), s.Metrics...)
	out.Dimensions = append([]string(nil), s.Dimensions...)
	out.OrderBys = append([]OrderRule(nil), s.OrderBys...)
	out.DimensionFilter = s.DimensionFilter.clone()
	out.MetricFilter = s.MetricFilter.clone()
	return &out
}

func (f *FilterExpr) clone() *FilterExpr {
	if f == nil {
		return nil
	}
	out := *f
	if len(f.Children) > 0 {
		out.Children = make([]*FilterExpr, len(f.Children))
		for i, c := range f.Children {
			out.Children[i] = c.clone()
		}
	}
	return &out
}

// Arguments renders the spec as the key/value map the reporting operation
// expects on the wire.
func (s *QuerySpec) Arguments() map[string]any {
	ranges := make([]map[string]string, 0, len(s.DateRanges))
	for _, r := range s.DateRanges {
		m := map[string]string{"startDate": r.Start, "endDate": r.End}
		if r.Label != "" {
			m["name"] = r.Label
		}
		ranges = append(ranges, m)
	}

	args := map[string]any{
		"propertyId": s.TargetID,
		"dateRanges": ranges,
		"metrics":    append([]string(nil), s.Metrics...),
	}
	if len(s.Dimensions) > 0 {
		args["dimensions"] = append([]string(nil), s.Dimensions...)
	}
	if s.DimensionFilter != nil {
		args["dimensionFilter"] = s.DimensionFilter.wire()
	}
	if s.MetricFilter != nil {
		args["metricFilter"] = s.MetricFilter.wire()
	}
	if len(s.OrderBys) > 0 {
		rules := make([]map[string]any, 0, len(s.OrderBys))
		for _, o := range s.OrderBys {
			rules = append(rules, map[string]any{"field": o.Field, "metric": o.Metric, "desc": o.Desc})
		}
		args["orderBys"] = rules
	}
	if s.Limit > 0 {
		args["limit"] = s.Limit
	}
	return args
}

func (f *FilterExpr) wire() map[string]any {
	if f.IsGroup() {
		children := make([]map[string]any, 0, len(f.Children))
		for _, c := range f.Children {
			children = append(children, c.wire())
		}
		key := "andGroup"
		if f.Op == CombinatorOr {
			key = "orGroup"
		}
		return map[string]any{key: map[string]any{"expressions": children}}
	}
	return map[string]any{
		"filter": map[string]any{
			"fieldName": f.Field,
			"stringFilter": map[string]any{
				"matchType":     string(f.Match),
				"value":         f.Value,
				"caseSensitive": f.CaseSensitive,
			},
		},
	}
}
