package perception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() *QuerySpec {
	return &QuerySpec{
		TargetID:   "123456789",
		DateRanges: []DateRange{{Start: "7daysAgo", End: "yesterday"}},
		Metrics:    []string{"sessions"},
		Dimensions: []string{"date", "country"},
	}
}

func TestQuerySpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*QuerySpec)
		ok     bool
	}{
		{"valid", func(*QuerySpec) {}, true},
		{"missing target", func(s *QuerySpec) { s.TargetID = "" }, false},
		{"no metrics", func(s *QuerySpec) { s.Metrics = nil }, false},
		{"no date ranges", func(s *QuerySpec) { s.DateRanges = nil }, false},
		{"duplicate dimension", func(s *QuerySpec) { s.Dimensions = []string{"date", "date"} }, false},
		{"negative limit", func(s *QuerySpec) { s.Limit = -1 }, false},
		{"limit over cap", func(s *QuerySpec) { s.Limit = MaxRowLimit + 1 }, false},
		{"limit at cap", func(s *QuerySpec) { s.Limit = MaxRowLimit }, true},
		{"known chart hint", func(s *QuerySpec) { s.ChartHint = ChartDoughnut }, true},
		{"unknown chart hint", func(s *QuerySpec) { s.ChartHint = ChartHint("sparkline") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mutate(s)
			err := s.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrExtractionFailed)
			}
		})
	}
}

func TestQuerySpecCloneIsDeep(t *testing.T) {
	s := validSpec()
	s.DimensionFilter = Group(CombinatorAnd,
		Leaf("country", MatchExact, "Germany"),
		Leaf("deviceCategory", MatchExact, "mobile"),
	)
	s.OrderBys = []OrderRule{{Field: "sessions", Metric: true, Desc: true}}

	c := s.Clone()
	c.Metrics[0] = "activeUsers"
	c.DateRanges[0].Start = "14daysAgo"
	c.Dimensions[0] = "city"
	c.DimensionFilter.Children[0].Value = "France"
	c.OrderBys[0].Desc = false

	assert.Equal(t, "sessions", s.Metrics[0])
	assert.Equal(t, "7daysAgo", s.DateRanges[0].Start)
	assert.Equal(t, "date", s.Dimensions[0])
	assert.Equal(t, "Germany", s.DimensionFilter.Children[0].Value)
	assert.True(t, s.OrderBys[0].Desc)
}

func TestQuerySpecArguments(t *testing.T) {
	s := validSpec()
	s.DateRanges[0].Label = "last_7_days"
	s.Limit = 10
	s.OrderBys = []OrderRule{{Field: "sessions", Metric: true, Desc: true}}
	s.DimensionFilter = Leaf("country", MatchExact, "Germany")

	args := s.Arguments()

	assert.Equal(t, "123456789", args["propertyId"])
	assert.Equal(t, []string{"sessions"}, args["metrics"])
	assert.Equal(t, []string{"date", "country"}, args["dimensions"])
	assert.Equal(t, int64(10), args["limit"])

	ranges, ok := args["dateRanges"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, ranges, 1)
	assert.Equal(t, map[string]string{"startDate": "7daysAgo", "endDate": "yesterday", "name": "last_7_days"}, ranges[0])

	filter, ok := args["dimensionFilter"].(map[string]any)
	require.True(t, ok)
	inner := filter["filter"].(map[string]any)
	assert.Equal(t, "country", inner["fieldName"])
	sf := inner["stringFilter"].(map[string]any)
	assert.Equal(t, "EXACT", sf["matchType"])
	assert.Equal(t, "Germany", sf["value"])
}

func TestQuerySpecArgumentsOmitsEmpty(t *testing.T) {
	s := validSpec()
	s.Dimensions = nil

	args := s.Arguments()
	_, hasDims := args["dimensions"]
	_, hasLimit := args["limit"]
	_, hasFilter := args["dimensionFilter"]
	_, hasOrder := args["orderBys"]

	assert.False(t, hasDims)
	assert.False(t, hasLimit)
	assert.False(t, hasFilter)
	assert.False(t, hasOrder)
}

func TestFilterExprWireGroups(t *testing.T) {
	f := Group(CombinatorOr,
		Leaf("country", MatchExact, "Germany"),
		Leaf("country", MatchExact, "France"),
	)

	wire := f.wire()
	group, ok := wire["orGroup"].(map[string]any)
	require.True(t, ok)
	exprs := group["expressions"].([]map[string]any)
	assert.Len(t, exprs, 2)
}
