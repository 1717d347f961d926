package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metriclens/internal/mcp"
	"metriclens/internal/perception"
	"metriclens/internal/report"
	"metriclens/internal/resolve"
)

type fakeExtractor struct {
	spec         *perception.QuerySpec
	err          error
	gotText      string
	gotDefTarget string
}

func (f *fakeExtractor) Extract(_ context.Context, text, defaultTarget string) (*perception.QuerySpec, error) {
	f.gotText = text
	f.gotDefTarget = defaultTarget
	return f.spec, f.err
}

type fakeExecutor struct {
	raw   json.RawMessage
	err   error
	calls int
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, spec *perception.QuerySpec) (json.RawMessage, *perception.QuerySpec, error) {
	f.calls++
	return f.raw, spec, f.err
}

type fakeBuilder struct {
	calls int
}

func (f *fakeBuilder) BuildComposite(_ context.Context, targetID string, dateRange perception.DateRange) *report.Composite {
	f.calls++
	return &report.Composite{TargetID: targetID, Range: dateRange}
}

type fakeActivity struct {
	mu       sync.Mutex
	records  []string
	recorded chan struct{}
	saved    string
	err      error
}

func newFakeActivity() *fakeActivity {
	return &fakeActivity{recorded: make(chan struct{}, 8)}
}

func (f *fakeActivity) RecordActivity(_ context.Context, caller, action, details string) error {
	f.mu.Lock()
	f.records = append(f.records, action)
	f.mu.Unlock()
	f.recorded <- struct{}{}
	return f.err
}

func (f *fakeActivity) DefaultTarget(context.Context, string) (string, error) {
	return f.saved, nil
}

func (f *fakeActivity) waitForRecord(t *testing.T) string {
	t.Helper()
	select {
	case <-f.recorded:
	case <-time.After(2 * time.Second):
		t.Fatal("no activity record written")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[len(f.records)-1]
}

func singleSpec() *perception.QuerySpec {
	return &perception.QuerySpec{
		TargetID:   "123456789",
		DateRanges: []perception.DateRange{{Start: "7daysAgo", End: "yesterday"}},
		Metrics:    []string{"sessions"},
		Dimensions: []string{"date"},
	}
}

const resultPayload = `{
	"metricHeaders": [{"name": "sessions"}],
	"rows": [{"dimensionValues": [{"value": "20250101"}], "metricValues": [{"value": "42"}]}]
}`

func TestProcessQuerySinglePath(t *testing.T) {
	ext := &fakeExtractor{spec: singleSpec()}
	exec := &fakeExecutor{raw: json.RawMessage(resultPayload)}
	builder := &fakeBuilder{}
	activity := newFakeActivity()
	p := New(ext, exec, builder, WithActivityLog(activity))

	res, err := p.ProcessQuery(context.Background(), "sessions last week", "alice", "")
	require.NoError(t, err)

	assert.NotEmpty(t, res.RequestID)
	assert.NotEmpty(t, res.SummaryText)
	require.NotNil(t, res.Artifact)
	assert.Nil(t, res.Composite)
	assert.Len(t, res.Artifact.Rows, 1)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 0, builder.calls)
	assert.Equal(t, "query", activity.waitForRecord(t))
}

func TestProcessQueryCompositePathSkipsExecutor(t *testing.T) {
	spec := singleSpec()
	spec.Composite = true
	ext := &fakeExtractor{spec: spec}
	exec := &fakeExecutor{raw: json.RawMessage(resultPayload)}
	builder := &fakeBuilder{}
	activity := newFakeActivity()
	p := New(ext, exec, builder, WithActivityLog(activity))

	res, err := p.ProcessQuery(context.Background(), "full breakdown of my traffic", "alice", "")
	require.NoError(t, err)

	require.NotNil(t, res.Composite)
	assert.Nil(t, res.Artifact)
	assert.Equal(t, "123456789", res.Composite.TargetID)
	assert.Equal(t, 1, builder.calls)
	assert.Equal(t, 0, exec.calls)
	assert.Equal(t, "composite_report", activity.waitForRecord(t))
}

func TestProcessQueryExtractionFailure(t *testing.T) {
	ext := &fakeExtractor{err: perception.ErrExtractionFailed}
	activity := newFakeActivity()
	p := New(ext, &fakeExecutor{}, &fakeBuilder{}, WithActivityLog(activity))

	_, err := p.ProcessQuery(context.Background(), "??", "alice", "")
	assert.ErrorIs(t, err, perception.ErrExtractionFailed)
	assert.Equal(t, "query_failed", activity.waitForRecord(t))
}

func TestProcessQueryUsesSavedDefaultTarget(t *testing.T) {
	ext := &fakeExtractor{spec: singleSpec()}
	activity := newFakeActivity()
	activity.saved = "555666777"
	p := New(ext, &fakeExecutor{raw: json.RawMessage(resultPayload)}, &fakeBuilder{}, WithActivityLog(activity))

	_, err := p.ProcessQuery(context.Background(), "sessions last week", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "555666777", ext.gotDefTarget)
}

func TestProcessQueryExplicitDefaultOverridesSaved(t *testing.T) {
	ext := &fakeExtractor{spec: singleSpec()}
	activity := newFakeActivity()
	activity.saved = "555666777"
	p := New(ext, &fakeExecutor{raw: json.RawMessage(resultPayload)}, &fakeBuilder{}, WithActivityLog(activity))

	_, err := p.ProcessQuery(context.Background(), "sessions last week", "alice", "999000111")
	require.NoError(t, err)
	assert.Equal(t, "999000111", ext.gotDefTarget)
}

func TestProcessQueryActivityFailureDoesNotFailQuery(t *testing.T) {
	ext := &fakeExtractor{spec: singleSpec()}
	activity := newFakeActivity()
	activity.err = errors.New("disk full")
	p := New(ext, &fakeExecutor{raw: json.RawMessage(resultPayload)}, &fakeBuilder{}, WithActivityLog(activity))

	res, err := p.ProcessQuery(context.Background(), "sessions last week", "alice", "")
	require.NoError(t, err)
	assert.NotNil(t, res.Artifact)
	activity.waitForRecord(t)
}

func TestProcessQueryWithoutActivityLog(t *testing.T) {
	ext := &fakeExtractor{spec: singleSpec()}
	p := New(ext, &fakeExecutor{raw: json.RawMessage(resultPayload)}, &fakeBuilder{})

	res, err := p.ProcessQuery(context.Background(), "sessions last week", "alice", "")
	require.NoError(t, err)
	assert.NotNil(t, res.Artifact)
}

func TestExplain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"extraction", perception.ErrExtractionFailed, "analytics question"},
		{"transport", fmt.Errorf("connect: %w", mcp.ErrTransportUnavailable), "not reachable"},
		{"exhausted", &resolve.ExhaustedError{Attempts: 3, Last: errors.New("bad metric")}, "after 3 attempts"},
		{"candidates", fmt.Errorf("%w: last", resolve.ErrAllCandidatesFailed), "report operation"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, Explain(tt.err), tt.want)
		})
	}
}
