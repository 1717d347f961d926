package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metriclens/internal/mcp"
)

// fakeInvoker scripts per-operation outcomes and records call order.
type fakeInvoker struct {
	catalog []string
	results map[string]json.RawMessage
	errs    map[string]error
	calls   []string
}

func (f *fakeInvoker) ListOperations(context.Context) []string { return f.catalog }

func (f *fakeInvoker) Invoke(_ context.Context, name string, _ map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if out, ok := f.results[name]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("invoke %s: %w", name, mcp.ErrOperationNotFound)
}

func TestResolveTriesCandidatesInOrderAndShortCircuits(t *testing.T) {
	inv := &fakeInvoker{
		errs:    map[string]error{"run_report": fmt.Errorf("invoke run_report: %w", mcp.ErrOperationNotFound)},
		results: map[string]json.RawMessage{"runReport": json.RawMessage(`{"rows": []}`)},
	}
	r := NewResolver(inv)

	out, used, err := r.Resolve(context.Background(), CapRunReport, nil)
	require.NoError(t, err)

	assert.Equal(t, "runReport", used)
	assert.JSONEq(t, `{"rows": []}`, string(out))
	// First candidate failed, second succeeded, third never tried.
	assert.Equal(t, []string{"run_report", "runReport"}, inv.calls)
}

func TestResolveAllCandidatesFailed(t *testing.T) {
	inv := &fakeInvoker{}
	r := NewResolver(inv)

	_, _, err := r.Resolve(context.Background(), CapRunReport, nil)
	assert.ErrorIs(t, err, ErrAllCandidatesFailed)
	assert.ErrorIs(t, err, mcp.ErrOperationNotFound)
	assert.Len(t, inv.calls, len(CapRunReport.static))
}

func TestResolveValidationErrorSurfacesImmediately(t *testing.T) {
	inv := &fakeInvoker{
		errs: map[string]error{"run_report": fmt.Errorf("invoke run_report: %w", mcp.ErrRemoteValidation)},
	}
	r := NewResolver(inv)

	_, _, err := r.Resolve(context.Background(), CapRunReport, nil)
	assert.ErrorIs(t, err, mcp.ErrRemoteValidation)
	assert.NotErrorIs(t, err, ErrAllCandidatesFailed)
	// The operation exists; guessing other names cannot fix bad parameters.
	assert.Equal(t, []string{"run_report"}, inv.calls)
}

func TestResolveTransportFailureAborts(t *testing.T) {
	inv := &fakeInvoker{
		errs: map[string]error{"run_report": mcp.ErrTransportUnavailable},
	}
	r := NewResolver(inv)

	_, _, err := r.Resolve(context.Background(), CapRunReport, nil)
	assert.ErrorIs(t, err, mcp.ErrTransportUnavailable)
	assert.Len(t, inv.calls, 1)
}

func TestCandidatesRankCatalogMatchesFirst(t *testing.T) {
	inv := &fakeInvoker{
		catalog: []string{"list_properties", "Google_Analytics.runReport", "get_metadata"},
		results: map[string]json.RawMessage{"Google_Analytics.runReport": json.RawMessage(`{}`)},
	}
	r := NewResolver(inv)

	_, used, err := r.Resolve(context.Background(), CapRunReport, nil)
	require.NoError(t, err)
	assert.Equal(t, "Google_Analytics.runReport", used)
	assert.Equal(t, []string{"Google_Analytics.runReport"}, inv.calls)
}

func TestCandidatesCachedOncePerCapability(t *testing.T) {
	inv := &fakeInvoker{
		catalog: []string{"custom_run_report"},
		results: map[string]json.RawMessage{"custom_run_report": json.RawMessage(`{}`)},
	}
	r := NewResolver(inv)

	_, _, err := r.Resolve(context.Background(), CapRunReport, nil)
	require.NoError(t, err)

	// Second resolve reuses the ranked list without re-listing the catalog.
	inv.catalog = nil
	_, used, err := r.Resolve(context.Background(), CapRunReport, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom_run_report", used)
}

func TestCandidatesStaticWhenCatalogEmpty(t *testing.T) {
	r := NewResolver(&fakeInvoker{})
	got := r.candidates(context.Background(), CapRunReport)
	assert.Equal(t, CapRunReport.static, got)
}

func TestResolveAccountListingViaCatalog(t *testing.T) {
	inv := &fakeInvoker{
		catalog: []string{"runReport", "getAccountSummaries"},
		results: map[string]json.RawMessage{"getAccountSummaries": json.RawMessage(`{"accounts": []}`)},
	}
	r := NewResolver(inv)

	_, used, err := r.Resolve(context.Background(), CapListAccounts, nil)
	require.NoError(t, err)
	assert.Equal(t, "getAccountSummaries", used)
}

func TestMatchesKeywords(t *testing.T) {
	assert.True(t, matchesKeywords("run_report", []string{"runreport"}))
	assert.True(t, matchesKeywords("Google-Analytics.RunReport", []string{"runreport"}))
	assert.False(t, matchesKeywords("list_properties", []string{"runreport", "report"}))
}

func TestErrorOrderOfErrorsIs(t *testing.T) {
	err := fmt.Errorf("%w for %q: %w", ErrAllCandidatesFailed, "run report", errors.New("boom"))
	assert.ErrorIs(t, err, ErrAllCandidatesFailed)
}
