package perception

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefinePromptCarriesAllThreeParts(t *testing.T) {
	failed := validSpec()
	prompt := RefinePrompt("sessions by country", failed, errors.New("unknown metric: sesions"))

	assert.Contains(t, prompt, "sessions by country")
	assert.Contains(t, prompt, `"targetId":"123456789"`)
	assert.Contains(t, prompt, "unknown metric: sesions")
}

func TestDecodeRefinedSpecCarriesOverOmittedFields(t *testing.T) {
	base := validSpec()
	base.Composite = false

	spec, err := DecodeRefinedSpec(`{"metrics": ["activeUsers"]}`, base)
	require.NoError(t, err)

	assert.Equal(t, []string{"activeUsers"}, spec.Metrics)
	assert.Equal(t, base.TargetID, spec.TargetID)
	assert.Equal(t, base.DateRanges, spec.DateRanges)
}

func TestDecodeRefinedSpecPreservesComposite(t *testing.T) {
	base := validSpec()
	base.Composite = true

	spec, err := DecodeRefinedSpec(`{"metrics": ["sessions"], "isComposite": false}`, base)
	require.NoError(t, err)
	assert.True(t, spec.Composite)
}

func TestDecodeRefinedSpecDoesNotMutateBase(t *testing.T) {
	base := validSpec()
	spec, err := DecodeRefinedSpec(`{"metrics": ["activeUsers"], "dateRanges": [{"startDate": "yesterday", "endDate": "yesterday"}]}`, base)
	require.NoError(t, err)

	spec.Metrics[0] = "mutated"
	spec.DateRanges[0].Start = "mutated"

	assert.Equal(t, "sessions", base.Metrics[0])
	assert.Equal(t, "7daysAgo", base.DateRanges[0].Start)
}

func TestDecodeRefinedSpecGarbageFails(t *testing.T) {
	_, err := DecodeRefinedSpec("I could not fix it", validSpec())
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestDecodeRefinedSpecFencedResponse(t *testing.T) {
	raw := "```json\n{\"metrics\": [\"sessions\"], \"dimensions\": [\"city\"]}\n```"
	spec, err := DecodeRefinedSpec(raw, validSpec())
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, spec.Dimensions)
}

func TestNewGeminiInterpreterRequiresKey(t *testing.T) {
	_, err := NewGeminiInterpreter(t.Context(), GeminiConfig{})
	assert.Error(t, err)
}
