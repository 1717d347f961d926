package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Interpreter is the natural-language interpretation service: one
// request/response exchange, system instructions plus user text in, raw
// model text out. Implementations must respect the context deadline.
type Interpreter interface {
	Complete(ctx context.Context, systemInstructions, userText string) (string, error)
}

// interpretSystemInstruction is the fixed contract sent with every
// extraction fallback. The service must answer with a single JSON object in
// the QuerySpec shape; anything else is treated as a failed call.
const interpretSystemInstruction = `You translate analytics questions into report specifications.
Respond with a single JSON object and nothing else, using this shape:
{"targetId": string, "dateRanges": [{"startDate": "YYYY-MM-DD or NdaysAgo", "endDate": "YYYY-MM-DD or yesterday"}], "metrics": [string], "dimensions": [string], "limit": number, "chartHint": "line|bar|pie|doughnut", "isComposite": boolean}
Metric names use reporting identifiers such as activeUsers, sessions, screenPageViews, engagementRate.
Dimension names use identifiers such as date, country, city, deviceCategory, sessionSource, pagePath.
Omit fields you cannot infer. Do not wrap the JSON in markdown fences.`

// refineSystemInstruction is the contract for correcting a rejected spec.
const refineSystemInstruction = `A report specification was rejected by the analytics backend.
Produce a corrected specification as a single JSON object in the same shape, fixing the problem the error describes.
Keep the user's intent; change only what the error requires. Do not wrap the JSON in markdown fences.`

// RefinePrompt renders the refinement request body: the original question,
// the spec that failed, and the backend's error text.
func RefinePrompt(originalText string, failed *QuerySpec, callErr error) string {
	var b strings.Builder
	b.WriteString("Original question: ")
	b.WriteString(originalText)
	b.WriteString("\n\nRejected specification: ")
	if data := specJSON(failed); data != "" {
		b.WriteString(data)
	}
	b.WriteString("\n\nBackend error: ")
	b.WriteString(callErr.Error())
	return b.String()
}

// RefineInstruction exposes the refinement contract to the resolve layer.
func RefineInstruction() string { return refineSystemInstruction }

// DecodeRefinedSpec parses a refinement response the same way the
// extraction fallback does. Base fields the service omitted are carried
// over from the failed spec.
func DecodeRefinedSpec(raw string, base *QuerySpec) (*QuerySpec, error) {
	payload, err := decodeSpecPayload(raw)
	if err != nil {
		return nil, err
	}
	spec := payload.toSpec()
	if spec.TargetID == "" {
		spec.TargetID = base.TargetID
	}
	if len(spec.DateRanges) == 0 {
		spec.DateRanges = append([]DateRange(nil), base.DateRanges...)
	}
	if len(spec.Metrics) == 0 {
		spec.Metrics = append([]string(nil), base.Metrics...)
	}
	spec.Composite = base.Composite
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// GeminiInterpreter implements Interpreter against the Gemini API.
type GeminiInterpreter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// GeminiConfig configures the interpreter client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGeminiInterpreter creates the Gemini-backed interpretation client.
func NewGeminiInterpreter(ctx context.Context, cfg GeminiConfig) (*GeminiInterpreter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("interpretation service API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create interpretation client: %w", err)
	}
	return &GeminiInterpreter{client: client, model: model, timeout: timeout}, nil
}

// Complete sends one exchange. Low temperature and a JSON response MIME
// type keep the output parseable.
func (g *GeminiInterpreter) Complete(ctx context.Context, systemInstructions, userText string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(cctx,
		g.model,
		genai.Text(userText),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstructions, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.1),
		},
	)
	if err != nil {
		return "", fmt.Errorf("interpretation request failed: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("interpretation service returned no text")
	}
	return text, nil
}

func specJSON(s *QuerySpec) string {
	if s == nil {
		return "{}"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}
