package perception

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"metriclens/internal/logging"
)

// FallbackTargetID is the property used when neither the text, the alias
// table, nor the caller supplies one.
const FallbackTargetID = "254899466"

var (
	targetIDRe = regexp.MustCompile(`\b\d{9,}\b`)
	topNRe     = regexp.MustCompile(`\b(?:top|first)\s+(\d+)\b`)
)

// Extractor converts free text into a QuerySpec. Deterministic rules run
// first, field by field, first match wins; texts that produce no signal at
// all are handed to the interpretation service.
type Extractor struct {
	clock   Clock
	interp  Interpreter
	aliases map[string]string
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithClock injects the time source used for date-phrase resolution.
func WithClock(c Clock) ExtractorOption {
	return func(e *Extractor) { e.clock = c }
}

// WithInterpreter attaches the natural-language interpretation service used
// as the fallback for texts the rules cannot read.
func WithInterpreter(i Interpreter) ExtractorOption {
	return func(e *Extractor) { e.interp = i }
}

// WithAliases installs the display-name -> property-id table.
func WithAliases(aliases map[string]string) ExtractorOption {
	return func(e *Extractor) {
		e.aliases = make(map[string]string, len(aliases))
		for name, id := range aliases {
			e.aliases[strings.ToLower(name)] = id
		}
	}
}

// NewExtractor builds an extractor. Without options it runs rules-only
// against the wall clock.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract turns text into a validated QuerySpec. defaultTarget is the
// caller-supplied property hint, consulted after the text and alias table.
func (e *Extractor) Extract(ctx context.Context, text, defaultTarget string) (*QuerySpec, error) {
	log := logging.Get(logging.CategoryPerception)
	lower := strings.ToLower(text)

	signals := 0

	spec := &QuerySpec{}
	spec.TargetID = e.resolveTarget(text, lower, defaultTarget)

	dateRange, dateMatched := parseDateRange(lower, e.clock())
	spec.DateRanges = []DateRange{dateRange}
	if dateMatched {
		signals++
	}

	metrics, engagementIntent, metricSignals := resolveMetrics(lower)
	spec.Metrics = metrics
	signals += metricSignals

	dims, dimSignals := matchTable(lower, dimensionSynonyms)
	signals += dimSignals
	spec.Dimensions = applyDimensionRules(dims, engagementIntent, lower, chartOf(lower))

	if f, n := buildFilters(lower); f != nil {
		spec.DimensionFilter = f
		signals += n
	}

	if m := topNRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil && n > 0 && n <= MaxRowLimit {
			spec.Limit = n
			if len(spec.Metrics) > 0 {
				spec.OrderBys = []OrderRule{{Field: spec.Metrics[0], Metric: true, Desc: true}}
			}
			signals++
		}
	}

	if hint := chartOf(lower); hint != ChartNone {
		spec.ChartHint = hint
		signals++
	}

	if containsAny(lower, compositePhrases) {
		spec.Composite = true
		signals++
	}

	if signals == 0 {
		log.Debugf("no rule signals in %q, deferring to interpretation service", text)
		return e.interpretSpec(ctx, text, defaultTarget)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("rule pass extracted %d metrics, %d dimensions (%d signals)",
		len(spec.Metrics), len(spec.Dimensions), signals)
	return spec, nil
}

// resolveTarget applies the target precedence: explicit numeric id, alias
// table, caller default, hard-coded fallback. When several aliases occur
// in the text the earliest mention wins, longest name on position ties,
// so the choice does not depend on map iteration order.
func (e *Extractor) resolveTarget(text, lower, defaultTarget string) string {
	if id := targetIDRe.FindString(text); id != "" {
		return id
	}
	bestID, bestName, bestPos := "", "", -1
	for name, id := range e.aliases {
		pos := strings.Index(lower, name)
		if pos < 0 {
			continue
		}
		if bestPos == -1 || pos < bestPos || (pos == bestPos && len(name) > len(bestName)) {
			bestID, bestName, bestPos = id, name, pos
		}
	}
	if bestPos >= 0 {
		return bestID
	}
	if defaultTarget != "" {
		return defaultTarget
	}
	return FallbackTargetID
}

// resolveMetrics scans the synonym table, falling back to the
// context-sensitive default sets. Engagement intent outranks channel intent.
func resolveMetrics(lower string) (metrics []string, engagementIntent bool, signals int) {
	engagementIntent = containsAny(lower, engagementIntentPhrases)

	explicit, n := matchTable(lower, metricSynonyms)
	if len(explicit) > 0 {
		return explicit, engagementIntent, n
	}

	switch {
	case engagementIntent:
		return append([]string(nil), engagementDefaultMetrics...), true, 1
	case containsAny(lower, channelIntentPhrases):
		return append([]string(nil), channelDefaultMetrics...), false, 1
	case containsAny(lower, pageviewIntentPhrases):
		return append([]string(nil), pageviewDefaultMetrics...), false, 1
	default:
		return append([]string(nil), generalDefaultMetrics...), false, 0
	}
}

// matchTable finds table phrases in the text with word boundaries,
// masking matched spans so a long phrase hides the shorter phrases inside
// it, then returns values ordered by their position in the text.
func matchTable(lower string, table []synonym) ([]string, int) {
	type hit struct {
		pos   int
		value string
	}
	var hits []hit
	consumed := make([][2]int, 0, 4)
	seen := make(map[string]bool)

	for _, entry := range table {
		re := wordRe(entry.phrase)
		for _, loc := range re.FindAllStringIndex(lower, -1) {
			if overlaps(loc, consumed) {
				continue
			}
			consumed = append(consumed, [2]int{loc[0], loc[1]})
			if seen[entry.value] {
				continue
			}
			seen[entry.value] = true
			hits = append(hits, hit{pos: loc[0], value: entry.value})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.value
	}
	return out, len(out)
}

var wordReCache sync.Map

func wordRe(phrase string) *regexp.Regexp {
	if re, ok := wordReCache.Load(phrase); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	wordReCache.Store(phrase, re)
	return re
}

func overlaps(loc []int, spans [][2]int) bool {
	for _, s := range spans {
		if loc[0] < s[1] && s[0] < loc[1] {
			return true
		}
	}
	return false
}

// applyDimensionRules decides whether the date dimension is prepended.
// Suppression triggers, per long-standing behavior: an explicit pie or
// doughnut chart, a categorical dimension without an explicit date ask, or
// an engagement-by-entity query (so results aggregate per entity, not per
// day). Unrecognized phrasings fall through to the default of prepending.
func applyDimensionRules(dims []string, engagementIntent bool, lower string, hint ChartHint) []string {
	for _, d := range dims {
		if d == "date" {
			return dims
		}
	}

	explicitDateAsk := containsAny(lower, explicitDatePhrases)
	suppress := false
	switch {
	case hint == ChartPie || hint == ChartDoughnut:
		suppress = true
	case len(dims) > 0 && !explicitDateAsk:
		suppress = true
	case engagementIntent && hasEntityDimension(dims):
		suppress = true
	}
	if suppress {
		return dims
	}
	return append([]string{"date"}, dims...)
}

func hasEntityDimension(dims []string) bool {
	for _, d := range dims {
		if entityDimensions[d] {
			return true
		}
	}
	return false
}

// buildFilters turns recognized country/city/device phrases into filter
// leaves, AND-combined when more than one matched.
func buildFilters(lower string) (*FilterExpr, int) {
	var leaves []*FilterExpr

	addMatches := func(field string, table []synonym) {
		seen := make(map[string]bool)
		for _, entry := range table {
			if seen[entry.value] {
				continue
			}
			if wordRe(entry.phrase).MatchString(lower) {
				seen[entry.value] = true
				leaves = append(leaves, Leaf(field, MatchExact, entry.value))
			}
		}
	}

	addMatches("country", countryFilters)
	addMatches("city", cityFilters)
	addMatches("deviceCategory", deviceFilters)

	switch len(leaves) {
	case 0:
		return nil, 0
	case 1:
		return leaves[0], 1
	default:
		return Group(CombinatorAnd, leaves...), len(leaves)
	}
}

func chartOf(lower string) ChartHint {
	for _, c := range chartPhrases {
		if strings.Contains(lower, c.phrase) {
			return c.hint
		}
	}
	return ChartNone
}

// interpretSpec asks the interpretation service for a structured spec and
// treats anything unparseable as a hard extraction failure.
func (e *Extractor) interpretSpec(ctx context.Context, text, defaultTarget string) (*QuerySpec, error) {
	if e.interp == nil {
		return nil, ErrExtractionFailed
	}

	raw, err := e.interp.Complete(ctx, interpretSystemInstruction, text)
	if err != nil {
		logging.Get(logging.CategoryPerception).Warnf("interpretation service failed: %v", err)
		return nil, ErrExtractionFailed
	}

	payload, err := decodeSpecPayload(raw)
	if err != nil {
		logging.Get(logging.CategoryPerception).Warnf("unusable interpretation response: %v", err)
		return nil, ErrExtractionFailed
	}

	spec := payload.toSpec()
	if spec.TargetID == "" {
		spec.TargetID = e.resolveTarget(text, strings.ToLower(text), defaultTarget)
	}
	if len(spec.DateRanges) == 0 {
		spec.DateRanges = []DateRange{defaultDateRange()}
	}
	if len(spec.Metrics) == 0 {
		spec.Metrics = append([]string(nil), generalDefaultMetrics...)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// specPayload is the JSON shape the interpretation service must return: a
// subset of QuerySpec.
type specPayload struct {
	TargetID   string      `json:"targetId"`
	DateRanges []DateRange `json:"dateRanges"`
	Metrics    []string    `json:"metrics"`
	Dimensions []string    `json:"dimensions"`
	Limit      int64       `json:"limit"`
	ChartHint  string      `json:"chartHint"`
	Composite  bool        `json:"isComposite"`
}

func (p *specPayload) toSpec() *QuerySpec {
	dims := make([]string, 0, len(p.Dimensions))
	seen := make(map[string]bool)
	for _, d := range p.Dimensions {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		dims = append(dims, d)
	}
	limit := p.Limit
	if limit < 0 || limit > MaxRowLimit {
		limit = 0
	}
	// The service sometimes invents hint values; anything outside the
	// enum means no hint.
	hint := ChartHint(strings.ToLower(strings.TrimSpace(p.ChartHint)))
	if !knownChartHints[hint] {
		hint = ChartNone
	}
	return &QuerySpec{
		TargetID:   p.TargetID,
		DateRanges: p.DateRanges,
		Metrics:    p.Metrics,
		Dimensions: dims,
		Limit:      limit,
		ChartHint:  hint,
		Composite:  p.Composite,
	}
}

// decodeSpecPayload parses the service response: a direct JSON object, or
// an object embedded in prose/markdown fences. No parseable object is a
// hard failure; there is no silent defaulting past this point.
func decodeSpecPayload(raw string) (*specPayload, error) {
	trimmed := strings.TrimSpace(raw)

	var p specPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err == nil {
		return &p, nil
	}

	for _, candidate := range JSONCandidates(trimmed) {
		if err := json.Unmarshal([]byte(candidate), &p); err == nil {
			return &p, nil
		}
	}
	return nil, ErrExtractionFailed
}
