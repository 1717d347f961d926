package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"metriclens/internal/logging"
	"metriclens/internal/perception"
	"metriclens/internal/resolve"
)

// DefaultSectionTimeout bounds each sub-query independently.
const DefaultSectionTimeout = 30 * time.Second

// DefaultBreakdownLimit caps the rows each breakdown section requests.
const DefaultBreakdownLimit = 10

// runner is the slice of the resolver the orchestrator needs.
type runner interface {
	Resolve(ctx context.Context, capability resolve.Capability, args map[string]any) (json.RawMessage, string, error)
}

// SectionResult is one settled sub-query: an artifact on success, an error
// on failure, never both. A failed section never removes itself from the
// composite.
type SectionResult struct {
	Name     string
	Title    string
	Artifact *Artifact
	Err      error
}

// Failed reports whether this section settled with an error.
func (s *SectionResult) Failed() bool { return s.Err != nil }

// Composite is the settled outcome of a full multi-section run. Sections
// keep their battery order regardless of completion order.
type Composite struct {
	TargetID string
	Range    perception.DateRange
	Sections []SectionResult
}

// Succeeded counts sections that produced an artifact.
func (c *Composite) Succeeded() int {
	n := 0
	for i := range c.Sections {
		if !c.Sections[i].Failed() {
			n++
		}
	}
	return n
}

// MissingSections names the sections that failed, for annotating a partial
// report.
func (c *Composite) MissingSections() []string {
	var missing []string
	for i := range c.Sections {
		if c.Sections[i].Failed() {
			missing = append(missing, c.Sections[i].Title)
		}
	}
	return missing
}

// Summary renders the composite as display text: each successful section
// under its title, then a note naming the sections that are missing. A
// fully failed composite still renders, as a no-data notice.
func (c *Composite) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comprehensive report for property %s (%s to %s)\n",
		c.TargetID, c.Range.Start, c.Range.End)

	for i := range c.Sections {
		s := &c.Sections[i]
		if s.Failed() {
			continue
		}
		b.WriteString("\n## ")
		b.WriteString(s.Title)
		b.WriteString("\n\n")
		b.WriteString(s.Artifact.SummaryText)
		b.WriteString("\n")
	}

	if c.Succeeded() == 0 {
		b.WriteString("\nNo report data could be retrieved.\n")
	}
	if missing := c.MissingSections(); len(missing) > 0 {
		fmt.Fprintf(&b, "\nUnavailable sections: %s.\n", strings.Join(missing, ", "))
	}
	return b.String()
}

// Orchestrator fans a composite request out into the fixed section battery,
// all sub-queries concurrent against the shared connection, each outcome
// captured independently.
type Orchestrator struct {
	runner         runner
	sectionTimeout time.Duration
	breakdownLimit int64
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSectionTimeout overrides the per-section deadline.
func WithSectionTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sectionTimeout = d
		}
	}
}

// WithBreakdownLimit overrides the row cap on breakdown sections.
func WithBreakdownLimit(n int64) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.breakdownLimit = n
		}
	}
}

// NewOrchestrator builds an orchestrator over the resolver.
func NewOrchestrator(r runner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner:         r,
		sectionTimeout: DefaultSectionTimeout,
		breakdownLimit: DefaultBreakdownLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sectionDef is one entry in the fixed battery.
type sectionDef struct {
	name    string
	title   string
	metrics []string
	dims    []string
	limited bool
}

// The battery. Order is presentation order; every composite report carries
// all seven sections.
var sections = []sectionDef{
	{name: "overview", title: "Overview", metrics: []string{"activeUsers", "sessions", "screenPageViews", "newUsers"}},
	{name: "engagement", title: "Engagement", metrics: []string{"engagementRate", "engagedSessions", "eventCount", "averageSessionDuration"}},
	{name: "channels", title: "Channel Breakdown", metrics: []string{"sessions", "activeUsers"}, dims: []string{"sessionDefaultChannelGroup"}, limited: true},
	{name: "countries", title: "Country Breakdown", metrics: []string{"activeUsers", "sessions"}, dims: []string{"country"}, limited: true},
	{name: "browsers", title: "Browser Breakdown", metrics: []string{"sessions"}, dims: []string{"browser"}, limited: true},
	{name: "devices", title: "Device Breakdown", metrics: []string{"sessions", "activeUsers"}, dims: []string{"deviceCategory"}, limited: true},
	{name: "trend", title: "Daily Trend", metrics: []string{"activeUsers", "sessions"}, dims: []string{"date"}},
}

// BuildComposite dispatches all sections concurrently and returns once
// every one has settled. Zero successful sections is still a result, not an
// error; the caller renders a no-data state from it. Cancelling ctx cancels
// unresolved sections without touching already-settled ones.
func (o *Orchestrator) BuildComposite(ctx context.Context, targetID string, dateRange perception.DateRange) *Composite {
	log := logging.Get(logging.CategoryReport)
	start := time.Now()

	comp := &Composite{
		TargetID: targetID,
		Range:    dateRange,
		Sections: make([]SectionResult, len(sections)),
	}

	var g errgroup.Group
	for i, def := range sections {
		g.Go(func() error {
			comp.Sections[i] = o.runSection(ctx, def, targetID, dateRange)
			return nil
		})
	}
	g.Wait()

	log.Infof("composite report for %s settled: %d/%d sections in %s",
		targetID, comp.Succeeded(), len(sections), time.Since(start).Round(time.Millisecond))
	return comp
}

// runSection executes one sub-query under its own deadline. Failures are
// captured, never propagated.
func (o *Orchestrator) runSection(ctx context.Context, def sectionDef, targetID string, dateRange perception.DateRange) SectionResult {
	res := SectionResult{Name: def.name, Title: def.title}

	spec := o.sectionSpec(def, targetID, dateRange)
	sctx, cancel := context.WithTimeout(ctx, o.sectionTimeout)
	defer cancel()

	raw, _, err := o.runner.Resolve(sctx, resolve.CapRunReport, spec.Arguments())
	if err != nil {
		logging.Get(logging.CategoryReport).Warnf("section %s failed: %v", def.name, err)
		res.Err = err
		return res
	}
	res.Artifact = Reduce(raw, spec)
	return res
}

func (o *Orchestrator) sectionSpec(def sectionDef, targetID string, dateRange perception.DateRange) *perception.QuerySpec {
	spec := &perception.QuerySpec{
		TargetID:   targetID,
		DateRanges: []perception.DateRange{dateRange},
		Metrics:    append([]string(nil), def.metrics...),
		Dimensions: append([]string(nil), def.dims...),
	}
	if def.limited {
		spec.Limit = o.breakdownLimit
	}
	return spec
}
