// Package pipeline is the entry point tying the stages together: text in,
// summary and structured data out. Composite questions fan out through the
// orchestrator; everything else runs the single-query refinement path.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"metriclens/internal/logging"
	"metriclens/internal/mcp"
	"metriclens/internal/perception"
	"metriclens/internal/report"
	"metriclens/internal/resolve"
)

// Result is one answered query.
type Result struct {
	RequestID   string            `json:"requestId"`
	SummaryText string            `json:"summaryText"`
	Artifact    *report.Artifact  `json:"artifact,omitempty"`
	Composite   *report.Composite `json:"composite,omitempty"`
}

// Extractor is the perception stage.
type Extractor interface {
	Extract(ctx context.Context, text, defaultTarget string) (*perception.QuerySpec, error)
}

// Executor is the single-query stage.
type Executor interface {
	Execute(ctx context.Context, text string, spec *perception.QuerySpec) (json.RawMessage, *perception.QuerySpec, error)
}

// CompositeBuilder is the fan-out stage.
type CompositeBuilder interface {
	BuildComposite(ctx context.Context, targetID string, dateRange perception.DateRange) *report.Composite
}

// ActivityLog is the fire-and-forget audit sink. Optional.
type ActivityLog interface {
	RecordActivity(ctx context.Context, caller, action, details string) error
	DefaultTarget(ctx context.Context, caller string) (string, error)
}

// Pipeline wires the stages.
type Pipeline struct {
	extractor Extractor
	executor  Executor
	builder   CompositeBuilder
	activity  ActivityLog
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithActivityLog attaches the audit sink and preference source.
func WithActivityLog(a ActivityLog) Option {
	return func(p *Pipeline) { p.activity = a }
}

// New builds a pipeline.
func New(extractor Extractor, executor Executor, builder CompositeBuilder, opts ...Option) *Pipeline {
	p := &Pipeline{extractor: extractor, executor: executor, builder: builder}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessQuery answers one question. callerID identifies the requester for
// the activity log and saved preferences; defaultTargetID, when given,
// overrides the caller's saved default property.
func (p *Pipeline) ProcessQuery(ctx context.Context, text, callerID, defaultTargetID string) (*Result, error) {
	log := logging.Get(logging.CategoryPipeline)
	requestID := uuid.NewString()
	log.Infof("request %s from %s: %q", requestID, callerID, text)

	if defaultTargetID == "" && p.activity != nil {
		saved, err := p.activity.DefaultTarget(ctx, callerID)
		if err != nil {
			log.Warnf("request %s: saved default target unavailable: %v", requestID, err)
		} else {
			defaultTargetID = saved
		}
	}

	spec, err := p.extractor.Extract(ctx, text, defaultTargetID)
	if err != nil {
		p.logActivity(callerID, "query_failed", fmt.Sprintf("request %s: %v", requestID, err))
		return nil, err
	}

	if spec.Composite {
		comp := p.builder.BuildComposite(ctx, spec.TargetID, spec.DateRanges[0])
		p.logActivity(callerID, "composite_report",
			fmt.Sprintf("request %s: property %s, %d/%d sections", requestID, spec.TargetID, comp.Succeeded(), len(comp.Sections)))
		return &Result{
			RequestID:   requestID,
			SummaryText: comp.Summary(),
			Composite:   comp,
		}, nil
	}

	raw, usedSpec, err := p.executor.Execute(ctx, text, spec)
	if err != nil {
		p.logActivity(callerID, "query_failed", fmt.Sprintf("request %s: %v", requestID, err))
		return nil, err
	}

	artifact := report.Reduce(raw, usedSpec)
	p.logActivity(callerID, "query",
		fmt.Sprintf("request %s: property %s, %d rows", requestID, usedSpec.TargetID, len(artifact.Rows)))
	return &Result{
		RequestID:   requestID,
		SummaryText: artifact.SummaryText,
		Artifact:    artifact,
	}, nil
}

// logActivity records fire-and-forget: logging failures never fail the
// query, and the write is detached from the request context so a finished
// request does not cancel it.
func (p *Pipeline) logActivity(caller, action, details string) {
	if p.activity == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.activity.RecordActivity(ctx, caller, action, details); err != nil {
			logging.Get(logging.CategoryPipeline).Debugf("activity log write failed: %v", err)
		}
	}()
}

// Explain translates the error taxonomy into a user-facing message.
func Explain(err error) string {
	if err == nil {
		return ""
	}

	var exhausted *resolve.ExhaustedError
	switch {
	case errors.Is(err, perception.ErrExtractionFailed):
		return "I could not understand that as an analytics question. Try naming a metric, like \"sessions last week\"."
	case errors.Is(err, mcp.ErrTransportUnavailable):
		return "The analytics tool is not reachable. Check that the tool command and credentials are configured."
	case errors.As(err, &exhausted):
		return fmt.Sprintf("The report failed after %d attempts. Last error: %v", exhausted.Attempts, exhausted.Last)
	case errors.Is(err, resolve.ErrAllCandidatesFailed):
		return "The analytics tool does not expose a report operation this client recognizes."
	default:
		return err.Error()
	}
}
