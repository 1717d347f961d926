package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"metriclens/internal/logging"
	"metriclens/internal/mcp"
	"metriclens/internal/perception"
)

// DefaultMaxAttempts is one initial try plus two refinements.
const DefaultMaxAttempts = 3

// reportRunner is the slice of the resolver the loop needs. Tests inject a
// scripted implementation.
type reportRunner interface {
	Resolve(ctx context.Context, capability Capability, args map[string]any) (json.RawMessage, string, error)
}

// ExhaustedError means the attempt budget ran out without a success.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("report failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Loop executes a report spec with a bounded retry budget. Between
// attempts, the interpretation service is shown the original question, the
// failed spec, and the error text, and asked for a corrected spec. Attempts
// are sequential so each refinement sees the prior failure. The caller's
// spec and text are never mutated.
type Loop struct {
	runner      reportRunner
	interp      perception.Interpreter
	maxAttempts int
	enabled     bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithInterpreter attaches the interpretation service used to produce
// corrected specs.
func WithInterpreter(i perception.Interpreter) LoopOption {
	return func(l *Loop) { l.interp = i }
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) LoopOption {
	return func(l *Loop) {
		if n >= 1 {
			l.maxAttempts = n
		}
	}
}

// WithRefinementEnabled toggles refinement. Disabled, the loop makes a
// single attempt and reports its failure directly.
func WithRefinementEnabled(enabled bool) LoopOption {
	return func(l *Loop) { l.enabled = enabled }
}

// NewLoop builds a refinement loop over the resolver.
func NewLoop(runner reportRunner, opts ...LoopOption) *Loop {
	l := &Loop{runner: runner, maxAttempts: DefaultMaxAttempts, enabled: true}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execute runs the report, refining the spec between failed attempts. On
// success it returns the raw result and the spec that finally worked, which
// is the input spec itself when the first attempt lands.
func (l *Loop) Execute(ctx context.Context, text string, spec *perception.QuerySpec) (json.RawMessage, *perception.QuerySpec, error) {
	log := logging.Get(logging.CategoryResolve)

	current := spec
	var last error
	attempts := 0

	for attempts < l.maxAttempts {
		attempts++
		out, op, err := l.runner.Resolve(ctx, CapRunReport, current.Arguments())
		if err == nil {
			if attempts > 1 {
				log.Infof("report succeeded via %s on attempt %d", op, attempts)
			}
			return out, current, nil
		}
		last = err

		if errors.Is(err, mcp.ErrTransportUnavailable) {
			break
		}
		if !l.enabled || l.interp == nil || attempts == l.maxAttempts {
			break
		}

		refined, rerr := l.refine(ctx, text, current, err)
		if rerr != nil {
			log.Warnf("refinement after attempt %d failed: %v", attempts, rerr)
			break
		}
		log.Debugf("attempt %d failed (%v), retrying with refined spec", attempts, err)
		current = refined
	}

	return nil, nil, &ExhaustedError{Attempts: attempts, Last: last}
}

// refine asks the interpretation service for a corrected spec. The failed
// spec is cloned before being serialized so the caller's copy stays intact.
func (l *Loop) refine(ctx context.Context, text string, failed *perception.QuerySpec, callErr error) (*perception.QuerySpec, error) {
	prompt := perception.RefinePrompt(text, failed.Clone(), callErr)
	raw, err := l.interp.Complete(ctx, perception.RefineInstruction(), prompt)
	if err != nil {
		return nil, err
	}
	return perception.DecodeRefinedSpec(raw, failed)
}
