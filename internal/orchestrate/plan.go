// Package orchestrate runs an ordered plan of provisioning steps. Each
// step declares a failure policy, and the whole run produces a
// structured report. Progress is emitted as OpenTelemetry spans: a root
// span carrying the plan outline, then one child span per step, which
// the ui package renders as a live checklist.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName  = "townboot.plan"
	PlanVersion    = "1"
	PlanVersionKey = "townboot.plan.version"
	PlanJSONKey    = "townboot.plan.json"
)

// Policy controls what a step failure does to the rest of the run.
type Policy string

const (
	// PolicyFatal aborts the run on failure.
	PolicyFatal Policy = "fatal"
	// PolicyWarn records the failure and continues.
	PolicyWarn Policy = "warn"
	// PolicySkip keeps the step in the plan outline but never runs it.
	PolicySkip Policy = "skip"
)

// Step is one provisioning action. Run should check current host state
// first and return Skip(...) when there is nothing to do.
type Step struct {
	ID     string
	Title  string
	Policy Policy
	Run    func(ctx context.Context) error
}

// Plan is an ordered list of steps executed strictly sequentially.
type Plan struct {
	Name  string
	Steps []Step
}

// PlannedStep is the wire form of a step inside the plan outline
// attribute, decoded by the ui span processor.
type PlannedStep struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

// Outline is the plan shape emitted on the root span.
type Outline struct {
	Steps []PlannedStep `json:"steps"`
}

func (p Plan) validate() error {
	if len(p.Steps) == 0 {
		return errors.New("plan has no steps")
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
		if step.Run == nil && step.Policy != PolicySkip {
			return fmt.Errorf("step %q has no run function", id)
		}
		switch step.Policy {
		case PolicyFatal, PolicyWarn, PolicySkip:
		default:
			return fmt.Errorf("step %q has invalid policy %q", id, step.Policy)
		}
	}
	return nil
}

func (p Plan) outlineJSON() (string, error) {
	outline := Outline{Steps: make([]PlannedStep, 0, len(p.Steps))}
	for _, step := range p.Steps {
		outline.Steps = append(outline.Steps, PlannedStep{ID: step.ID, Title: step.Title})
	}
	raw, err := json.Marshal(outline)
	if err != nil {
		return "", fmt.Errorf("marshal plan outline: %w", err)
	}
	return string(raw), nil
}

// skipError marks an idempotency short-circuit: the step found the
// desired state already present.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

// Skip returns an error value signalling that the step had nothing to
// do. It is reported as "skipped", not as a failure.
func Skip(format string, a ...any) error {
	return &skipError{reason: fmt.Sprintf(format, a...)}
}

// SkipReason extracts the skip reason when err came from Skip.
func SkipReason(err error) (string, bool) {
	var se *skipError
	if errors.As(err, &se) {
		return se.reason, true
	}
	return "", false
}

// Status is the per-step outcome recorded in the report.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusWarned  Status = "warned"
	StatusFailed  Status = "failed"
	StatusNotRun  Status = "not-run"
)

// StepResult is one row of the run report.
type StepResult struct {
	ID       string
	Title    string
	Policy   Policy
	Status   Status
	Detail   string
	Duration time.Duration
}

// Report is the structured outcome of a whole run.
type Report struct {
	Name     string
	Started  time.Time
	Finished time.Time
	Results  []StepResult
}

// Failed reports whether a fatal step failed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Warned reports whether any warn-policy step failed.
func (r *Report) Warned() bool {
	for _, res := range r.Results {
		if res.Status == StatusWarned {
			return true
		}
	}
	return false
}

// Execute runs the plan. It returns the report in every case; the
// error is non-nil only when a fatal step failed (wrapping that step's
// error) or the plan itself was invalid.
func Execute(ctx context.Context, tracer trace.Tracer, plan Plan) (*Report, error) {
	if tracer == nil {
		return nil, errors.New("execute plan: tracer is required")
	}
	if err := plan.validate(); err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}
	outline, err := plan.outlineJSON()
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}

	report := &Report{Name: plan.Name, Started: time.Now()}

	rootCtx, root := tracer.Start(ctx, plan.Name, trace.WithAttributes(
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, outline),
	))
	root.AddEvent(PlanEventName, trace.WithAttributes(
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, outline),
	))

	var fatal error
	for _, step := range plan.Steps {
		if fatal != nil {
			report.Results = append(report.Results, StepResult{
				ID: step.ID, Title: step.Title, Policy: step.Policy, Status: StatusNotRun,
			})
			continue
		}
		if step.Policy == PolicySkip {
			report.Results = append(report.Results, StepResult{
				ID: step.ID, Title: step.Title, Policy: step.Policy,
				Status: StatusSkipped, Detail: "disabled",
			})
			continue
		}
		res, runErr := runOne(rootCtx, tracer, step)
		report.Results = append(report.Results, res)
		if res.Status == StatusFailed {
			fatal = fmt.Errorf("step %s: %w", res.ID, runErr)
		}
	}

	report.Finished = time.Now()
	if fatal != nil {
		root.RecordError(fatal)
		root.SetStatus(codes.Error, fatal.Error())
	}
	root.End()
	return report, fatal
}

// runOne executes one step. The returned error is the step's own
// (non-skip) error, preserved so a fatal outcome can be wrapped without
// flattening its chain.
func runOne(ctx context.Context, tracer trace.Tracer, step Step) (StepResult, error) {
	stepCtx, span := tracer.Start(ctx, step.ID)
	started := time.Now()

	result := StepResult{ID: step.ID, Title: step.Title, Policy: step.Policy}
	err := step.Run(stepCtx)
	result.Duration = time.Since(started)

	switch {
	case err == nil:
		result.Status = StatusOK
	default:
		if reason, skipped := SkipReason(err); skipped {
			result.Status = StatusSkipped
			result.Detail = reason
			err = nil
			break
		}
		result.Detail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		if step.Policy == PolicyWarn {
			result.Status = StatusWarned
		} else {
			result.Status = StatusFailed
		}
	}
	span.End()
	return result, err
}
