// Package exec applies a planned step list to the container runtime.
// Failures are isolated per service: a failed step skips the rest of that
// service's sequence but never aborts the pass. There is no in-place retry;
// the next reconciliation cycle re-plans from observed state and picks up
// whatever is still missing.
package exec

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/plan"
	"github.com/avelkov/edge-agent/internal/target"
)

// Ops is the subset of the runtime the executor mutates through.
type Ops interface {
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, service string, cfg target.ServiceConfig) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
}

// StepResult records the outcome of a single step. Skipped is set when an
// earlier step of the same service already failed this pass.
type StepResult struct {
	Step    plan.Step
	Err     error
	Skipped bool
}

// Executor runs plans against a runtime.
type Executor struct {
	logger zerolog.Logger
	ops    Ops
}

// New constructs an Executor.
func New(logger zerolog.Logger, ops Ops) *Executor {
	return &Executor{logger: logger, ops: ops}
}

// Execute applies the steps in order and reports per-step outcomes.
// Images are pulled at most once per call, however many services share them.
func (e *Executor) Execute(ctx context.Context, steps []plan.Step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	failedServices := make(map[string]struct{})
	pulledImages := make(map[string]struct{})

	for _, step := range steps {
		if _, failed := failedServices[step.Service]; failed {
			e.logger.Debug().
				Str("service", step.Service).
				Str("action", string(step.Action)).
				Msg("skipping step after earlier failure in service")
			results = append(results, StepResult{Step: step, Skipped: true})
			continue
		}

		err := e.executeStep(ctx, step, pulledImages)
		if err != nil {
			failedServices[step.Service] = struct{}{}
			e.logger.Error().
				Err(err).
				Str("service", step.Service).
				Str("action", string(step.Action)).
				Msg("step failed")
		} else {
			e.logger.Info().
				Str("service", step.Service).
				Str("action", string(step.Action)).
				Msg("step applied")
		}
		results = append(results, StepResult{Step: step, Err: err})
	}

	return results
}

func (e *Executor) executeStep(ctx context.Context, step plan.Step, pulledImages map[string]struct{}) error {
	switch step.Action {
	case plan.ActionPullImage:
		if _, done := pulledImages[step.Config.Image]; done {
			return nil
		}
		if err := e.ops.PullImage(ctx, step.Config.Image); err != nil {
			return wrapStep(step, err)
		}
		pulledImages[step.Config.Image] = struct{}{}
		return nil

	case plan.ActionStartContainer:
		id := step.ContainerID
		if id == "" {
			created, err := e.ops.CreateContainer(ctx, step.Service, step.Config)
			if err != nil {
				return wrapStep(step, err)
			}
			id = created
		}
		if err := e.ops.StartContainer(ctx, id); err != nil {
			return wrapStep(step, err)
		}
		return nil

	case plan.ActionStopContainer:
		if err := e.ops.StopContainer(ctx, step.ContainerID); err != nil {
			return wrapStep(step, err)
		}
		return nil

	case plan.ActionRemoveContainer:
		if err := e.ops.RemoveContainer(ctx, step.ContainerID); err != nil {
			return wrapStep(step, err)
		}
		return nil

	default:
		return wrapStep(step, errUnknownAction)
	}
}
