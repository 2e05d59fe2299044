package exec

import (
	"errors"
	"fmt"

	"github.com/avelkov/edge-agent/internal/plan"
)

var errUnknownAction = errors.New("unknown step action")

// StepError captures a failed step without stopping the pass.
type StepError struct {
	Action  plan.Action
	Service string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Service, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func wrapStep(step plan.Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Action: step.Action, Service: step.Service, Err: err}
}
