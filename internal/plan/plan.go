// Package plan computes the ordered corrective steps that take the observed
// container state to the declared target state. Planning is a pure function
// of its two inputs: no side effects, no memory of prior plans. Re-planning
// from scratch every cycle is what makes execution idempotent and lets a
// partially failed pass heal itself on the next one.
package plan

import (
	"sort"

	"github.com/avelkov/edge-agent/internal/current"
	"github.com/avelkov/edge-agent/internal/target"
)

// Action is one atomic runtime operation.
type Action string

const (
	ActionPullImage       Action = "pull_image"
	ActionStartContainer  Action = "start_container"
	ActionStopContainer   Action = "stop_container"
	ActionRemoveContainer Action = "remove_container"
)

// Step is a single planned runtime action. Pull and start steps carry the
// config to execute with; stop and remove steps carry the container ID they
// act on. A start step without a container ID means "create and start",
// with one means "start the existing stopped container".
type Step struct {
	Action      Action
	Service     string
	Config      target.ServiceConfig
	ContainerID string
}

// Plan diffs target against current state and returns the ordered steps.
//
// All teardown (stop/remove) steps precede all rollout (pull/start) steps so
// a start can never race a not-yet-released host port. Within one service
// the listed order is strict: stop, remove, pull, start. Services are
// visited in sorted name order, which makes the output deterministic for a
// given input pair.
func Plan(desired target.TargetState, observed current.State) []Step {
	var teardown []Step
	var rollout []Step

	for _, name := range unionNames(desired, observed) {
		cfg, inTarget := desired.Services[name]
		info, inCurrent := observed.Services[name]

		switch {
		case !inTarget && inCurrent:
			teardown = append(teardown, teardownService(name, info)...)

		case inTarget && !inCurrent:
			if cfg.Replicas == 0 {
				continue
			}
			rollout = append(rollout, rolloutService(name, cfg, cfg.Replicas)...)

		default:
			down, up := reconcileService(name, cfg, info)
			teardown = append(teardown, down...)
			rollout = append(rollout, up...)
		}
	}

	return append(teardown, rollout...)
}

// reconcileService handles a service present on both sides.
func reconcileService(name string, cfg target.ServiceConfig, info current.ServiceInfo) (teardown, rollout []Step) {
	if info.ConfigHash != cfg.Fingerprint() {
		// Config changed: full recreate. When the target also says zero
		// replicas the teardown alone satisfies it; the stored config
		// remains in the target state untouched.
		teardown = teardownService(name, info)
		if cfg.Replicas > 0 {
			rollout = rolloutService(name, cfg, cfg.Replicas)
		}
		return teardown, rollout
	}

	if cfg.Replicas == 0 {
		return teardownService(name, info), nil
	}

	running := 0
	var stopped []current.ContainerInfo
	for _, c := range info.Containers {
		if c.Running {
			running++
		} else {
			stopped = append(stopped, c)
		}
	}

	deficit := cfg.Replicas - running
	if deficit < 0 {
		// Surplus replicas: tear down the extras, newest-listed first.
		surplus := -deficit
		for i := len(info.Containers) - 1; i >= 0 && surplus > 0; i-- {
			c := info.Containers[i]
			if !c.Running {
				continue
			}
			teardown = append(teardown,
				Step{Action: ActionStopContainer, Service: name, ContainerID: c.ID},
				Step{Action: ActionRemoveContainer, Service: name, ContainerID: c.ID},
			)
			surplus--
		}
		deficit = 0
	}

	if deficit > 0 {
		rollout = append(rollout, Step{Action: ActionPullImage, Service: name, Config: cfg})
		// Prefer restarting existing stopped containers before creating new
		// ones; their config is known identical here.
		for _, c := range stopped {
			if deficit == 0 {
				break
			}
			rollout = append(rollout, Step{Action: ActionStartContainer, Service: name, Config: cfg, ContainerID: c.ID})
			deficit--
		}
		for ; deficit > 0; deficit-- {
			rollout = append(rollout, Step{Action: ActionStartContainer, Service: name, Config: cfg})
		}
		stopped = nil
	}

	// Leftover stopped containers are dead weight; remove them so the state
	// converges to exactly the desired replica set.
	for _, c := range stopped {
		teardown = append(teardown, Step{Action: ActionRemoveContainer, Service: name, ContainerID: c.ID})
	}

	return teardown, rollout
}

// teardownService stops every running container and removes all of them.
func teardownService(name string, info current.ServiceInfo) []Step {
	steps := make([]Step, 0, 2*len(info.Containers))
	for _, c := range info.Containers {
		if c.Running {
			steps = append(steps, Step{Action: ActionStopContainer, Service: name, ContainerID: c.ID})
		}
	}
	for _, c := range info.Containers {
		steps = append(steps, Step{Action: ActionRemoveContainer, Service: name, ContainerID: c.ID})
	}
	return steps
}

// rolloutService pulls the image once and starts the requested replicas.
func rolloutService(name string, cfg target.ServiceConfig, replicas int) []Step {
	steps := make([]Step, 0, replicas+1)
	steps = append(steps, Step{Action: ActionPullImage, Service: name, Config: cfg})
	for i := 0; i < replicas; i++ {
		steps = append(steps, Step{Action: ActionStartContainer, Service: name, Config: cfg})
	}
	return steps
}

func unionNames(desired target.TargetState, observed current.State) []string {
	seen := make(map[string]struct{}, len(desired.Services)+len(observed.Services))
	names := make([]string, 0, len(seen))
	for name := range desired.Services {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	for name := range observed.Services {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
