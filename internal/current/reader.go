// Package current builds point-in-time snapshots of what is actually
// running. A snapshot is always rebuilt from the runtime, never maintained
// incrementally, so the agent cannot accumulate skew after crashes or
// out-of-band container changes.
package current

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/avelkov/edge-agent/internal/runtime"
)

// ContainerInfo identifies one container backing a service.
type ContainerInfo struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
}

// ServiceInfo is the observed runtime state of one service.
type ServiceInfo struct {
	Name              string          `json:"name"`
	Image             string          `json:"image"`
	ConfigHash        string          `json:"config_hash"`
	Running           bool            `json:"running"`
	EffectiveReplicas int             `json:"effective_replicas"`
	Containers        []ContainerInfo `json:"containers"`
}

// State is a snapshot of all managed services at one instant.
type State struct {
	Services   map[string]ServiceInfo `json:"services"`
	ObservedAt time.Time              `json:"observed_at"`
}

// ServiceNames returns the service names in sorted order.
func (s State) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lister is the subset of the runtime the reader needs.
type Lister interface {
	ListManaged(ctx context.Context) ([]runtime.ManagedContainer, error)
}

// Reader samples the container runtime into State snapshots.
type Reader struct {
	lister Lister
}

// NewReader constructs a Reader over the given runtime.
func NewReader(lister Lister) *Reader {
	return &Reader{lister: lister}
}

// Snapshot queries the runtime and groups managed containers by service.
// EffectiveReplicas counts running containers only; a stopped container
// still appears in Containers so the planner can remove it.
func (r *Reader) Snapshot(ctx context.Context) (State, error) {
	containers, err := r.lister.ListManaged(ctx)
	if err != nil {
		return State{}, fmt.Errorf("snapshot current state: %w", err)
	}

	state := State{
		Services:   make(map[string]ServiceInfo, len(containers)),
		ObservedAt: time.Now().UTC(),
	}

	for _, c := range containers {
		info := state.Services[c.Service]
		info.Name = c.Service
		info.Containers = append(info.Containers, ContainerInfo{
			ID:      c.ID,
			Running: c.Running,
		})
		if c.Running {
			info.Running = true
			info.EffectiveReplicas++
		}
		// When several containers back one service the newest config wins is
		// not knowable from a list call; the last listed entry is used and
		// any mismatch surfaces as a config change on the next plan.
		info.Image = runtime.NormalizeImage(c.Image)
		info.ConfigHash = c.ConfigHash
		state.Services[c.Service] = info
	}

	return state, nil
}
