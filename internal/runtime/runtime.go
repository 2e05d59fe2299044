package runtime

import (
	"context"

	"github.com/avelkov/edge-agent/internal/target"
)

// Labels applied to every container the agent creates. The service and
// config-hash labels are what let the current-state reader recover which
// config produced a container without re-deriving it from inspect output.
const (
	LabelManaged    = "io.edge-agent.managed"
	LabelService    = "io.edge-agent.service"
	LabelConfigHash = "io.edge-agent.config-hash"
)

// ManagedContainer is a container carrying the agent's labels as observed
// in the runtime.
type ManagedContainer struct {
	ID         string // Container ID
	Service    string // Value of the service label
	Image      string // Image reference (may include @sha256:... digest)
	ConfigHash string // Fingerprint of the config that produced the container
	Running    bool   // Whether the container state is "running"
	State      string // Raw container state string
}

// Runtime defines the container runtime operations the agent needs.
// Docker backs it today; the interface keeps the planner and executor
// independent of the backend and enables mocking in tests.
type Runtime interface {
	// Ping validates connectivity to the runtime daemon.
	Ping(ctx context.Context) error

	// PullImage downloads the given image reference.
	PullImage(ctx context.Context, ref string) error

	// CreateContainer creates (but does not start) a container for the
	// service with the agent's labels applied, returning its ID.
	CreateContainer(ctx context.Context, service string, cfg target.ServiceConfig) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a running container, waiting up to the
	// configured stop timeout.
	StopContainer(ctx context.Context, id string) error

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, id string) error

	// ListManaged returns all containers carrying the managed label,
	// including stopped ones.
	ListManaged(ctx context.Context) ([]ManagedContainer, error)

	// Close releases resources associated with the runtime client.
	Close() error
}
