package runtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/avelkov/edge-agent/internal/target"
)

const (
	defaultStopTimeout = 30 * time.Second
	defaultPullTimeout = 10 * time.Minute
)

// dockerAPI defines the subset of Docker client operations used by
// DockerRuntime. This interface enables unit testing without a real Docker
// daemon by allowing mock implementations to be injected.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// Ensure the official Docker client satisfies our interface at compile time.
var _ dockerAPI = (*dockerClientAdapter)(nil)

// DockerRuntime implements Runtime using the official Docker Go SDK.
type DockerRuntime struct {
	api         dockerAPI
	stopTimeout time.Duration
}

// Option customizes DockerRuntime behavior.
type Option func(*DockerRuntime)

// WithStopTimeout overrides how long a container gets to stop gracefully.
func WithStopTimeout(timeout time.Duration) Option {
	return func(r *DockerRuntime) {
		if timeout > 0 {
			r.stopTimeout = timeout
		}
	}
}

// NewDockerRuntime initializes a Docker-backed runtime for the given API
// host. An empty host falls back to the SDK's environment defaults.
func NewDockerRuntime(host string, opts ...Option) (*DockerRuntime, error) {
	clientOpts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		clientOpts = []client.Opt{
			client.WithHost(host),
			client.WithAPIVersionNegotiation(),
		}
	}

	api, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	r := &DockerRuntime{
		api:         &dockerClientAdapter{client: api},
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Ping validates connectivity to the Docker daemon.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if r == nil || r.api == nil {
		return errors.New("docker runtime is not initialized")
	}
	_, err := r.api.Ping(ctx)
	return err
}

// PullImage downloads the image and drains the progress stream. The pull is
// bounded by a generous timeout so a stalled registry connection cannot wedge
// a reconciliation pass forever.
func (r *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPullTimeout)
	defer cancel()

	reader, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %q: read progress: %w", ref, err)
	}
	return nil
}

// CreateContainer creates a labeled container for the service. The container
// name carries a random suffix so several replicas of one service can coexist
// under Docker's unique-name constraint; discovery goes through labels, not
// names.
func (r *DockerRuntime) CreateContainer(ctx context.Context, service string, cfg target.ServiceConfig) (string, error) {
	exposedPorts, portBindings, err := buildPortMaps(cfg.Ports)
	if err != nil {
		return "", fmt.Errorf("service %q: %w", service, err)
	}

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          buildEnv(cfg.Environment),
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelService:    service,
			LabelConfigHash: cfg.Fingerprint(),
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        buildBinds(cfg.Volumes),
	}

	resp, err := r.api.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, containerName(service))
	if err != nil {
		return "", fmt.Errorf("create container for %q: %w", service, err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", shortID(id), err)
	}
	return nil
}

// StopContainer stops a container, allowing the configured grace period.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	timeoutSeconds := int(r.stopTimeout.Seconds())
	if err := r.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", shortID(id), err)
	}
	return nil
}

// RemoveContainer force-removes a container.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	if err := r.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", shortID(id), err)
	}
	return nil
}

// ListManaged returns all containers carrying the managed label, stopped
// ones included, so the current-state reader sees crashed containers too.
func (r *DockerRuntime) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	listFilters := filters.NewArgs()
	listFilters.Add("label", LabelManaged+"=true")

	containers, err := r.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: listFilters,
	})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}

	managed := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		service := c.Labels[LabelService]
		if service == "" {
			continue
		}
		managed = append(managed, ManagedContainer{
			ID:         c.ID,
			Service:    service,
			Image:      c.Image,
			ConfigHash: c.Labels[LabelConfigHash],
			Running:    c.State == "running",
			State:      c.State,
		})
	}

	// Deterministic order keeps downstream snapshots stable.
	sort.Slice(managed, func(i, j int) bool {
		if managed[i].Service != managed[j].Service {
			return managed[i].Service < managed[j].Service
		}
		return managed[i].ID < managed[j].ID
	})

	return managed, nil
}

// Close releases the underlying client.
func (r *DockerRuntime) Close() error {
	if r == nil || r.api == nil {
		return nil
	}
	return r.api.Close()
}

func buildEnv(environment map[string]string) []string {
	if len(environment) == 0 {
		return nil
	}
	env := make([]string, 0, len(environment))
	for key, value := range environment {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}

func buildPortMaps(ports []target.PortMapping) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, mapping := range ports {
		port, err := nat.NewPort(mapping.Protocol, strconv.Itoa(mapping.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %d/%s: %w", mapping.ContainerPort, mapping.Protocol, err)
		}
		exposed[port] = struct{}{}
		if mapping.HostPort > 0 {
			bindings[port] = append(bindings[port], nat.PortBinding{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(mapping.HostPort),
			})
		}
	}
	return exposed, bindings, nil
}

func buildBinds(volumes []target.VolumeMount) []string {
	if len(volumes) == 0 {
		return nil
	}
	binds := make([]string, 0, len(volumes))
	for _, volume := range volumes {
		bind := volume.Source + ":" + volume.Target
		if volume.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}
	return binds
}

func containerName(service string) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return service + "-" + hex.EncodeToString(suffix)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// NormalizeImage strips the @sha256:... digest suffix from an image
// reference. Docker appends the resolved digest after pulling, which would
// otherwise read as a spurious image change.
func NormalizeImage(image string) string {
	if idx := strings.Index(image, "@sha256:"); idx != -1 {
		return image[:idx]
	}
	return image
}
