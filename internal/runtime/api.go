package runtime

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerClientInterface captures the methods we use from *client.Client.
type dockerClientInterface interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// dockerClientAdapter wraps the official Docker client to satisfy the
// dockerAPI interface.
type dockerClientAdapter struct {
	client dockerClientInterface
}

func (a *dockerClientAdapter) Ping(ctx context.Context) (types.Ping, error) {
	return a.client.Ping(ctx)
}

func (a *dockerClientAdapter) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	return a.client.ImagePull(ctx, ref, options)
}

func (a *dockerClientAdapter) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	return a.client.ContainerCreate(ctx, config, hostConfig, networkingConfig, platform, containerName)
}

func (a *dockerClientAdapter) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return a.client.ContainerStart(ctx, containerID, options)
}

func (a *dockerClientAdapter) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return a.client.ContainerStop(ctx, containerID, options)
}

func (a *dockerClientAdapter) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return a.client.ContainerRemove(ctx, containerID, options)
}

func (a *dockerClientAdapter) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return a.client.ContainerList(ctx, options)
}

func (a *dockerClientAdapter) Close() error {
	return a.client.Close()
}
