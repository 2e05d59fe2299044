package target

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

const composeProjectName = "edge-agent"

// LoadComposeFile parses a local compose file into a bootstrap TargetState.
// A freshly provisioned device can carry such a file so it converges to a
// useful state before it has ever reached the cloud. The resulting state has
// version 0 and is replaced by the first successful fetch.
func LoadComposeFile(ctx context.Context, path string) (TargetState, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return TargetState{}, fmt.Errorf("read compose file: %w", err)
	}
	return FromComposeBytes(ctx, body)
}

// FromComposeBytes parses compose content into a normalized TargetState.
func FromComposeBytes(ctx context.Context, body []byte) (TargetState, error) {
	if len(body) == 0 {
		return TargetState{}, errors.New("compose body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName(composeProjectName, false)
	})
	if err != nil {
		return TargetState{}, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return TargetState{}, errors.New("compose has no services")
	}

	state := TargetState{
		Services: make(map[string]ServiceConfig, len(project.Services)),
	}

	for name, service := range project.Services {
		if service.Image == "" {
			return TargetState{}, fmt.Errorf("service %q missing image", name)
		}

		cfg := ServiceConfig{
			Image:    service.Image,
			Replicas: composeReplicas(service),
		}

		if len(service.Environment) > 0 {
			env := make(map[string]string, len(service.Environment))
			for key, value := range service.Environment {
				if value == nil {
					continue
				}
				env[key] = *value
			}
			if len(env) > 0 {
				cfg.Environment = env
			}
		}

		ports, err := composePorts(name, service.Ports)
		if err != nil {
			return TargetState{}, err
		}
		cfg.Ports = ports

		volumes := make([]VolumeMount, 0, len(service.Volumes))
		for _, volume := range service.Volumes {
			if volume.Source == "" || volume.Target == "" {
				continue
			}
			volumes = append(volumes, VolumeMount{
				Source:   volume.Source,
				Target:   volume.Target,
				ReadOnly: volume.ReadOnly,
			})
		}
		if len(volumes) > 0 {
			cfg.Volumes = volumes
		}

		state.Services[name] = cfg
	}

	return state, nil
}

func composeReplicas(service types.ServiceConfig) int {
	if service.Deploy != nil && service.Deploy.Replicas != nil {
		return *service.Deploy.Replicas
	}
	if service.Scale != nil {
		return *service.Scale
	}
	return defaultReplicas
}

func composePorts(serviceName string, ports []types.ServicePortConfig) ([]PortMapping, error) {
	if len(ports) == 0 {
		return nil, nil
	}

	mappings := make([]PortMapping, 0, len(ports))
	for _, port := range ports {
		// Ports without a host binding are container-internal and do not
		// participate in reconciliation.
		if port.Published == "" {
			continue
		}
		published, err := strconv.Atoi(port.Published)
		if err != nil {
			return nil, fmt.Errorf("service %q: port ranges are not supported (%q)", serviceName, port.Published)
		}
		protocol := port.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		mappings = append(mappings, PortMapping{
			HostPort:      published,
			ContainerPort: int(port.Target),
			Protocol:      protocol,
		})
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return mappings, nil
}
