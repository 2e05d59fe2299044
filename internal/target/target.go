package target

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const defaultReplicas = 1

// PortMapping maps a host port to a container port.
type PortMapping struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"`
}

// VolumeMount maps a host path or named volume into the container.
type VolumeMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// ServiceConfig is the desired configuration for a single service.
// Values are normalized at the parse boundary: Replicas is always set
// (absent means 1) and port protocols default to tcp, so downstream
// code never re-checks for missing fields.
type ServiceConfig struct {
	Image       string            `json:"image"`
	Environment map[string]string `json:"environment,omitempty"`
	Ports       []PortMapping     `json:"ports,omitempty"`
	Volumes     []VolumeMount     `json:"volumes,omitempty"`
	Replicas    int               `json:"replicas"`
}

// TargetState is the cloud-declared desired state of all services.
// It is replaced wholesale on each successful fetch, never mutated in place.
type TargetState struct {
	Version   int64                    `json:"version"`
	UpdatedAt time.Time                `json:"updated_at"`
	Services  map[string]ServiceConfig `json:"services"`
}

// Fingerprint returns a hex SHA-256 over the canonical JSON encoding of the
// config. Map keys marshal sorted, list order is preserved, so two configs
// are structurally equal exactly when their fingerprints match. A port or
// volume reordering therefore reads as a change, which is the conservative
// stance for host-port bindings.
func (c ServiceConfig) Fingerprint() string {
	encoded, err := json.Marshal(c)
	if err != nil {
		// ServiceConfig contains only marshalable types; this cannot fire.
		panic(fmt.Sprintf("marshal service config: %v", err))
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// Equal reports structural equality of two normalized configs.
func (c ServiceConfig) Equal(other ServiceConfig) bool {
	return c.Fingerprint() == other.Fingerprint()
}

// ServiceNames returns the service names in sorted order.
func (t TargetState) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for name := range t.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// wireService mirrors ServiceConfig with a pointer Replicas so that an
// absent field is distinguishable from an explicit zero.
type wireService struct {
	Image       string            `json:"image"`
	Environment map[string]string `json:"environment"`
	Ports       []PortMapping     `json:"ports"`
	Volumes     []VolumeMount     `json:"volumes"`
	Replicas    *int              `json:"replicas"`
}

type wireDocument struct {
	Version   int64                  `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
	Services  map[string]wireService `json:"services"`
}

// ParseTargetState decodes and validates a target state document.
// Malformed documents are rejected whole; the caller keeps its previous
// state. Defaulting happens here so the rest of the agent sees only
// normalized configs.
func ParseTargetState(body []byte) (TargetState, error) {
	if len(body) == 0 {
		return TargetState{}, errors.New("target state body is empty")
	}

	var doc wireDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return TargetState{}, fmt.Errorf("decode target state: %w", err)
	}
	if len(doc.Services) == 0 {
		return TargetState{}, errors.New("target state has no services")
	}

	state := TargetState{
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
		Services:  make(map[string]ServiceConfig, len(doc.Services)),
	}

	for name, svc := range doc.Services {
		if strings.TrimSpace(name) == "" {
			return TargetState{}, errors.New("service with empty name")
		}
		cfg, err := normalizeService(name, svc)
		if err != nil {
			return TargetState{}, err
		}
		state.Services[name] = cfg
	}

	return state, nil
}

func normalizeService(name string, svc wireService) (ServiceConfig, error) {
	if strings.TrimSpace(svc.Image) == "" {
		return ServiceConfig{}, fmt.Errorf("service %q missing image", name)
	}

	replicas := defaultReplicas
	if svc.Replicas != nil {
		if *svc.Replicas < 0 {
			return ServiceConfig{}, fmt.Errorf("service %q has negative replicas", name)
		}
		replicas = *svc.Replicas
	}

	ports := make([]PortMapping, 0, len(svc.Ports))
	for i, port := range svc.Ports {
		if port.ContainerPort <= 0 || port.ContainerPort > 65535 {
			return ServiceConfig{}, fmt.Errorf("service %q port %d: invalid container port %d", name, i, port.ContainerPort)
		}
		if port.HostPort < 0 || port.HostPort > 65535 {
			return ServiceConfig{}, fmt.Errorf("service %q port %d: invalid host port %d", name, i, port.HostPort)
		}
		if port.Protocol == "" {
			port.Protocol = "tcp"
		}
		ports = append(ports, port)
	}

	volumes := make([]VolumeMount, 0, len(svc.Volumes))
	for i, volume := range svc.Volumes {
		if volume.Source == "" || volume.Target == "" {
			return ServiceConfig{}, fmt.Errorf("service %q volume %d: source and target are required", name, i)
		}
		volumes = append(volumes, volume)
	}

	cfg := ServiceConfig{
		Image:    svc.Image,
		Replicas: replicas,
	}
	if len(svc.Environment) > 0 {
		cfg.Environment = svc.Environment
	}
	if len(ports) > 0 {
		cfg.Ports = ports
	}
	if len(volumes) > 0 {
		cfg.Volumes = volumes
	}

	return cfg, nil
}
