package health

// ServiceStatus represents the convergence health of a service.
type ServiceStatus string

const (
	StatusOK       ServiceStatus = "OK"
	StatusDegraded ServiceStatus = "DEGRADED"
	StatusFailed   ServiceStatus = "FAILED"

	// StatusUnknown marks a service with no prior observation, as on the
	// first pass after startup.
	StatusUnknown ServiceStatus = "UNKNOWN"
)

// ServiceHealth captures the evaluation output for one service.
type ServiceHealth struct {
	Name            string        `json:"name"`
	Status          ServiceStatus `json:"status"`
	Reasons         []string      `json:"reasons,omitempty"`
	DesiredImage    string        `json:"desired_image,omitempty"`
	ActualImage     string        `json:"actual_image,omitempty"`
	DesiredReplicas int           `json:"desired_replicas"`
	RunningReplicas int           `json:"running_replicas"`
}

// Summary is the agent-wide convergence picture after a pass.
type Summary struct {
	Status   ServiceStatus
	Services map[string]ServiceHealth
}

func worsenStatus(current, candidate ServiceStatus) ServiceStatus {
	rank := func(s ServiceStatus) int {
		switch s {
		case StatusFailed:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(candidate) > rank(current) {
		return candidate
	}
	return current
}
