package transition

import (
	"sort"

	"github.com/avelkov/edge-agent/internal/health"
)

// ReplicaChange captures replica count changes between passes.
type ReplicaChange struct {
	PreviousDesired int
	CurrentDesired  int
	PreviousRunning int
	CurrentRunning  int
	DesiredDelta    int
	RunningDelta    int
}

// ImageChange captures image details during a transition.
type ImageChange struct {
	PreviousDesired string
	CurrentDesired  string
	PreviousActual  string
	CurrentActual   string
}

// ServiceTransition captures a status change with details.
type ServiceTransition struct {
	Name           string
	PreviousStatus health.ServiceStatus
	CurrentStatus  health.ServiceStatus
	Reasons        []string
	ReplicaChange  *ReplicaChange
	ImageChange    *ImageChange
}

// Detect compares the previous pass's health with the current one and emits
// status transitions. On the first pass only non-OK services are reported,
// so a healthy boot stays quiet.
func Detect(prev map[string]health.ServiceHealth, current health.Summary) []ServiceTransition {
	firstRun := len(prev) == 0

	transitions := make([]ServiceTransition, 0)
	for name, currentService := range current.Services {
		prevService, hadPrev := prev[name]

		previousStatus := prevService.Status
		if firstRun || !hadPrev {
			if currentService.Status == health.StatusOK {
				continue
			}
			previousStatus = health.StatusUnknown
		} else if prevService.Status == currentService.Status {
			continue
		}

		transitions = append(transitions, ServiceTransition{
			Name:           name,
			PreviousStatus: previousStatus,
			CurrentStatus:  currentService.Status,
			Reasons:        append([]string(nil), currentService.Reasons...),
			ReplicaChange:  buildReplicaChange(prevService, currentService, hadPrev),
			ImageChange:    buildImageChange(prevService, currentService, hadPrev),
		})
	}

	// A service that vanished from both target and runtime resolves its
	// last known condition.
	for name, prevService := range prev {
		if _, stillPresent := current.Services[name]; stillPresent {
			continue
		}
		if prevService.Status == health.StatusOK {
			continue
		}
		transitions = append(transitions, ServiceTransition{
			Name:           name,
			PreviousStatus: prevService.Status,
			CurrentStatus:  health.StatusOK,
			Reasons:        []string{"service removed"},
		})
	}

	// Sort by service name for deterministic output
	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Name < transitions[j].Name
	})

	return transitions
}

func buildReplicaChange(prev health.ServiceHealth, current health.ServiceHealth, hadPrev bool) *ReplicaChange {
	if !hadPrev && current.DesiredReplicas == 0 && current.RunningReplicas == 0 {
		return nil
	}
	return &ReplicaChange{
		PreviousDesired: prev.DesiredReplicas,
		CurrentDesired:  current.DesiredReplicas,
		PreviousRunning: prev.RunningReplicas,
		CurrentRunning:  current.RunningReplicas,
		DesiredDelta:    current.DesiredReplicas - prev.DesiredReplicas,
		RunningDelta:    current.RunningReplicas - prev.RunningReplicas,
	}
}

func buildImageChange(prev health.ServiceHealth, current health.ServiceHealth, hadPrev bool) *ImageChange {
	if !hadPrev && current.DesiredImage == "" && current.ActualImage == "" {
		return nil
	}
	return &ImageChange{
		PreviousDesired: prev.DesiredImage,
		CurrentDesired:  current.DesiredImage,
		PreviousActual:  prev.ActualImage,
		CurrentActual:   current.ActualImage,
	}
}
