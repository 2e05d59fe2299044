package health

import (
	"fmt"

	"github.com/avelkov/edge-agent/internal/current"
	"github.com/avelkov/edge-agent/internal/runtime"
	"github.com/avelkov/edge-agent/internal/target"
)

// Evaluate compares desired and observed state after a pass and computes
// per-service convergence health. stepFailures maps service names to the
// message of a step that failed during the pass; such services are marked
// FAILED even when their observed counts happen to look right, because the
// pass did not complete for them.
func Evaluate(desired target.TargetState, observed current.State, stepFailures map[string]string) Summary {
	result := Summary{
		Status:   StatusOK,
		Services: make(map[string]ServiceHealth),
	}

	for name, cfg := range desired.Services {
		info, observedService := observed.Services[name]

		svc := ServiceHealth{
			Name:            name,
			Status:          StatusOK,
			DesiredImage:    runtime.NormalizeImage(cfg.Image),
			DesiredReplicas: cfg.Replicas,
		}
		if observedService {
			svc.ActualImage = info.Image
			svc.RunningReplicas = info.EffectiveReplicas
		}

		switch {
		case cfg.Replicas == 0:
			if observedService && info.EffectiveReplicas > 0 {
				svc.Status = StatusDegraded
				svc.Reasons = append(svc.Reasons, "service should be stopped")
			}
		case !observedService || info.EffectiveReplicas == 0:
			svc.Status = StatusFailed
			svc.Reasons = append(svc.Reasons, fmt.Sprintf("no running replicas (desired %d)", cfg.Replicas))
		case info.EffectiveReplicas != cfg.Replicas:
			svc.Status = StatusDegraded
			svc.Reasons = append(svc.Reasons, fmt.Sprintf("replicas running %d/%d", info.EffectiveReplicas, cfg.Replicas))
		}

		if observedService && info.ConfigHash != "" && info.ConfigHash != cfg.Fingerprint() {
			svc.Status = worsenStatus(svc.Status, StatusDegraded)
			svc.Reasons = append(svc.Reasons, "config drift")
		}

		if message, failed := stepFailures[name]; failed {
			svc.Status = worsenStatus(svc.Status, StatusFailed)
			svc.Reasons = append(svc.Reasons, "step failed: "+message)
		}

		result.Services[name] = svc
		result.Status = worsenStatus(result.Status, svc.Status)
	}

	for name, info := range observed.Services {
		if _, declared := desired.Services[name]; declared {
			continue
		}
		svc := ServiceHealth{
			Name:            name,
			Status:          StatusDegraded,
			Reasons:         []string{"service not in target state"},
			ActualImage:     info.Image,
			RunningReplicas: info.EffectiveReplicas,
		}
		if message, failed := stepFailures[name]; failed {
			svc.Status = StatusFailed
			svc.Reasons = append(svc.Reasons, "step failed: "+message)
		}
		result.Services[name] = svc
		result.Status = worsenStatus(result.Status, svc.Status)
	}

	return result
}
