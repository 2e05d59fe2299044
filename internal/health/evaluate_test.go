package health

import (
	"strings"
	"testing"

	"github.com/avelkov/edge-agent/internal/current"
	"github.com/avelkov/edge-agent/internal/target"
)

func desired(services map[string]target.ServiceConfig) target.TargetState {
	return target.TargetState{Version: 1, Services: services}
}

func observed(cfg target.ServiceConfig, running int) current.ServiceInfo {
	return current.ServiceInfo{
		Image:             cfg.Image,
		ConfigHash:        cfg.Fingerprint(),
		Running:           running > 0,
		EffectiveReplicas: running,
	}
}

func hasReason(svc ServiceHealth, fragment string) bool {
	for _, reason := range svc.Reasons {
		if strings.Contains(reason, fragment) {
			return true
		}
	}
	return false
}

func TestEvaluateConverged(t *testing.T) {
	cfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 2}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": cfg}),
		current.State{Services: map[string]current.ServiceInfo{"web": observed(cfg, 2)}},
		nil,
	)

	if summary.Status != StatusOK {
		t.Fatalf("expected OK, got %s", summary.Status)
	}
	if svc := summary.Services["web"]; svc.Status != StatusOK || len(svc.Reasons) != 0 {
		t.Errorf("unexpected service health %+v", svc)
	}
}

func TestEvaluateNoRunningReplicasIsFailed(t *testing.T) {
	cfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 2}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": cfg}),
		current.State{Services: map[string]current.ServiceInfo{}},
		nil,
	)

	svc := summary.Services["web"]
	if svc.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", svc.Status)
	}
	if !hasReason(svc, "no running replicas") {
		t.Errorf("unexpected reasons %v", svc.Reasons)
	}
	if summary.Status != StatusFailed {
		t.Errorf("expected summary FAILED, got %s", summary.Status)
	}
}

func TestEvaluateReplicaShortfallIsDegraded(t *testing.T) {
	cfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 3}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": cfg}),
		current.State{Services: map[string]current.ServiceInfo{"web": observed(cfg, 1)}},
		nil,
	)

	svc := summary.Services["web"]
	if svc.Status != StatusDegraded {
		t.Fatalf("expected DEGRADED, got %s", svc.Status)
	}
	if !hasReason(svc, "1/3") {
		t.Errorf("unexpected reasons %v", svc.Reasons)
	}
}

func TestEvaluateStoppedServiceStillRunning(t *testing.T) {
	cfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 0}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": cfg}),
		current.State{Services: map[string]current.ServiceInfo{"web": observed(cfg, 1)}},
		nil,
	)

	svc := summary.Services["web"]
	if svc.Status != StatusDegraded || !hasReason(svc, "should be stopped") {
		t.Errorf("unexpected service health %+v", svc)
	}
}

func TestEvaluateStoppedServiceAbsentIsOK(t *testing.T) {
	cfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 0}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": cfg}),
		current.State{Services: map[string]current.ServiceInfo{}},
		nil,
	)

	if svc := summary.Services["web"]; svc.Status != StatusOK {
		t.Errorf("expected absent zero-replica service to be OK, got %+v", svc)
	}
}

func TestEvaluateConfigDrift(t *testing.T) {
	oldCfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 1}
	newCfg := target.ServiceConfig{Image: "nginx:1.28", Replicas: 1}
	info := observed(oldCfg, 1)
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": newCfg}),
		current.State{Services: map[string]current.ServiceInfo{"web": info}},
		nil,
	)

	svc := summary.Services["web"]
	if svc.Status != StatusDegraded || !hasReason(svc, "config drift") {
		t.Errorf("unexpected service health %+v", svc)
	}
}

func TestEvaluateStepFailureDominates(t *testing.T) {
	cfg := target.ServiceConfig{Image: "nginx:1.27", Replicas: 1}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{"web": cfg}),
		current.State{Services: map[string]current.ServiceInfo{"web": observed(cfg, 1)}},
		map[string]string{"web": "pull_image web: registry unreachable"},
	)

	svc := summary.Services["web"]
	if svc.Status != StatusFailed {
		t.Fatalf("expected step failure to force FAILED, got %s", svc.Status)
	}
	if !hasReason(svc, "registry unreachable") {
		t.Errorf("unexpected reasons %v", svc.Reasons)
	}
}

func TestEvaluateUndeclaredServiceIsDegraded(t *testing.T) {
	cfg := target.ServiceConfig{Image: "stray:1", Replicas: 1}
	summary := Evaluate(
		desired(map[string]target.ServiceConfig{}),
		current.State{Services: map[string]current.ServiceInfo{"stray": observed(cfg, 1)}},
		nil,
	)

	svc := summary.Services["stray"]
	if svc.Status != StatusDegraded || !hasReason(svc, "not in target state") {
		t.Errorf("unexpected service health %+v", svc)
	}
}

func TestWorsenStatusRanking(t *testing.T) {
	if got := worsenStatus(StatusOK, StatusDegraded); got != StatusDegraded {
		t.Errorf("expected DEGRADED, got %s", got)
	}
	if got := worsenStatus(StatusFailed, StatusDegraded); got != StatusFailed {
		t.Errorf("expected FAILED to stick, got %s", got)
	}
	if got := worsenStatus(StatusDegraded, StatusOK); got != StatusDegraded {
		t.Errorf("expected DEGRADED to stick, got %s", got)
	}
}
