package transition

import (
	"testing"

	"github.com/avelkov/edge-agent/internal/health"
)

func summaryOf(services map[string]health.ServiceHealth) health.Summary {
	status := health.StatusOK
	for _, svc := range services {
		if svc.Status == health.StatusFailed {
			status = health.StatusFailed
		} else if svc.Status == health.StatusDegraded && status == health.StatusOK {
			status = health.StatusDegraded
		}
	}
	return health.Summary{Status: status, Services: services}
}

func TestDetectFirstRunReportsOnlyUnhealthy(t *testing.T) {
	current := summaryOf(map[string]health.ServiceHealth{
		"ok":     {Name: "ok", Status: health.StatusOK},
		"broken": {Name: "broken", Status: health.StatusFailed, Reasons: []string{"no running replicas (desired 1)"}},
	})

	transitions := Detect(nil, current)
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].Name != "broken" || transitions[0].CurrentStatus != health.StatusFailed {
		t.Errorf("unexpected transition %+v", transitions[0])
	}
	if transitions[0].PreviousStatus != health.StatusUnknown {
		t.Errorf("expected previous status %q with no prior pass, got %q", health.StatusUnknown, transitions[0].PreviousStatus)
	}
}

func TestDetectQuietWhenNothingChanges(t *testing.T) {
	prev := map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusDegraded},
	}
	current := summaryOf(map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusDegraded},
	})

	if transitions := Detect(prev, current); len(transitions) != 0 {
		t.Fatalf("expected no transitions for unchanged status, got %v", transitions)
	}
}

func TestDetectStatusChange(t *testing.T) {
	prev := map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusOK, DesiredReplicas: 2, RunningReplicas: 2, DesiredImage: "nginx:1.27", ActualImage: "nginx:1.27"},
	}
	current := summaryOf(map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusDegraded, Reasons: []string{"replicas running 1/2"}, DesiredReplicas: 2, RunningReplicas: 1, DesiredImage: "nginx:1.27", ActualImage: "nginx:1.27"},
	})

	transitions := Detect(prev, current)
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}

	got := transitions[0]
	if got.PreviousStatus != health.StatusOK || got.CurrentStatus != health.StatusDegraded {
		t.Errorf("unexpected statuses %+v", got)
	}
	if got.ReplicaChange == nil {
		t.Fatal("expected replica change detail")
	}
	if got.ReplicaChange.RunningDelta != -1 {
		t.Errorf("expected running delta -1, got %d", got.ReplicaChange.RunningDelta)
	}
}

func TestDetectRecovery(t *testing.T) {
	prev := map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusFailed},
	}
	current := summaryOf(map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusOK, DesiredReplicas: 1, RunningReplicas: 1},
	})

	transitions := Detect(prev, current)
	if len(transitions) != 1 || transitions[0].CurrentStatus != health.StatusOK {
		t.Fatalf("expected a recovery transition, got %v", transitions)
	}
}

func TestDetectRemovedServiceResolves(t *testing.T) {
	prev := map[string]health.ServiceHealth{
		"gone":    {Name: "gone", Status: health.StatusFailed},
		"gone-ok": {Name: "gone-ok", Status: health.StatusOK},
	}
	current := summaryOf(map[string]health.ServiceHealth{})

	transitions := Detect(prev, current)
	if len(transitions) != 1 {
		t.Fatalf("expected only the unhealthy removed service to resolve, got %v", transitions)
	}
	got := transitions[0]
	if got.Name != "gone" || got.CurrentStatus != health.StatusOK {
		t.Errorf("unexpected transition %+v", got)
	}
	if len(got.Reasons) != 1 || got.Reasons[0] != "service removed" {
		t.Errorf("unexpected reasons %v", got.Reasons)
	}
}

func TestDetectSortsByName(t *testing.T) {
	current := summaryOf(map[string]health.ServiceHealth{
		"zeta":  {Name: "zeta", Status: health.StatusFailed},
		"alpha": {Name: "alpha", Status: health.StatusFailed},
		"mid":   {Name: "mid", Status: health.StatusDegraded},
	})

	transitions := Detect(nil, current)
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if transitions[i].Name != want {
			t.Errorf("position %d: expected %q, got %q", i, want, transitions[i].Name)
		}
	}
}

func TestDetectNewServiceAppearsUnhealthy(t *testing.T) {
	prev := map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusOK},
	}
	current := summaryOf(map[string]health.ServiceHealth{
		"web": {Name: "web", Status: health.StatusOK},
		"new": {Name: "new", Status: health.StatusFailed, Reasons: []string{"no running replicas (desired 1)"}},
	})

	transitions := Detect(prev, current)
	if len(transitions) != 1 || transitions[0].Name != "new" {
		t.Fatalf("expected only the new unhealthy service reported, got %v", transitions)
	}
	if transitions[0].PreviousStatus != health.StatusUnknown {
		t.Errorf("expected previous status %q for a newly observed service, got %q", health.StatusUnknown, transitions[0].PreviousStatus)
	}
}
