package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/health"
	"github.com/avelkov/edge-agent/internal/transition"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify(context.Context, string, []transition.ServiceTransition) error {
	n.calls++
	return nil
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	transitions := []transition.ServiceTransition{
		{Name: "api", CurrentStatus: health.StatusFailed},
	}

	if err := dryRun.Notify(context.Background(), "edge-device-1", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected inner notifier untouched, got %d calls", inner.calls)
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &countingNotifier{}
	second := &countingNotifier{}
	multi := NewMultiNotifier(first, nil, second)

	transitions := []transition.ServiceTransition{
		{Name: "api", CurrentStatus: health.StatusDegraded},
	}
	if err := multi.Notify(context.Background(), "edge-device-1", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both notifiers called once, got %d and %d", first.calls, second.calls)
	}
}

func TestNoopNotifier(t *testing.T) {
	noop := NewNoop(zerolog.Nop(), "disabled for test")
	if err := noop.Notify(context.Background(), "edge-device-1", nil); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
}
