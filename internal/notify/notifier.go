// Package notify delivers convergence transitions to external sinks.
// Notifications are best-effort: a failed delivery is logged and dropped,
// never retried across passes, since the next transition supersedes it.
package notify

import (
	"context"

	"github.com/avelkov/edge-agent/internal/transition"
)

// Notifier delivers transition alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, device string, transitions []transition.ServiceTransition) error
}
