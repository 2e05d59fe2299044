package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/transition"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, device string, transitions []transition.ServiceTransition) error {
	for _, change := range transitions {
		n.logger.Info().
			Str("device", device).
			Str("service", change.Name).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Strs("reasons", change.Reasons).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
