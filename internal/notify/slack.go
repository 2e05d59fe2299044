package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/avelkov/edge-agent/internal/health"
	"github.com/avelkov/edge-agent/internal/transition"
)

const (
	slackMaxBlocks = 50
	// header block + context block reserved per message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts convergence transitions to a Slack incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the
// webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, device string, transitions []transition.ServiceTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	messages := buildSlackMessages(device, transitions)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("device", device).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(device string, transitions []transition.ServiceTransition) []slack.WebhookMessage {
	if len(transitions) == 0 {
		return nil
	}

	total := len(transitions)
	chunkTotal := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxTransitions {
		end := i + slackMaxTransitions
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxTransitions) + 1
		messages = append(messages, buildSlackMessage(device, transitions[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(device string, transitions []transition.ServiceTransition, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("Device %s: %d service transition(s)", device, total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Device: *%s*", device), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildTransitionBlock(change transition.ServiceTransition) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", change.Name, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if len(change.Reasons) > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reasons:*\n"+strings.Join(change.Reasons, ", "), false, false))
	}
	if change.ReplicaChange != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatReplicaChange(change.ReplicaChange), false, false))
	}
	if change.ImageChange != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatImageChange(change.ImageChange), false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatReplicaChange(change *transition.ReplicaChange) string {
	return fmt.Sprintf("*Replicas:*\nDesired %d (Δ %d), Running %d (Δ %d)",
		change.CurrentDesired, change.DesiredDelta, change.CurrentRunning, change.RunningDelta)
}

func formatImageChange(change *transition.ImageChange) string {
	desired := change.CurrentDesired
	if desired == "" {
		desired = "unknown"
	}
	actual := change.CurrentActual
	if actual == "" {
		actual = "unknown"
	}
	return fmt.Sprintf("*Image:*\nDesired `%s`\nActual `%s`", desired, actual)
}

func statusLabel(status health.ServiceStatus) string {
	if status == "" {
		return "UNKNOWN"
	}
	return string(status)
}
