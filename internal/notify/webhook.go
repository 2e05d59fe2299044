package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/transition"
)

const defaultWebhookTemplate = `{"device":"{{ .Device }}","transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Device      string
	Transitions []transition.ServiceTransition
	GeneratedAt time.Time
}

// WebhookNotifier sends transition notifications to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// An empty URL yields a nil notifier, which MultiNotifier filters out.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, device string, transitions []transition.ServiceTransition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}

	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	payload := WebhookPayload{
		Device:      device,
		Transitions: transitions,
		GeneratedAt: time.Now().UTC(),
	}

	var rendered bytes.Buffer
	if err := n.template.Execute(&rendered, payload); err != nil {
		return fmt.Errorf("render webhook payload: %w", err)
	}

	if err := n.poster.postWithRetry(ctx, rendered.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("device", device).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")

	return nil
}
