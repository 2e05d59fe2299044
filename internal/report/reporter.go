// Package report sends the observed service state upstream after each
// reconciliation pass. Reports are diff-based: a payload identical to the
// last delivered one is not sent, which keeps bandwidth use proportional to
// actual change on links that are often metered.
package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/current"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetryMax = 2
)

// ServiceReport is the per-service line of an upstream report.
type ServiceReport struct {
	Name              string `json:"name"`
	Image             string `json:"image"`
	Running           bool   `json:"running"`
	EffectiveReplicas int    `json:"effective_replicas"`
}

// Payload is the upstream report document.
type Payload struct {
	TargetVersion int64           `json:"target_version"`
	ReportedAt    time.Time       `json:"reported_at"`
	Services      []ServiceReport `json:"services"`
}

// Reporter posts current state reports to the cloud endpoint.
type Reporter struct {
	logger   zerolog.Logger
	url      string
	client   *retryablehttp.Client
	lastHash string
}

// New constructs a Reporter. An empty URL disables reporting; Report
// becomes a no-op so callers need no special casing.
func New(logger zerolog.Logger, url string) *Reporter {
	client := retryablehttp.NewClient()
	client.RetryMax = defaultRetryMax
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: defaultTimeout}

	return &Reporter{
		logger: logger,
		url:    url,
		client: client,
	}
}

// Report delivers the state when it differs from the last delivered report.
// Delivery failures are returned for logging but the caller treats them as
// non-fatal; the next pass simply reports again.
func (r *Reporter) Report(ctx context.Context, targetVersion int64, state current.State) error {
	if r == nil || r.url == "" {
		return nil
	}

	services := make([]ServiceReport, 0, len(state.Services))
	for _, name := range state.ServiceNames() {
		info := state.Services[name]
		services = append(services, ServiceReport{
			Name:              name,
			Image:             info.Image,
			Running:           info.Running,
			EffectiveReplicas: info.EffectiveReplicas,
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

	// Hash only the parts that constitute a state change; ReportedAt and
	// the target version churn without the services having moved.
	digest, err := hashServices(services)
	if err != nil {
		return fmt.Errorf("hash report: %w", err)
	}
	if digest == r.lastHash {
		r.logger.Debug().Msg("state unchanged since last report")
		return nil
	}

	payload := Payload{
		TargetVersion: targetVersion,
		ReportedAt:    time.Now().UTC(),
		Services:      services,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report rejected: %s", resp.Status)
	}

	r.lastHash = digest
	r.logger.Info().Int("services", len(services)).Int64("target_version", targetVersion).Msg("state reported")
	return nil
}

func hashServices(services []ServiceReport) (string, error) {
	encoded, err := json.Marshal(services)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
