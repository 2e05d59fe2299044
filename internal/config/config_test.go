package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EA_STATE_URL", "https://cloud.example.com/v1/device/state")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("expected default poll interval 30s, got %v", cfg.PollInterval)
	}
	if cfg.MaxPollInterval != 5*time.Minute {
		t.Errorf("expected default max poll interval 5m, got %v", cfg.MaxPollInterval)
	}
	if cfg.ReconcileInterval != 30*time.Second {
		t.Errorf("expected default reconcile interval 30s, got %v", cfg.ReconcileInterval)
	}
	if cfg.DockerHost != "unix:///var/run/docker.sock" {
		t.Errorf("unexpected default docker host %q", cfg.DockerHost)
	}
	if cfg.DataDir != "/var/lib/edge-agent" {
		t.Errorf("unexpected default data dir %q", cfg.DataDir)
	}
	if cfg.HealthPort != 8080 || cfg.MetricsPort != 9090 {
		t.Errorf("unexpected default ports %d/%d", cfg.HealthPort, cfg.MetricsPort)
	}
	if cfg.DryRunNotifications {
		t.Error("expected dry run notifications off by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EA_STATE_URL", "https://cloud.example.com/state")
	t.Setenv("EA_REPORT_URL", "https://cloud.example.com/report")
	t.Setenv("EA_POLL_INTERVAL", "10s")
	t.Setenv("EA_MAX_POLL_INTERVAL", "2m")
	t.Setenv("EA_RECONCILE_INTERVAL", "45s")
	t.Setenv("EA_STOP_TIMEOUT", "15s")
	t.Setenv("EA_DEVICE_NAME", "factory-floor-3")
	t.Setenv("EA_HEALTH_PORT", "9000")
	t.Setenv("EA_DRY_RUN_NOTIFICATIONS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.PollInterval != 10*time.Second || cfg.MaxPollInterval != 2*time.Minute {
		t.Errorf("unexpected poll intervals %v/%v", cfg.PollInterval, cfg.MaxPollInterval)
	}
	if cfg.ReconcileInterval != 45*time.Second {
		t.Errorf("unexpected reconcile interval %v", cfg.ReconcileInterval)
	}
	if cfg.StopTimeout != 15*time.Second {
		t.Errorf("unexpected stop timeout %v", cfg.StopTimeout)
	}
	if cfg.DeviceName != "factory-floor-3" {
		t.Errorf("unexpected device name %q", cfg.DeviceName)
	}
	if cfg.HealthPort != 9000 {
		t.Errorf("unexpected health port %d", cfg.HealthPort)
	}
	if !cfg.DryRunNotifications {
		t.Error("expected dry run notifications enabled")
	}
	if cfg.ReportURL != "https://cloud.example.com/report" {
		t.Errorf("unexpected report url %q", cfg.ReportURL)
	}
}

func TestLoadRequiresTargetSource(t *testing.T) {
	t.Setenv("EA_STATE_URL", "")
	t.Setenv("EA_BOOTSTRAP_COMPOSE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without state URL or bootstrap compose")
	}
}

func TestLoadBootstrapComposeAloneSuffices(t *testing.T) {
	t.Setenv("EA_STATE_URL", "")
	t.Setenv("EA_BOOTSTRAP_COMPOSE", "/etc/edge-agent/compose.yml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BootstrapCompose != "/etc/edge-agent/compose.yml" {
		t.Errorf("unexpected bootstrap compose %q", cfg.BootstrapCompose)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad poll interval", "EA_POLL_INTERVAL", "soon"},
		{"negative poll interval", "EA_POLL_INTERVAL", "-5s"},
		{"zero reconcile interval", "EA_RECONCILE_INTERVAL", "0s"},
		{"bad state url", "EA_STATE_URL", "not a url"},
		{"bad report url", "EA_REPORT_URL", "/relative/path"},
		{"bad health port", "EA_HEALTH_PORT", "eighty"},
		{"port out of range", "EA_METRICS_PORT", "70000"},
		{"bad dry run flag", "EA_DRY_RUN_NOTIFICATIONS", "maybe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("EA_STATE_URL", "https://cloud.example.com/state")
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("expected error naming %s, got %q", tc.key, err)
			}
		})
	}
}

func TestLoadRejectsMaxBelowBase(t *testing.T) {
	t.Setenv("EA_STATE_URL", "https://cloud.example.com/state")
	t.Setenv("EA_POLL_INTERVAL", "1m")
	t.Setenv("EA_MAX_POLL_INTERVAL", "30s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when max poll interval is below the base interval")
	}
}

func TestLoadTrimsWhitespace(t *testing.T) {
	t.Setenv("EA_STATE_URL", "  https://cloud.example.com/state  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.StateURL != "https://cloud.example.com/state" {
		t.Errorf("expected trimmed url, got %q", cfg.StateURL)
	}
}
