package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envStateURL         = "EA_STATE_URL"
	envReportURL        = "EA_REPORT_URL"
	envPollInterval     = "EA_POLL_INTERVAL"
	envMaxPollInterval  = "EA_MAX_POLL_INTERVAL"
	envReconcileEvery   = "EA_RECONCILE_INTERVAL"
	envDockerHost       = "EA_DOCKER_HOST"
	envStopTimeout      = "EA_STOP_TIMEOUT"
	envDataDir          = "EA_DATA_DIR"
	envBootstrapCompose = "EA_BOOTSTRAP_COMPOSE"
	envDeviceName       = "EA_DEVICE_NAME"
	envSlackWebhookURL  = "EA_SLACK_WEBHOOK_URL"
	envWebhookURL       = "EA_WEBHOOK_URL"
	envDryRunNotify     = "EA_DRY_RUN_NOTIFICATIONS"
	envHealthPort       = "EA_HEALTH_PORT"
	envMetricsPort      = "EA_METRICS_PORT"
	envLogLevel         = "EA_LOG_LEVEL"
)

const (
	defaultPollInterval      = 30 * time.Second
	defaultMaxPollInterval   = 5 * time.Minute
	defaultReconcileInterval = 30 * time.Second
	defaultStopTimeout       = 30 * time.Second
	defaultDockerHost        = "unix:///var/run/docker.sock"
	defaultDataDir           = "/var/lib/edge-agent"
	defaultDeviceName        = "edge-device"
	defaultHealthPort        = 8080
	defaultMetricsPort       = 9090
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	StateURL            string
	ReportURL           string
	PollInterval        time.Duration
	MaxPollInterval     time.Duration
	ReconcileInterval   time.Duration
	DockerHost          string
	StopTimeout         time.Duration
	DataDir             string
	BootstrapCompose    string
	DeviceName          string
	SlackWebhookURL     string
	WebhookURL          string
	DryRunNotifications bool
	HealthPort          int
	MetricsPort         int
	LogLevel            string
}

// Load reads configuration from environment variables and a local .env file
// if present. Existing environment variables take precedence over values in
// .env. At least one target source must be configured: EA_STATE_URL for
// polling, or EA_BOOTSTRAP_COMPOSE for a fully offline device.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		PollInterval:      defaultPollInterval,
		MaxPollInterval:   defaultMaxPollInterval,
		ReconcileInterval: defaultReconcileInterval,
		DockerHost:        defaultDockerHost,
		StopTimeout:       defaultStopTimeout,
		DataDir:           defaultDataDir,
		DeviceName:        defaultDeviceName,
		HealthPort:        defaultHealthPort,
		MetricsPort:       defaultMetricsPort,
		LogLevel:          "info",
	}

	for _, entry := range []struct {
		key    string
		target *string
	}{
		{envStateURL, &cfg.StateURL},
		{envReportURL, &cfg.ReportURL},
		{envDockerHost, &cfg.DockerHost},
		{envDataDir, &cfg.DataDir},
		{envBootstrapCompose, &cfg.BootstrapCompose},
		{envDeviceName, &cfg.DeviceName},
		{envSlackWebhookURL, &cfg.SlackWebhookURL},
		{envWebhookURL, &cfg.WebhookURL},
		{envLogLevel, &cfg.LogLevel},
	} {
		if value, ok := lookupTrimmed(entry.key); ok {
			*entry.target = value
		}
	}

	for _, entry := range []struct {
		key    string
		target *time.Duration
	}{
		{envPollInterval, &cfg.PollInterval},
		{envMaxPollInterval, &cfg.MaxPollInterval},
		{envReconcileEvery, &cfg.ReconcileInterval},
		{envStopTimeout, &cfg.StopTimeout},
	} {
		if value, ok := lookupTrimmed(entry.key); ok {
			interval, err := time.ParseDuration(value)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", entry.key, err)
			}
			if interval <= 0 {
				return Config{}, fmt.Errorf("%s must be greater than zero", entry.key)
			}
			*entry.target = interval
		}
	}

	for _, entry := range []struct {
		key    string
		target *int
	}{
		{envHealthPort, &cfg.HealthPort},
		{envMetricsPort, &cfg.MetricsPort},
	} {
		if value, ok := lookupTrimmed(entry.key); ok {
			port, err := parsePort(value)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", entry.key, err)
			}
			*entry.target = port
		}
	}

	if value, ok := lookupTrimmed(envDryRunNotify); ok {
		switch strings.ToLower(value) {
		case "1", "true", "yes":
			cfg.DryRunNotifications = true
		case "0", "false", "no", "":
			cfg.DryRunNotifications = false
		default:
			return Config{}, fmt.Errorf("invalid %s: %q is not a boolean", envDryRunNotify, value)
		}
	}

	if cfg.StateURL == "" && cfg.BootstrapCompose == "" {
		return Config{}, fmt.Errorf("either %s or %s is required", envStateURL, envBootstrapCompose)
	}

	if cfg.MaxPollInterval < cfg.PollInterval {
		return Config{}, fmt.Errorf("%s must not be less than %s", envMaxPollInterval, envPollInterval)
	}

	for _, entry := range []struct {
		key   string
		value string
	}{
		{envStateURL, cfg.StateURL},
		{envReportURL, cfg.ReportURL},
		{envSlackWebhookURL, cfg.SlackWebhookURL},
		{envWebhookURL, cfg.WebhookURL},
	} {
		if entry.value == "" {
			continue
		}
		if err := validateURL(entry.value, entry.key); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
