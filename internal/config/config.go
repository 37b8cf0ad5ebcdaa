package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Remove surrounding quotes
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort        = "4300"
	defaultEnvironment = "development"
	defaultLogLevel    = "info"

	defaultReconcileEnabled      = true
	defaultReconcilePollInterval = 5 * time.Second
	defaultReconcileMaxPerPoll   = 50
	defaultReconcileRunTimeout   = 2 * time.Minute

	defaultWebhookMaxAge = 5 * time.Minute
)

// WebhookConfig holds settings for the inbound platform webhook endpoint.
type WebhookConfig struct {
	Secret string
	MaxAge time.Duration
}

// ReconcileConfig holds settings for the sync-job reconcile worker.
type ReconcileConfig struct {
	Enabled      bool
	PollInterval time.Duration
	MaxPerPoll   int
	RunTimeout   time.Duration
}

type Config struct {
	Port        string
	DatabaseURL string
	Environment string
	LogLevel    string
	Webhook     WebhookConfig
	Reconcile   ReconcileConfig
}

func Load() (Config, error) {
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment: resolveEnvironment(),
		LogLevel:    firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), defaultLogLevel),
		Webhook: WebhookConfig{
			Secret: strings.TrimSpace(os.Getenv("PLATFORM_WEBHOOK_SECRET")),
		},
	}

	webhookMaxAge, err := parseDuration("PLATFORM_WEBHOOK_MAX_AGE", defaultWebhookMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.Webhook.MaxAge = webhookMaxAge

	reconcileEnabled, err := parseBool("RECONCILE_WORKER_ENABLED", defaultReconcileEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.Reconcile.Enabled = reconcileEnabled

	pollInterval, err := parseDuration("RECONCILE_POLL_INTERVAL", defaultReconcilePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.Reconcile.PollInterval = pollInterval

	maxPerPoll, err := parseInt("RECONCILE_MAX_PER_POLL", defaultReconcileMaxPerPoll)
	if err != nil {
		return Config{}, err
	}
	cfg.Reconcile.MaxPerPoll = maxPerPoll

	runTimeout, err := parseDuration("RECONCILE_RUN_TIMEOUT", defaultReconcileRunTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Reconcile.RunTimeout = runTimeout

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Reconcile.Enabled {
		if c.Reconcile.PollInterval <= 0 {
			return fmt.Errorf("RECONCILE_POLL_INTERVAL must be greater than zero")
		}
		if c.Reconcile.MaxPerPoll <= 0 {
			return fmt.Errorf("RECONCILE_MAX_PER_POLL must be greater than zero")
		}
		if c.Reconcile.RunTimeout <= 0 {
			return fmt.Errorf("RECONCILE_RUN_TIMEOUT must be greater than zero")
		}
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in non-development environments")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("PLATFORM_WEBHOOK_SECRET is required in non-development environments")
	}

	return nil
}

// IsDevelopment reports whether the configured environment is a local or
// development one.
func (c Config) IsDevelopment() bool {
	return !isNonDevelopment(c.Environment)
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func parseBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}

	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
