package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the career counselor service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionWindow     time.Duration
	ClassifierTimeout time.Duration
	GenerationTimeout time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "rafiki"),
		AllowAnyOrigin:    false,
		ShutdownTimeout:   15 * time.Second,
		SessionWindow:     24 * time.Hour,
		ClassifierTimeout: 15 * time.Second,
		GenerationTimeout: 30 * time.Second,
		OpenAIAPIKey:      trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:     trimmedEnv("OPENAI_BASE_URL"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		TwilioAccountSID:  trimmedEnv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   trimmedEnv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  envOrDefault("TWILIO_WHATSAPP_NUMBER", "+14155238886"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionWindow, err = durationFromEnv("APP_SESSION_WINDOW", cfg.SessionWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ClassifierTimeout, err = durationFromEnv("APP_CLASSIFIER_TIMEOUT", cfg.ClassifierTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("APP_GENERATION_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.SessionWindow < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_WINDOW must be at least 1m")
	}
	if cfg.ClassifierTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_CLASSIFIER_TIMEOUT must be positive")
	}
	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_GENERATION_TIMEOUT must be positive")
	}
	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together")
	}

	return cfg, nil
}

// TwilioConfigured reports whether real WhatsApp delivery is available.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
