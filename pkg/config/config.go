// Package config loads likewire configuration from environment variables,
// optionally overlaid by a YAML profile for named environments.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine, gateway and bridge configuration.
type Config struct {
	// Gateway selection: "http", "postgres" or "redis".
	GatewayKind string

	APIBaseURL   string
	SessionToken string
	PostgresDSN  string
	RedisAddr    string
	RedisDB      int

	// PushTopic is the change-notification channel.
	PushTopic string

	// Bridge tuning.
	StreamFailureThreshold int
	StreamCooldown         time.Duration
	PollInterval           time.Duration

	// Engine tuning.
	CallTimeout    time.Duration
	ToggleDebounce time.Duration
	StateTTL       time.Duration

	// Session token verification secret (HS256).
	SessionSecret string

	LogLevel         string
	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		GatewayKind:            envStr("LIKEWIRE_GATEWAY", "http"),
		APIBaseURL:             envStr("LIKEWIRE_API_URL", "http://localhost:8080"),
		SessionToken:           os.Getenv("LIKEWIRE_SESSION_TOKEN"),
		PostgresDSN:            envStr("LIKEWIRE_POSTGRES_DSN", "postgres://seedling@localhost:5432/seedling?sslmode=disable"),
		RedisAddr:              envStr("LIKEWIRE_REDIS_ADDR", "localhost:6379"),
		RedisDB:                envInt("LIKEWIRE_REDIS_DB", 0),
		PushTopic:              envStr("LIKEWIRE_PUSH_TOPIC", "interactions:changes"),
		StreamFailureThreshold: envInt("LIKEWIRE_STREAM_FAILURE_THRESHOLD", 2),
		StreamCooldown:         envDuration("LIKEWIRE_STREAM_COOLDOWN", 30*time.Second),
		PollInterval:           envDuration("LIKEWIRE_POLL_INTERVAL", 5*time.Second),
		CallTimeout:            envDuration("LIKEWIRE_CALL_TIMEOUT", 4*time.Second),
		ToggleDebounce:         envDuration("LIKEWIRE_TOGGLE_DEBOUNCE", 300*time.Millisecond),
		StateTTL:               envDuration("LIKEWIRE_STATE_TTL", 30*time.Minute),
		SessionSecret:          os.Getenv("LIKEWIRE_SESSION_SECRET"),
		LogLevel:               envStr("LOG_LEVEL", "INFO"),
		TelemetryEnabled:       os.Getenv("LIKEWIRE_TELEMETRY") == "true",
		OTLPEndpoint:           envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
