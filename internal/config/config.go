package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the presence relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	GatewayToken                    string
	GatewayURL                      string
	GatewayMaxReconnectAttempts     int
	GatewayRateLimitRetryDelay      time.Duration
	GatewayDefaultHeartbeatInterval time.Duration

	ProfileAPIURL string

	// MonitoredUsers seeds the tracked-identity allow list. Empty means
	// every identity seen on the feed is tracked.
	MonitoredUsers []string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "pylon"),
		AllowAnyOrigin:   false,
		GatewayToken:     stringsTrimSpace("GATEWAY_TOKEN"),
		GatewayURL:       envOrDefault("GATEWAY_URL", "wss://gateway.discord.gg/?v=10&encoding=json"),
		ProfileAPIURL:    envOrDefault("PROFILE_API_URL", "https://discord.com/api/v10"),
		MonitoredUsers:   splitList(os.Getenv("MONITORED_USERS")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:             15 * time.Second,
		GatewayMaxReconnectAttempts: 5,
		GatewayRateLimitRetryDelay:  5 * time.Second,
		// The upstream provider's recommended heartbeat interval; used only
		// as the backoff cap until the real one is negotiated.
		GatewayDefaultHeartbeatInterval: 41250 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayMaxReconnectAttempts, err = intFromEnv("GATEWAY_MAX_RECONNECT_ATTEMPTS", cfg.GatewayMaxReconnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayRateLimitRetryDelay, err = durationFromEnv("GATEWAY_RATE_LIMIT_RETRY_DELAY", cfg.GatewayRateLimitRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayDefaultHeartbeatInterval, err = durationFromEnv("GATEWAY_DEFAULT_HEARTBEAT_INTERVAL", cfg.GatewayDefaultHeartbeatInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.GatewayToken == "" {
		return Config{}, fmt.Errorf("GATEWAY_TOKEN is required")
	}
	if cfg.GatewayMaxReconnectAttempts <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_MAX_RECONNECT_ATTEMPTS must be positive")
	}
	if cfg.GatewayRateLimitRetryDelay <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_RATE_LIMIT_RETRY_DELAY must be positive")
	}
	if cfg.GatewayDefaultHeartbeatInterval < time.Second {
		return Config{}, fmt.Errorf("GATEWAY_DEFAULT_HEARTBEAT_INTERVAL must be at least 1s")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
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
