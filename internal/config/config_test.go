package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GATEWAY_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":3000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":3000")
	}
	if cfg.GatewayMaxReconnectAttempts != 5 {
		t.Fatalf("GatewayMaxReconnectAttempts = %d, want 5", cfg.GatewayMaxReconnectAttempts)
	}
	if cfg.GatewayDefaultHeartbeatInterval != 41250*time.Millisecond {
		t.Fatalf("GatewayDefaultHeartbeatInterval = %v, want 41.25s", cfg.GatewayDefaultHeartbeatInterval)
	}
	if len(cfg.MonitoredUsers) != 0 {
		t.Fatalf("MonitoredUsers = %v, want empty", cfg.MonitoredUsers)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	setCoreEnvEmpty(t)

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail without GATEWAY_TOKEN")
	}
}

func TestLoadSplitsMonitoredUsers(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GATEWAY_TOKEN", "tok")
	t.Setenv("MONITORED_USERS", "1001, 1002,,1003")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"1001", "1002", "1003"}
	if len(cfg.MonitoredUsers) != len(want) {
		t.Fatalf("MonitoredUsers = %v, want %v", cfg.MonitoredUsers, want)
	}
	for i := range want {
		if cfg.MonitoredUsers[i] != want[i] {
			t.Fatalf("MonitoredUsers[%d] = %q, want %q", i, cfg.MonitoredUsers[i], want[i])
		}
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GATEWAY_TOKEN", "tok")
	t.Setenv("GATEWAY_RATE_LIMIT_RETRY_DELAY", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject unparsable duration")
	}
}

func TestLoadRejectsNonPositiveAttempts(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GATEWAY_TOKEN", "tok")
	t.Setenv("GATEWAY_MAX_RECONNECT_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject zero reconnect attempts")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"GATEWAY_TOKEN",
		"GATEWAY_URL",
		"GATEWAY_MAX_RECONNECT_ATTEMPTS",
		"GATEWAY_RATE_LIMIT_RETRY_DELAY",
		"GATEWAY_DEFAULT_HEARTBEAT_INTERVAL",
		"PROFILE_API_URL",
		"MONITORED_USERS",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
