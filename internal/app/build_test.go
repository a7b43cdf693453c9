package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/solaris-dev/pylon/internal/config"
)

func TestBuildWiresComponents(t *testing.T) {
	cfg := config.Config{
		BindAddr:                        ":0",
		MetricsNamespace:                fmt.Sprintf("test_build_%d", time.Now().UnixNano()),
		GatewayToken:                    "tok",
		GatewayURL:                      "ws://127.0.0.1:1",
		GatewayMaxReconnectAttempts:     1,
		GatewayRateLimitRetryDelay:      time.Second,
		GatewayDefaultHeartbeatInterval: time.Second,
		ProfileAPIURL:                   "http://127.0.0.1:1",
		MonitoredUsers:                  []string{"u1"},
		ShutdownTimeout:                 time.Second,
	}

	result, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
	}()

	if result.API == nil || result.Gateway == nil || result.Ingestor == nil {
		t.Fatalf("result = %+v", result)
	}
	if !result.Watch.Contains("u1") {
		t.Fatalf("watchlist not seeded")
	}

	// The router serves before the upstream feed is up; readiness gates on it.
	srv := httptest.NewServer(result.API.Router())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want unavailable before the feed connects", res.StatusCode)
	}
}
