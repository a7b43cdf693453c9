package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/solaris-dev/pylon/internal/command"
	"github.com/solaris-dev/pylon/internal/config"
	"github.com/solaris-dev/pylon/internal/gateway"
	"github.com/solaris-dev/pylon/internal/httpapi"
	"github.com/solaris-dev/pylon/internal/hub"
	"github.com/solaris-dev/pylon/internal/observability"
	"github.com/solaris-dev/pylon/internal/profile"
	"github.com/solaris-dev/pylon/internal/store"
	"github.com/solaris-dev/pylon/internal/watchlist"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Store    *store.Store
	Watch    *watchlist.List
	Gateway  *gateway.Client
	Ingestor *Ingestor
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	persister, err := store.NewPersister(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("annotation persister init failed: %w", err)
	}

	st := store.New(persister)
	if err := st.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("annotation restore failed: %w", err)
	}

	watch := watchlist.New(cfg.MonitoredUsers)
	if n := watch.Len(); n > 0 {
		log.Printf("app: monitoring %d configured identities", n)
	} else {
		log.Printf("app: no MONITORED_USERS configured, tracking every identity on the feed")
	}

	fetcher := profile.NewHTTPFetcher(cfg.ProfileAPIURL, cfg.GatewayToken)

	gw := gateway.New(gateway.Config{
		URL:                      cfg.GatewayURL,
		Token:                    cfg.GatewayToken,
		MaxReconnectAttempts:     cfg.GatewayMaxReconnectAttempts,
		RateLimitRetryDelay:      cfg.GatewayRateLimitRetryDelay,
		DefaultHeartbeatInterval: cfg.GatewayDefaultHeartbeatInterval,
		OnStateChange: func(s gateway.State) {
			if s == gateway.StateConnecting {
				metrics.ReconnectAttempts.Inc()
			}
		},
	})

	ingestor := NewIngestor(watch, fetcher, st, metrics)

	h := hub.New(st, metrics)
	dispatcher := command.NewDispatcher(watch, st)
	api := httpapi.New(cfg, st, watch, h, dispatcher, metrics, func() bool {
		return gw.State() == gateway.StateConnected
	})

	cleanup := func() error {
		var errs []string
		gw.Close()
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Store:    st,
		Watch:    watch,
		Gateway:  gw,
		Ingestor: ingestor,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
