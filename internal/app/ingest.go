package app

import (
	"context"
	"log"
	"time"

	"github.com/solaris-dev/pylon/internal/gateway"
	"github.com/solaris-dev/pylon/internal/observability"
	"github.com/solaris-dev/pylon/internal/presence"
	"github.com/solaris-dev/pylon/internal/profile"
	"github.com/solaris-dev/pylon/internal/store"
	"github.com/solaris-dev/pylon/internal/watchlist"
)

// Ingestor turns raw upstream presence events into cached records. One
// goroutine owns the whole cycle, so per-identity updates apply in arrival
// order.
type Ingestor struct {
	watch   *watchlist.List
	fetch   profile.Fetcher
	store   *store.Store
	metrics *observability.Metrics
}

func NewIngestor(watch *watchlist.List, fetch profile.Fetcher, st *store.Store, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{watch: watch, fetch: fetch, store: st, metrics: metrics}
}

// Run consumes updates until the channel closes or ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context, ready <-chan gateway.ReadyEvent, updates <-chan presence.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ready:
			if !ok {
				ready = nil
				continue
			}
			log.Printf("app: upstream session established as %s (%s)", ev.User.Username, ev.User.ID)
			i.metrics.GatewayEvents.WithLabelValues("READY").Inc()
		case u, ok := <-updates:
			if !ok {
				return
			}
			i.apply(ctx, u)
		}
	}
}

func (i *Ingestor) apply(ctx context.Context, u presence.Update) {
	userID := u.User.ID
	if userID == "" {
		i.metrics.PresenceUpdates.WithLabelValues("invalid").Inc()
		return
	}
	if !i.watch.Watching(userID) {
		i.metrics.PresenceUpdates.WithLabelValues("filtered").Inc()
		return
	}

	prof, err := i.fetch.Fetch(ctx, userID)
	if err != nil {
		// Drop this cycle; the next update for the identity retries.
		log.Printf("app: profile lookup for %s failed, dropping update: %v", userID, err)
		i.metrics.PresenceUpdates.WithLabelValues("profile_error").Inc()
		return
	}

	var existing *presence.Record
	if rec, ok := i.store.Get(userID); ok {
		existing = &rec
	}
	i.store.Put(userID, presence.Build(u, prof, existing, time.Now()))
	i.metrics.PresenceUpdates.WithLabelValues("applied").Inc()
	i.metrics.GatewayEvents.WithLabelValues("PRESENCE_UPDATE").Inc()
}
