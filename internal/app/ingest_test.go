package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/solaris-dev/pylon/internal/gateway"
	"github.com/solaris-dev/pylon/internal/observability"
	"github.com/solaris-dev/pylon/internal/presence"
	"github.com/solaris-dev/pylon/internal/profile"
	"github.com/solaris-dev/pylon/internal/store"
	"github.com/solaris-dev/pylon/internal/watchlist"
)

func newIngestor(t *testing.T, monitored []string) (*Ingestor, *store.Store, *profile.MockFetcher) {
	t.Helper()
	st := store.New(nil)
	fetch := profile.NewMockFetcher()
	metrics := observability.NewMetrics(fmt.Sprintf("test_app_%d", time.Now().UnixNano()))
	return NewIngestor(watchlist.New(monitored), fetch, st, metrics), st, fetch
}

func updateFor(id string, status presence.Status) presence.Update {
	var u presence.Update
	u.User.ID = id
	u.Status = status
	u.ClientStatus.Desktop = status
	return u
}

func TestIngestAppliesWatchedUpdates(t *testing.T) {
	ing, st, fetch := newIngestor(t, []string{"u1"})
	fetch.Set(presence.Profile{ID: "u1", Username: "ada"})

	ing.apply(context.Background(), updateFor("u1", presence.StatusOnline))

	rec, ok := st.Get("u1")
	if !ok {
		t.Fatalf("record not stored")
	}
	if rec.User.Username != "ada" || rec.Status != presence.StatusOnline || !rec.ActiveOnDesktop {
		t.Fatalf("record = %+v", rec)
	}
}

func TestIngestFiltersUnwatchedIdentities(t *testing.T) {
	ing, st, fetch := newIngestor(t, []string{"u1"})

	ing.apply(context.Background(), updateFor("outsider", presence.StatusOnline))

	if _, ok := st.Get("outsider"); ok {
		t.Fatalf("unwatched identity stored")
	}
	if calls := fetch.Calls(); len(calls) != 0 {
		t.Fatalf("profile fetched for unwatched identity: %v", calls)
	}
}

func TestIngestEmptyWatchlistTracksEveryone(t *testing.T) {
	ing, st, _ := newIngestor(t, nil)

	ing.apply(context.Background(), updateFor("anyone", presence.StatusIdle))

	if _, ok := st.Get("anyone"); !ok {
		t.Fatalf("identity not stored with empty watchlist")
	}
}

func TestIngestDropsCycleOnProfileFailure(t *testing.T) {
	ing, st, fetch := newIngestor(t, nil)

	// Seed a record, then make the next lookup fail: the stale record
	// must survive untouched.
	ing.apply(context.Background(), updateFor("u1", presence.StatusOnline))
	fetch.Fail(errors.New("upstream 500"))
	ing.apply(context.Background(), updateFor("u1", presence.StatusDoNotDisturb))

	rec, ok := st.Get("u1")
	if !ok {
		t.Fatalf("record missing")
	}
	if rec.Status != presence.StatusOnline {
		t.Fatalf("status = %q, want online (failed cycle must not apply)", rec.Status)
	}
}

func TestIngestPreservesAnnotationsAcrossUpdates(t *testing.T) {
	ing, st, _ := newIngestor(t, nil)
	ctx := context.Background()

	ing.apply(ctx, updateFor("u1", presence.StatusOnline))
	if err := st.SetKV(ctx, "u1", "note", "keeper"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	ing.apply(ctx, updateFor("u1", presence.StatusIdle))

	rec, _ := st.Get("u1")
	if rec.KV["note"] != "keeper" {
		t.Fatalf("annotation lost: %v", rec.KV)
	}
	if rec.Status != presence.StatusIdle {
		t.Fatalf("status = %q", rec.Status)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ing, _, _ := newIngestor(t, nil)

	ready := make(chan gateway.ReadyEvent)
	updates := make(chan presence.Update)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ing.Run(ctx, ready, updates)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}

func TestRunConsumesReadyAndUpdates(t *testing.T) {
	ing, st, _ := newIngestor(t, nil)

	ready := make(chan gateway.ReadyEvent, 1)
	updates := make(chan presence.Update, 1)
	ready <- gateway.ReadyEvent{SessionID: "s1", User: presence.Profile{ID: "self", Username: "relay"}}
	updates <- updateFor("u1", presence.StatusOnline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ing.Run(ctx, ready, updates)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := st.Get("u1"); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("update never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
