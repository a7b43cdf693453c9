package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/solaris-dev/pylon/internal/store"
	"github.com/solaris-dev/pylon/internal/watchlist"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArgs    = errors.New("missing arguments")
)

// Dispatcher executes operator commands against the watchlist and the
// presence cache. Commands run on behalf of an actor: kv operations touch
// the actor's own record.
type Dispatcher struct {
	watch     *watchlist.List
	store     *store.Store
	startedAt time.Time
}

func NewDispatcher(watch *watchlist.List, st *store.Store) *Dispatcher {
	return &Dispatcher{watch: watch, store: st, startedAt: time.Now()}
}

func (d *Dispatcher) Execute(ctx context.Context, actorID, name string, args []string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "subscribe":
		if len(args) < 1 {
			return "", fmt.Errorf("%w: subscribe <user id>", ErrMissingArgs)
		}
		if !d.watch.Add(args[0]) {
			return fmt.Sprintf("already monitoring %s", args[0]), nil
		}
		return fmt.Sprintf("now monitoring %s", args[0]), nil
	case "unsubscribe":
		if len(args) < 1 {
			return "", fmt.Errorf("%w: unsubscribe <user id>", ErrMissingArgs)
		}
		if !d.watch.Remove(args[0]) {
			return fmt.Sprintf("%s was not monitored", args[0]), nil
		}
		return fmt.Sprintf("stopped monitoring %s", args[0]), nil
	case "status":
		uptime := time.Since(d.startedAt).Round(time.Second)
		return fmt.Sprintf("monitoring %d users, up %s", d.watch.Len(), uptime), nil
	case "kv":
		return d.executeKV(ctx, actorID, args)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func (d *Dispatcher) executeKV(ctx context.Context, actorID string, args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("%w: kv <set|get|delete|list>", ErrMissingArgs)
	}
	switch strings.ToLower(args[0]) {
	case "set":
		if len(args) < 3 {
			return "", fmt.Errorf("%w: kv set <key> <value>", ErrMissingArgs)
		}
		// Values may contain spaces.
		value := strings.Join(args[2:], " ")
		if err := d.store.SetKV(ctx, actorID, args[1], value); err != nil {
			return "", err
		}
		return fmt.Sprintf("set %s", args[1]), nil
	case "get":
		if len(args) < 2 {
			return "", fmt.Errorf("%w: kv get <key>", ErrMissingArgs)
		}
		rec, ok := d.store.Get(actorID)
		if !ok {
			return "", store.ErrNotFound
		}
		value, ok := rec.KV[args[1]]
		if !ok {
			return "", fmt.Errorf("key %q: %w", args[1], store.ErrNotFound)
		}
		return value, nil
	case "delete":
		if len(args) < 2 {
			return "", fmt.Errorf("%w: kv delete <key>", ErrMissingArgs)
		}
		if err := d.store.DeleteKV(ctx, actorID, args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %s", args[1]), nil
	case "list":
		rec, ok := d.store.Get(actorID)
		if !ok {
			return "", store.ErrNotFound
		}
		if len(rec.KV) == 0 {
			return "no annotations", nil
		}
		keys := make([]string, 0, len(rec.KV))
		for k := range rec.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s=%s", k, rec.KV[k])
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: kv %s", ErrUnknownCommand, args[0])
	}
}
