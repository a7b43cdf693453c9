package watchlist

import (
	"sort"
	"sync"
)

// List is the shared set of identities the relay ingests presence for.
// An empty list means every identity on the feed is watched.
//
// The translator path reads it on every upstream event and the command
// layer mutates it at runtime, so all access goes through the lock.
type List struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func New(seed []string) *List {
	ids := make(map[string]struct{}, len(seed))
	for _, id := range seed {
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return &List{ids: ids}
}

// Watching reports whether updates for id should be ingested.
func (l *List) Watching(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.ids) == 0 {
		return true
	}
	_, ok := l.ids[id]
	return ok
}

// Add returns false if id was already present.
func (l *List) Add(id string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

// Remove returns false if id was not present.
func (l *List) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; !ok {
		return false
	}
	delete(l.ids, id)
	return true
}

func (l *List) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// IDs returns the watched identities in stable order.
func (l *List) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
