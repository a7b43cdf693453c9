package store

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/solaris-dev/pylon/internal/presence"
)

var ErrNotFound = errors.New("presence not found")

// Subscriber receives every record written to the store. Callbacks run on
// the writer's goroutine and must not block; connection handlers buffer
// internally and drop on backpressure.
type Subscriber func(userID string, rec presence.Record)

// Persister is the optional durability hook for annotations. Upstream
// presence writes never touch it.
type Persister interface {
	SetKV(ctx context.Context, userID, key, value string) error
	DeleteKV(ctx context.Context, userID, key string) error
	LoadKV(ctx context.Context) (map[string]map[string]string, error)
	Close() error
}

// Store holds the last-known presence record per identity and fans writes
// out to subscribers. One instance is shared by the ingest path and every
// downstream connection handler.
type Store struct {
	mu      sync.Mutex
	records map[string]presence.Record
	// pendingKV holds annotations restored from the persister for
	// identities with no record yet; merged on their first Put.
	pendingKV map[string]map[string]string
	subs      map[uint64]Subscriber
	nextSub   uint64
	persist   Persister
}

func New(persist Persister) *Store {
	return &Store{
		records:   make(map[string]presence.Record),
		pendingKV: make(map[string]map[string]string),
		subs:      make(map[uint64]Subscriber),
		persist:   persist,
	}
}

// Load seeds restored annotations from the persister. Call once at boot,
// before the ingest loop starts.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	kv, err := s.persist.LoadKV(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, pairs := range kv {
		if len(pairs) == 0 {
			continue
		}
		s.pendingKV[userID] = pairs
	}
	return nil
}

func (s *Store) Get(userID string) (presence.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return presence.Record{}, false
	}
	return rec.Clone(), true
}

// Put overwrites the record for userID and synchronously notifies every
// subscriber. The caller is expected to have carried existing annotations
// forward (the translator does); restored annotations for identities seen
// for the first time are merged here.
func (s *Store) Put(userID string, rec presence.Record) {
	stored := rec.Clone()
	if stored.KV == nil {
		stored.KV = map[string]string{}
	}

	s.mu.Lock()
	if pending, ok := s.pendingKV[userID]; ok {
		for k, v := range pending {
			if _, exists := stored.KV[k]; !exists {
				stored.KV[k] = v
			}
		}
		delete(s.pendingKV, userID)
	}
	s.records[userID] = stored
	subs, snapshot := s.notifySnapshot(stored)
	s.mu.Unlock()

	notify(subs, userID, snapshot)
}

// SetKV merges one annotation into an existing record and notifies
// subscribers. Identities never observed on the feed get ErrNotFound; no
// record is created for them.
func (s *Store) SetKV(ctx context.Context, userID, key, value string) error {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if rec.KV == nil {
		rec.KV = map[string]string{}
	}
	rec.KV[key] = value
	s.records[userID] = rec
	subs, snapshot := s.notifySnapshot(rec)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SetKV(ctx, userID, key, value); err != nil {
			log.Printf("store: persist kv set %s/%s: %v", userID, key, err)
		}
	}
	notify(subs, userID, snapshot)
	return nil
}

// DeleteKV removes one annotation. Missing identity or key is ErrNotFound.
func (s *Store) DeleteKV(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if _, ok := rec.KV[key]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(rec.KV, key)
	s.records[userID] = rec
	subs, snapshot := s.notifySnapshot(rec)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.DeleteKV(ctx, userID, key); err != nil {
			log.Printf("store: persist kv delete %s/%s: %v", userID, key, err)
		}
	}
	notify(subs, userID, snapshot)
	return nil
}

// Subscribe registers fn and returns its removal func. The handle stands
// in for callback identity; registering the same func twice yields two
// independent registrations.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// notifySnapshot copies the subscriber set and the record under the lock
// so delivery can happen outside it. A subscriber unregistering mid-pass
// may still receive that in-flight notification.
func (s *Store) notifySnapshot(rec presence.Record) ([]Subscriber, presence.Record) {
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs, rec.Clone()
}

func notify(subs []Subscriber, userID string, rec presence.Record) {
	for _, fn := range subs {
		safeNotify(fn, userID, rec)
	}
}

// safeNotify keeps one failing subscriber from taking down the writer or
// the remaining subscribers.
func safeNotify(fn Subscriber, userID string, rec presence.Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("store: subscriber panic for %s: %v", userID, r)
		}
	}()
	fn(userID, rec)
}

// Close releases the persister, if any.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}
	return s.persist.Close()
}
