package profile

import (
	"context"
	"sync"

	"github.com/solaris-dev/pylon/internal/presence"
)

// MockFetcher serves canned profiles and records lookups. Used in tests and
// when no profile API endpoint is configured.
type MockFetcher struct {
	mu       sync.Mutex
	profiles map[string]presence.Profile
	err      error
	calls    []string
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{profiles: make(map[string]presence.Profile)}
}

func (f *MockFetcher) Set(p presence.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

// Fail makes every subsequent Fetch return err.
func (f *MockFetcher) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *MockFetcher) Fetch(_ context.Context, userID string) (presence.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	if f.err != nil {
		return presence.Profile{}, f.err
	}
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return presence.Profile{ID: userID, Username: "user-" + userID}, nil
}

func (f *MockFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
