package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solaris-dev/pylon/internal/presence"
)

// Fetcher resolves the public profile for a user id.
type Fetcher interface {
	Fetch(ctx context.Context, userID string) (presence.Profile, error)
}

// HTTPFetcher looks profiles up against the upstream REST API.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, userID string) (presence.Profile, error) {
	endpoint := f.baseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return presence.Profile{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+f.token)

	res, err := f.client.Do(req)
	if err != nil {
		return presence.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return presence.Profile{}, fmt.Errorf("profile api status %d: %s", res.StatusCode, string(body))
	}

	var p presence.Profile
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return presence.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.ID == "" {
		p.ID = userID
	}
	return p, nil
}
