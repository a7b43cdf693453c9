package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPFetcherRequestsUserEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bot tok" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"123","username":"ada","global_name":"Ada","flags":64}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", "tok")
	p, err := f.Fetch(context.Background(), "123")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Username != "ada" || p.GlobalName != "Ada" || p.Flags != 64 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestHTTPFetcherNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"unknown user"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "tok")
	if _, err := f.Fetch(context.Background(), "404"); err == nil {
		t.Fatalf("expected error on 404")
	} else if !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("err = %v", err)
	}
}

func TestMockFetcherDefaults(t *testing.T) {
	f := NewMockFetcher()
	p, err := f.Fetch(context.Background(), "9")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.ID != "9" || p.Username != "user-9" {
		t.Fatalf("profile = %+v", p)
	}
	if calls := f.Calls(); len(calls) != 1 || calls[0] != "9" {
		t.Fatalf("calls = %v", calls)
	}
}
