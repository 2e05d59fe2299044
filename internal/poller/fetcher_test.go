package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetcherValidation(t *testing.T) {
	if _, err := NewHTTPFetcher("", time.Second, 0); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewHTTPFetcher("http://example.com/state", 0, 0); err == nil {
		t.Error("expected error for zero timeout")
	}
}

func TestHTTPFetcherConditionalGet(t *testing.T) {
	const body = `{"version": 1, "services": {"web": {"image": "nginx"}}}`
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Header.Get("If-None-Match"))
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(body))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.URL, time.Second, 0)
	if err != nil {
		t.Fatalf("NewHTTPFetcher returned error: %v", err)
	}

	ctx := context.Background()
	first, err := fetcher.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("first Fetch returned error: %v", err)
	}
	if first.NotModified {
		t.Fatal("expected a full response on first fetch")
	}
	if string(first.Body) != body {
		t.Errorf("unexpected body %q", first.Body)
	}
	if first.ETag != `"abc"` {
		t.Errorf("expected ETag to be captured, got %q", first.ETag)
	}

	second, err := fetcher.Fetch(ctx, first.ETag)
	if err != nil {
		t.Fatalf("second Fetch returned error: %v", err)
	}
	if !second.NotModified {
		t.Fatal("expected NotModified on conditional refetch")
	}
	if len(second.Body) != 0 {
		t.Error("expected no body on a 304")
	}

	if requests[0] != "" || requests[1] != `"abc"` {
		t.Errorf("unexpected conditional headers %v", requests)
	}
}

func TestHTTPFetcherRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher, _ := NewHTTPFetcher(server.URL, time.Second, 0)
	if _, err := fetcher.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestHTTPFetcherRejectsEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetcher, _ := NewHTTPFetcher(server.URL, time.Second, 0)
	if _, err := fetcher.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestHTTPFetcherEnforcesSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	fetcher, _ := NewHTTPFetcher(server.URL, time.Second, 1024)
	if _, err := fetcher.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for oversized body")
	}
}
