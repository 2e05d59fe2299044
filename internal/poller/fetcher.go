package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxBytes int64 = 2 << 20

// Fetcher retrieves the target state document.
type Fetcher interface {
	Fetch(ctx context.Context, previousETag string) (FetchResult, error)
}

// FetchResult contains the fetched document and response metadata.
type FetchResult struct {
	Body        []byte
	ETag        string
	NotModified bool
}

// HTTPFetcher retrieves the target state over HTTP with conditional
// requests: the previous ETag goes out as If-None-Match and a 304 comes
// back as NotModified with no body transfer.
type HTTPFetcher struct {
	url      string
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher constructs an HTTPFetcher for the given endpoint.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("target state url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTPFetcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}, nil
}

// Fetch downloads the target state document.
func (f *HTTPFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch target state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			ETag:        resp.Header.Get("ETag"),
			NotModified: true,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("target state body is empty")
	}

	return FetchResult{
		Body: body,
		ETag: resp.Header.Get("ETag"),
	}, nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read target state: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("target state body exceeds %d bytes", maxBytes)
	}
	return body, nil
}
