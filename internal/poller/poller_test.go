package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/target"
)

type scriptedFetcher struct {
	results []FetchResult
	errs    []error
	calls   int
	etags   []string
}

func (f *scriptedFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	f.etags = append(f.etags, previousETag)
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	if f.errs[i] != nil {
		return FetchResult{}, f.errs[i]
	}
	return f.results[i], nil
}

const validBody = `{"version": 5, "services": {"web": {"image": "nginx:1.27", "replicas": 1}}}`

func newTestPoller(fetcher Fetcher, opts ...Option) (*Poller, *target.Store) {
	store := target.NewStore()
	p := New(zerolog.Nop(), fetcher, store, time.Second, opts...)
	return p, store
}

func TestPollOnceAdoptsNewState(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []FetchResult{{Body: []byte(validBody), ETag: `"v5"`}},
		errs:    []error{nil},
	}
	p, store := newTestPoller(fetcher)

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}

	state, ok := store.Get()
	if !ok {
		t.Fatal("expected adopted state in store")
	}
	if state.Version != 5 {
		t.Errorf("expected version 5, got %d", state.Version)
	}
}

func TestPollOnceSendsETag(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []FetchResult{
			{Body: []byte(validBody), ETag: `"v5"`},
			{NotModified: true, ETag: `"v5"`},
		},
		errs: []error{nil, nil},
	}
	p, _ := newTestPoller(fetcher)

	ctx := context.Background()
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("first PollOnce returned error: %v", err)
	}
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("second PollOnce returned error: %v", err)
	}

	if fetcher.etags[0] != "" {
		t.Errorf("expected no ETag on first fetch, got %q", fetcher.etags[0])
	}
	if fetcher.etags[1] != `"v5"` {
		t.Errorf("expected remembered ETag on second fetch, got %q", fetcher.etags[1])
	}
}

func TestPollOnceNotModifiedKeepsState(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []FetchResult{
			{Body: []byte(validBody), ETag: `"v5"`},
			{NotModified: true, ETag: `"v5"`},
		},
		errs: []error{nil, nil},
	}
	p, store := newTestPoller(fetcher)

	ctx := context.Background()
	p.PollOnce(ctx)
	// Drain the change signal from the adoption.
	<-store.Changed()

	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}

	select {
	case <-store.Changed():
		t.Fatal("expected no change signal for a 304 response")
	default:
	}
}

func TestPollOnceUnchangedBodySkipsAdoption(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []FetchResult{
			{Body: []byte(validBody)},
			{Body: []byte(validBody)},
		},
		errs: []error{nil, nil},
	}
	p, store := newTestPoller(fetcher)

	ctx := context.Background()
	p.PollOnce(ctx)
	<-store.Changed()

	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	select {
	case <-store.Changed():
		t.Fatal("expected byte-identical body to be suppressed without a full parse")
	default:
	}
}

func TestPollOnceRejectsMalformedState(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []FetchResult{
			{Body: []byte(validBody)},
			{Body: []byte(`{"version": 6, "services": {}}`)},
		},
		errs: []error{nil, nil},
	}
	p, store := newTestPoller(fetcher)

	ctx := context.Background()
	p.PollOnce(ctx)

	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("expected malformed payload to not count as transport failure, got %v", err)
	}

	state, _ := store.Get()
	if state.Version != 5 {
		t.Errorf("expected previous state to survive a malformed fetch, still got version %d", state.Version)
	}
}

func TestPollOnceTransportErrorSurfaces(t *testing.T) {
	cause := errors.New("connection refused")
	fetcher := &scriptedFetcher{
		results: []FetchResult{{}},
		errs:    []error{cause},
	}
	p, store := newTestPoller(fetcher)

	err := p.PollOnce(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Error("expected no state adopted on transport failure")
	}
}

func TestNextWaitBacksOffAndRecovers(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []FetchResult{{}},
		errs:    []error{errors.New("down")},
	}
	p, _ := newTestPoller(fetcher, WithMaxInterval(10*time.Second))

	failure := errors.New("down")
	prev := time.Duration(0)
	for i := 0; i < 3; i++ {
		wait := p.nextWait(failure)
		// Jitter allows up to 30% spread around the nominal value, so only
		// the monotonic growth across doublings is asserted.
		if wait <= prev/2 {
			t.Fatalf("attempt %d: expected growing backoff, got %v after %v", i, wait, prev)
		}
		if wait > 13*time.Second {
			t.Fatalf("attempt %d: expected backoff capped near max interval, got %v", i, wait)
		}
		prev = wait
	}

	if wait := p.nextWait(nil); wait != time.Second {
		t.Fatalf("expected nominal interval after success, got %v", wait)
	}
}

func TestBackoffResetsAfterSuccess(t *testing.T) {
	failure := errors.New("down")
	fetcher := &scriptedFetcher{
		results: []FetchResult{{}, {Body: []byte(validBody)}},
		errs:    []error{failure, nil},
	}
	p, _ := newTestPoller(fetcher)

	ctx := context.Background()
	if err := p.PollOnce(ctx); err == nil {
		t.Fatal("expected first poll to fail")
	}
	p.nextWait(failure)
	p.nextWait(failure)

	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("second poll returned error: %v", err)
	}

	// A fresh failure after a success must start from a small backoff again,
	// not continue where the previous streak left off.
	wait := p.nextWait(failure)
	if wait > 1300*time.Millisecond {
		t.Fatalf("expected backoff to restart near the base interval, got %v", wait)
	}
}
