package search

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func newTestLogger() *slog.Logger { return slog.Default() }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testFetcher(fn roundTripFunc) *fetcher {
	return newFetcher(&http.Client{Transport: fn}, nil)
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// fakeProvider answers after delay, or returns ctx.Err() if cancelled first.
type fakeProvider struct {
	name     string
	disabled bool
	delay    time.Duration
	out      string
	err      error

	calls     atomic.Int32
	cancelled atomic.Bool
	mu        sync.Mutex
	seen  []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Enabled(Settings) bool { return !f.disabled }

func (f *fakeProvider) Search(ctx context.Context, _ Settings, query string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, query)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.cancelled.Store(true)
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

func (f *fakeProvider) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type fakeClock struct {
	out   string
	err   error
	zones []string
	mu    sync.Mutex
}

func (c *fakeClock) Now(_ context.Context, zone string) (string, error) {
	c.mu.Lock()
	c.zones = append(c.zones, zone)
	c.mu.Unlock()
	return c.out, c.err
}
