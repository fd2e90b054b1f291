package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/pagejson-service/internal/cache"
	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/crawler"
	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/internal/monitoring"
	"go.uber.org/zap/zaptest"
)

const aboutMarkup = `<html><head><title>About</title></head><body><h1>Hello</h1><h2>Sub</h2></body></html>`

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	err     error
	calls   int
	origins []crawler.Origin
}

func (f *fakeFetcher) Fetch(_ context.Context, path string, origin crawler.Origin, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.origins = append(f.origins, origin)
	if f.err != nil {
		return "", f.err
	}
	markup, ok := f.pages[path]
	if !ok {
		return "", domain.NewError(domain.KindFetch, "origin responded 404 Not Found", http.StatusNotFound, nil)
	}
	return markup, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu        sync.Mutex
	successes []string
	failures  map[string]domain.ErrorKind
}

func (r *fakeRecorder) RecordSuccess(page *domain.PageData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, page.Path)
}

func (r *fakeRecorder) RecordFailure(path string, err *domain.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]domain.ErrorKind{}
	}
	r.failures[path] = err.Kind
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	p        *Pipeline
	fetcher  *fakeFetcher
	recorder *fakeRecorder
	clock    *clock
	metrics  *monitoring.Metrics
}

func newFixture(t *testing.T, mutate func(*config.Options)) *fixture {
	t.Helper()
	opts := config.DefaultOptions()
	if mutate != nil {
		mutate(opts)
	}
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f := &fakeFetcher{pages: map[string]string{"/about": aboutMarkup, "/": "<title>Home</title>"}}
	rec := &fakeRecorder{}
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	p := New(opts, cache.New(cache.WithClock(clk.Now)), f,
		WithRecorder(rec),
		WithMetrics(m),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clk.Now),
	)
	return &fixture{p: p, fetcher: f, recorder: rec, clock: clk, metrics: m}
}

func get(path string) Request {
	return Request{Method: http.MethodGet, Path: path, Scheme: "http", Host: "origin.test"}
}

func TestHandleEndToEnd(t *testing.T) {
	fx := newFixture(t, nil)

	res := fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, Page, res.Outcome)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, CacheMiss, res.CacheStatus)

	page := res.Page
	assert.Equal(t, "/about", page.Path)
	assert.Equal(t, "About", page.Title)
	assert.Equal(t, "Hello", page.FirstHeading)
	assert.Equal(t, []domain.Heading{{Level: 1, Text: "Hello"}, {Level: 2, Text: "Sub"}}, page.Headings)
	assert.Nil(t, page.MetaDescription)
	assert.Equal(t, len(aboutMarkup), page.ContentLength)
	assert.Equal(t, aboutMarkup, page.RawMarkup)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", page.Timestamp)
	assert.Equal(t, fx.clock.Now().UnixMilli(), page.ExtractedAt)

	assert.Equal(t, []crawler.Origin{{Scheme: "http", Host: "origin.test"}}, fx.fetcher.origins)
	assert.Equal(t, []string{"/about"}, fx.recorder.successes)
}

func TestHandleRootContentPath(t *testing.T) {
	fx := newFixture(t, nil)
	res := fx.p.Handle(context.Background(), get("/api"))
	require.Equal(t, Page, res.Outcome)
	assert.Equal(t, "/", res.Page.Path)
	assert.Equal(t, "Home", res.Page.Title)
}

func TestHandlePassThrough(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Options)
		req    Request
	}{
		{"disabled", func(o *config.Options) { o.Enabled = false }, get("/api/about")},
		{"outside prefix", nil, get("/about")},
		{"excluded", func(o *config.Options) { o.ExcludePaths = []string{"/admin/*"} }, get("/api/admin/users")},
		{"post", nil, Request{Method: http.MethodPost, Path: "/api/about", Host: "origin.test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.mutate)
			res := fx.p.Handle(context.Background(), tt.req)
			assert.Equal(t, PassThrough, res.Outcome)
			assert.Equal(t, 0, fx.fetcher.Calls())
			assert.Equal(t, 0, fx.p.Stats().EntryCount)
		})
	}
}

func TestHandleHeadIsIntercepted(t *testing.T) {
	fx := newFixture(t, nil)
	req := get("/api/about")
	req.Method = http.MethodHead
	assert.Equal(t, Page, fx.p.Handle(context.Background(), req).Outcome)
}

func TestHandleInvalidPathNeverFetches(t *testing.T) {
	fx := newFixture(t, nil)
	for _, path := range []string{"/api/search?q=1", "/api/" + strings.Repeat("a", 2001)} {
		res := fx.p.Handle(context.Background(), get(path))
		require.Equal(t, Failure, res.Outcome)
		assert.Equal(t, http.StatusBadRequest, res.Status)
		assert.Equal(t, domain.KindInvalidConfig, res.Err.Kind)
	}
	assert.Equal(t, 0, fx.fetcher.Calls())
}

func TestHandleCacheHitSkipsFetch(t *testing.T) {
	fx := newFixture(t, nil)

	first := fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, Page, first.Outcome)
	fx.clock.Advance(10 * time.Second)
	second := fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, Page, second.Outcome)

	assert.Equal(t, 1, fx.fetcher.Calls())
	assert.Equal(t, CacheHit, second.CacheStatus)
	assert.Equal(t, CacheHit, second.Header.Get(CacheHeader))
	assert.Equal(t, first.Page.Timestamp, second.Page.Timestamp)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.CacheLookupsTotal.WithLabelValues("miss")))
}

func TestHandleCacheExpiry(t *testing.T) {
	fx := newFixture(t, func(o *config.Options) { o.CacheDurationSeconds = 60 })

	fx.p.Handle(context.Background(), get("/api/about"))
	fx.clock.Advance(60 * time.Second)
	res := fx.p.Handle(context.Background(), get("/api/about"))

	assert.Equal(t, CacheMiss, res.CacheStatus)
	assert.Equal(t, 2, fx.fetcher.Calls())
}

func TestHandleLazyExpiryRefreshesGauges(t *testing.T) {
	fx := newFixture(t, func(o *config.Options) { o.CacheDurationSeconds = 60 })

	fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.CacheEntries))

	fx.clock.Advance(60 * time.Second)
	fx.fetcher.err = errors.New("origin down")
	res := fx.p.Handle(context.Background(), get("/api/about"))

	require.Equal(t, Failure, res.Outcome)
	assert.Equal(t, 0, fx.p.Stats().EntryCount)
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.CacheEntries))
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.CacheSizeBytes))
}

func TestHandleCachingDisabled(t *testing.T) {
	fx := newFixture(t, func(o *config.Options) { o.EnableCache = false })

	fx.p.Handle(context.Background(), get("/api/about"))
	res := fx.p.Handle(context.Background(), get("/api/about"))

	assert.Equal(t, CacheBypass, res.CacheStatus)
	assert.Equal(t, 2, fx.fetcher.Calls())
	assert.Equal(t, 0, fx.p.Stats().EntryCount)
}

func TestHandleSkipsOversizedPages(t *testing.T) {
	fx := newFixture(t, func(o *config.Options) { o.MaxCacheSizeBytes = 100 })

	res := fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, Page, res.Outcome)
	assert.Equal(t, 0, fx.p.Stats().EntryCount)
}

func TestHandleReceiverOverlayOnHit(t *testing.T) {
	fx := newFixture(t, nil)
	a, b := "A", "B"

	fx.p.opts.ReceiverIdentifier = &a
	first := fx.p.Handle(context.Background(), get("/api/about"))
	require.NotNil(t, first.Page.ReceiverIdentifier)
	assert.Equal(t, "A", *first.Page.ReceiverIdentifier)

	// Same cache, a configuration carrying a different receiver.
	other := *fx.p
	otherOpts := *fx.p.opts
	otherOpts.ReceiverIdentifier = &b
	other.opts = &otherOpts

	second := other.Handle(context.Background(), get("/api/about"))
	require.Equal(t, CacheHit, second.CacheStatus)
	require.NotNil(t, second.Page.ReceiverIdentifier)
	assert.Equal(t, "B", *second.Page.ReceiverIdentifier)

	otherOpts.ReceiverIdentifier = nil
	third := other.Handle(context.Background(), get("/api/about"))
	assert.Nil(t, third.Page.ReceiverIdentifier)
}

func TestHandleFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   domain.ErrorKind
	}{
		{"timeout", domain.NewError(domain.KindTimeout, "timed out", http.StatusRequestTimeout, nil), http.StatusRequestTimeout, domain.KindTimeout},
		{"origin status", domain.NewError(domain.KindFetch, "origin responded 503", http.StatusServiceUnavailable, nil), http.StatusServiceUnavailable, domain.KindFetch},
		{"transport", domain.NewError(domain.KindFetch, "connection refused", 0, errors.New("dial")), http.StatusInternalServerError, domain.KindFetch},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, domain.KindFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, nil)
			fx.fetcher.err = tt.err

			res := fx.p.Handle(context.Background(), get("/api/about"))
			require.Equal(t, Failure, res.Outcome)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.kind, res.Err.Kind)
			assert.Equal(t, "application/json; charset=utf-8", res.Header.Get("Content-Type"))

			body, ok := res.Body.(domain.ErrorBody)
			require.True(t, ok)
			assert.Equal(t, tt.kind, body.Error.Type)
			assert.Equal(t, "2024-05-01T12:00:00.000Z", body.Error.Timestamp)

			assert.Equal(t, 0, fx.p.Stats().EntryCount)
			assert.Equal(t, tt.kind, fx.recorder.failures["/about"])
		})
	}
}

func TestHandleParseError(t *testing.T) {
	fx := newFixture(t, nil)
	fx.p.extract = func(string) (*domain.Extraction, error) {
		return nil, domain.NewError(domain.KindParse, "failed to parse markup", 0, errors.New("bad"))
	}

	res := fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, Failure, res.Outcome)
	assert.Equal(t, domain.KindParse, res.Err.Kind)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
}

func TestHandleHeaders(t *testing.T) {
	fx := newFixture(t, func(o *config.Options) {
		o.AdditionalHeaders = map[string]string{
			"x-powered-by":                  "pagejson",
			"Cache-Control":                 "public, max-age=60",
			"Access-Control-Expose-Headers": "X-Powered-By",
		}
	})

	res := fx.p.Handle(context.Background(), get("/api/about"))
	require.Equal(t, Page, res.Outcome)
	assert.Equal(t, "application/json; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Equal(t, "pagejson", res.Header.Get("X-Powered-By"))
	assert.Equal(t, "public, max-age=60", res.Header.Get("Cache-Control"))
	assert.Equal(t, "X-Powered-By, X-Pagejson-Cache", res.Header.Get("Access-Control-Expose-Headers"))

	fx.fetcher.err = errors.New("down")
	fail := fx.p.Handle(context.Background(), get("/api/other"))
	assert.Empty(t, fail.Header.Get("X-Powered-By"))
}

func TestSweepExpired(t *testing.T) {
	fx := newFixture(t, func(o *config.Options) { o.CacheDurationSeconds = 60 })

	fx.p.Handle(context.Background(), get("/api/about"))
	fx.p.Handle(context.Background(), get("/api/"))
	assert.Equal(t, 2, fx.p.Stats().EntryCount)

	assert.Equal(t, 0, fx.p.SweepExpired())
	fx.clock.Advance(61 * time.Second)
	assert.Equal(t, 2, fx.p.SweepExpired())
	assert.Equal(t, 0, fx.p.Stats().EntryCount)
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.CacheEntries))
}

func TestRunMaintenanceStopsOnCancel(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.p.RunMaintenance(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}

func TestConcurrentHandle(t *testing.T) {
	fx := newFixture(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := fx.p.Handle(context.Background(), get("/api/about"))
			assert.Equal(t, Page, res.Outcome)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fx.p.Stats().EntryCount)
}

func TestExtractBypassesCache(t *testing.T) {
	fx := newFixture(t, nil)

	page, err := fx.p.Extract(context.Background(), crawler.Origin{Scheme: "https", Host: "site.test"}, "/about")
	require.NoError(t, err)
	assert.Equal(t, "About", page.Title)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", page.Timestamp)
	assert.Equal(t, 0, fx.p.Stats().EntryCount)
	assert.Equal(t, []crawler.Origin{{Scheme: "https", Host: "site.test"}}, fx.fetcher.origins)

	_, err = fx.p.Extract(context.Background(), crawler.Origin{Host: "site.test"}, "/a|b")
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindInvalidConfig, de.Kind)
	assert.Equal(t, 1, fx.fetcher.Calls())
}
