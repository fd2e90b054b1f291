// Package pipeline turns an intercepted page request into page data:
// classify, cache lookup, fetch and extract on miss, cache store.
package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/user/pagejson-service/internal/cache"
	"github.com/user/pagejson-service/internal/classifier"
	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/crawler"
	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/internal/monitoring"
	"go.uber.org/zap"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	CacheHeader = "X-Pagejson-Cache"

	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Fetcher retrieves raw markup for a content path.
type Fetcher interface {
	Fetch(ctx context.Context, contentPath string, origin crawler.Origin, timeout time.Duration) (string, error)
}

// Recorder receives the outcome of every origin fetch. Implementations must
// not block the caller.
type Recorder interface {
	RecordSuccess(page *domain.PageData)
	RecordFailure(path string, err *domain.Error)
}

type Outcome int

const (
	// PassThrough means the caller forwards the request unchanged.
	PassThrough Outcome = iota
	Page
	Failure
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case Page:
		return "page"
	case Failure:
		return "error"
	}
	return "unknown"
}

// Request describes an inbound request. Scheme and Host name the origin that
// page markup is fetched from.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Scheme string
	Host   string
}

// Result is what the HTTP layer needs to answer a request. For Page and
// Failure, Body is the value to encode as JSON.
type Result struct {
	Outcome     Outcome
	Status      int
	Page        *domain.PageData
	Err         *domain.Error
	Body        any
	Header      http.Header
	CacheStatus string
}

type Pipeline struct {
	opts     *config.Options
	cache    *cache.Cache
	fetcher  Fetcher
	extract  func(string) (*domain.Extraction, error)
	recorder Recorder
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

func WithMetrics(m *monitoring.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New wires a pipeline. opts must come from config.ValidateOptions.
func New(opts *config.Options, c *cache.Cache, f Fetcher, options ...Option) *Pipeline {
	p := &Pipeline{
		opts:    opts,
		cache:   c,
		fetcher: f,
		extract: crawler.ExtractPageData,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range options {
		o(p)
	}
	if p.cache == nil {
		p.cache = cache.New()
	}
	return p
}

func (p *Pipeline) Options() *config.Options { return p.opts }

// Handle runs the request through the pipeline. It never panics on domain
// failures; every error is turned into a Failure result.
func (p *Pipeline) Handle(ctx context.Context, req Request) Result {
	if !p.opts.Enabled || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return p.passThrough()
	}

	class, err := classifier.Classify(req.Path, p.opts)
	if err != nil {
		return p.failure(req.Path, err)
	}
	if class.Kind != classifier.Content {
		return p.passThrough()
	}

	page, cacheStatus, err := p.load(ctx, req, class.ContentPath)
	if err != nil {
		return p.failure(class.ContentPath, err)
	}

	p.metrics.IncRequest(Page.String())
	return Result{
		Outcome:     Page,
		Status:      http.StatusOK,
		Page:        page,
		Body:        page,
		Header:      p.pageHeaders(cacheStatus),
		CacheStatus: cacheStatus,
	}
}

func (p *Pipeline) load(ctx context.Context, req Request, path string) (*domain.PageData, string, error) {
	if p.opts.EnableCache {
		cached, ok := p.cache.Get(path, p.opts.CacheTTL())
		p.metrics.IncCacheLookup(ok)
		if !ok {
			// A miss may have dropped an expired entry.
			p.updateCacheGauges()
		}
		if ok {
			// Entries are shared between requests; the receiver always comes
			// from the current configuration.
			cached.ReceiverIdentifier = cloneString(p.opts.ReceiverIdentifier)
			return cached, CacheHit, nil
		}
	}

	page, err := p.fetchAndExtract(ctx, crawler.Origin{Scheme: req.Scheme, Host: req.Host}, path)
	if err != nil {
		if p.recorder != nil {
			p.recorder.RecordFailure(path, domain.AsError(err))
		}
		return nil, "", err
	}
	if p.recorder != nil {
		p.recorder.RecordSuccess(page.Clone())
	}

	if !p.opts.EnableCache {
		return page, CacheBypass, nil
	}
	if err := p.store(path, page); err != nil {
		return nil, "", err
	}
	return page, CacheMiss, nil
}

// Extract fetches and extracts a single page without touching the cache.
func (p *Pipeline) Extract(ctx context.Context, origin crawler.Origin, path string) (*domain.PageData, error) {
	if err := classifier.ValidateContentPath(path); err != nil {
		return nil, err
	}
	return p.fetchAndExtract(ctx, origin, path)
}

func (p *Pipeline) fetchAndExtract(ctx context.Context, origin crawler.Origin, path string) (*domain.PageData, error) {
	start := p.now()
	markup, err := p.fetcher.Fetch(ctx, path, origin, p.opts.RequestTimeout())
	p.metrics.ObserveFetch(p.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}

	ext, err := p.extract(markup)
	if err != nil {
		return nil, err
	}

	now := p.now()
	return &domain.PageData{
		Path:               path,
		Timestamp:          now.UTC().Format(TimestampLayout),
		ExtractedAt:        now.UnixMilli(),
		Title:              ext.Title,
		FirstHeading:       ext.FirstHeading,
		Headings:           ext.Headings,
		MetaDescription:    ext.MetaDescription,
		RawMarkup:          markup,
		ContentLength:      len(markup),
		StatusCode:         http.StatusOK,
		ReceiverIdentifier: cloneString(p.opts.ReceiverIdentifier),
	}, nil
}

// store caches page unless it alone exceeds the configured limit.
func (p *Pipeline) store(path string, page *domain.PageData) error {
	size, err := cache.SizeOf(page)
	if err != nil {
		return err
	}
	if size > p.opts.MaxCacheSizeBytes {
		p.logger.Debug("page too large to cache",
			zap.String("path", path),
			zap.Int64("size", size),
			zap.Int64("max", p.opts.MaxCacheSizeBytes))
		return nil
	}
	evicted, err := p.cache.Put(path, page, p.opts.MaxCacheSizeBytes)
	if err != nil {
		return err
	}
	p.metrics.AddEvictions(evicted)
	p.updateCacheGauges()
	return nil
}

func (p *Pipeline) passThrough() Result {
	p.metrics.IncRequest(PassThrough.String())
	return Result{Outcome: PassThrough}
}

func (p *Pipeline) failure(path string, err error) Result {
	de := domain.AsError(err)
	status := de.HTTPStatus()

	p.metrics.IncRequest(Failure.String())
	p.metrics.IncError(string(de.Kind))
	if status >= http.StatusInternalServerError {
		p.logger.Error("page request failed", zap.String("path", path), zap.Int("status", status), zap.Error(de))
	} else {
		p.logger.Info("page request rejected", zap.String("path", path), zap.Int("status", status), zap.Error(de))
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	return Result{
		Outcome: Failure,
		Status:  status,
		Err:     de,
		Body:    NewErrorBody(de, p.now()),
		Header:  h,
	}
}

// NewErrorBody builds the JSON error envelope for err.
func NewErrorBody(err *domain.Error, at time.Time) domain.ErrorBody {
	return domain.ErrorBody{Error: domain.ErrorDetail{
		Message:   err.Message,
		Type:      err.Kind,
		Timestamp: at.UTC().Format(TimestampLayout),
	}}
}

func (p *Pipeline) pageHeaders(cacheStatus string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set(CacheHeader, cacheStatus)
	for k, v := range p.opts.AdditionalHeaders {
		h.Set(k, v)
	}
	ensureExposedHeader(h, CacheHeader)
	return h
}

// ensureExposedHeader makes name readable from browser JS in CORS contexts.
func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
