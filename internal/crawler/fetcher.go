// Package crawler retrieves page markup from the origin and extracts
// structured data from it.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/pkg/utils"
	"go.uber.org/zap"
)

const (
	UserAgent    = "pagejson/1.0 (+metadata-api)"
	acceptHeader = "text/html,application/xhtml+xml"

	// DefaultMaxBodyBytes caps how much markup is read from the origin.
	DefaultMaxBodyBytes int64 = 10 << 20
)

// Origin is the scheme and host pages are fetched from.
type Origin struct {
	Scheme string
	Host   string
}

// HTTPFetcher fetches page markup with a hard per-call timeout.
type HTTPFetcher struct {
	client       *http.Client
	logger       *zap.Logger
	maxBodyBytes int64
}

type FetcherOption func(*HTTPFetcher)

// WithMaxBodyBytes limits the origin response size. Non-positive values keep
// the default.
func WithMaxBodyBytes(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

func NewHTTPFetcher(client *http.Client, logger *zap.Logger, opts ...FetcherOption) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &HTTPFetcher{client: client, logger: logger, maxBodyBytes: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch retrieves the markup of contentPath from origin. When timeout elapses
// the in-flight request is cancelled and a TIMEOUT_ERROR is returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, contentPath string, origin Origin, timeout time.Duration) (string, error) {
	if origin.Host == "" {
		return "", domain.NewError(domain.KindFetch, "no host available to fetch from", http.StatusBadRequest, nil)
	}
	target := utils.OriginURL(origin.Scheme, origin.Host, contentPath)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", domain.NewError(domain.KindFetch, fmt.Sprintf("creating request for %s", target), http.StatusBadRequest, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", f.classify(ctx, target, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", domain.NewError(domain.KindFetch,
			fmt.Sprintf("origin responded %d %s for %s", resp.StatusCode, http.StatusText(resp.StatusCode), contentPath),
			resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return "", f.classify(ctx, target, timeout, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		f.logger.Warn("origin response too large", zap.String("url", target), zap.Int64("max_bytes", f.maxBodyBytes))
		return "", domain.NewError(domain.KindFetch,
			fmt.Sprintf("origin response for %s exceeds %d bytes", contentPath, f.maxBodyBytes),
			http.StatusBadGateway, nil)
	}

	f.logger.Debug("fetched page", zap.String("url", target), zap.Int("bytes", len(body)))
	return string(body), nil
}

func (f *HTTPFetcher) classify(ctx context.Context, target string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		f.logger.Warn("origin fetch timed out", zap.String("url", target), zap.Duration("timeout", timeout))
		return domain.NewError(domain.KindTimeout,
			fmt.Sprintf("request to %s timed out after %s", target, timeout),
			http.StatusRequestTimeout, err)
	}
	return domain.NewError(domain.KindFetch, fmt.Sprintf("fetching %s", target), 0, err)
}
