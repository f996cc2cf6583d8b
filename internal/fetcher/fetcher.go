// Package fetcher downloads and unpacks boundary archives.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/resilience"
)

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	// Fetch writes url to path. When path already holds the version the
	// server reports unchanged (ETag), nothing is downloaded and changed is false.
	Fetch(ctx context.Context, url, path string) (changed bool, err error)
}

// Options configures an HTTPFetcher.
type Options struct {
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	Retry         resilience.RetryConfig
}

// HTTPFetcher implements Fetcher with retries and an adaptive rate limit.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *resilience.AdaptiveLimiter
	retry     resilience.RetryConfig
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns an HTTPFetcher with defaults applied.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mgci/1.0"
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("download")
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		limiter:   resilience.NewAdaptiveLimiter(opts.RatePerSecond, 1),
		retry:     opts.Retry,
	}
}

func etagPath(path string) string { return path + ".etag" }

func (f *HTTPFetcher) Fetch(ctx context.Context, url, path string) (bool, error) {
	var etag string
	if _, err := os.Stat(path); err == nil {
		if b, err := os.ReadFile(etagPath(path)); err == nil {
			etag = strings.TrimSpace(string(b))
		}
	}

	changed, err := resilience.Do(ctx, f.retry, func(ctx context.Context) (bool, error) {
		return f.fetchOnce(ctx, url, path, etag)
	})
	if err != nil {
		return false, eris.Wrapf(err, "fetcher: download %s", url)
	}
	zap.L().Debug("fetcher: fetched", zap.String("url", url), zap.Bool("changed", changed))
	return changed, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url, path, etag string) (bool, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return false, eris.Wrap(err, "rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotModified:
		f.limiter.OnSuccess()
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		f.limiter.OnThrottle()
		return false, resilience.NewTransientError(eris.Errorf("http %d", resp.StatusCode), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return false, resilience.NewTransientError(eris.Errorf("http %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, eris.Errorf("unexpected status %d", resp.StatusCode)
	}
	f.limiter.OnSuccess()

	if err := writeAtomic(path, resp.Body); err != nil {
		return false, err
	}
	if tag := resp.Header.Get("ETag"); tag != "" {
		if err := os.WriteFile(etagPath(path), []byte(tag), 0o644); err != nil {
			return true, eris.Wrap(err, "write etag")
		}
	} else if err := os.Remove(etagPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, eris.Wrap(err, "remove stale etag")
	}
	return true, nil
}

// writeAtomic streams r into a temp file next to path and renames it.
func writeAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "create directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close() //nolint:errcheck
		return resilience.NewTransientError(eris.Wrap(err, "write body"), 0)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	return eris.Wrap(os.Rename(tmp.Name(), path), "rename download")
}
