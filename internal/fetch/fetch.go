// Package fetch downloads and parses remote feeds.
package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pindash/internal/reader"
)

// DefaultUserAgent looks like a desktop browser; some feed hosts refuse
// obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

const (
	defaultTimeout = 30 * time.Second
	maxBodySize    = 16 << 20
	acceptHeader   = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"
)

// Options configure an HTTPFetcher. Zero values select the defaults.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	HostInterval time.Duration // 0 disables per-host spacing
	Logger       reader.Logger
	Client       *http.Client // overrides Timeout when set
}

// HTTPFetcher implements reader.Fetcher over HTTP.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *HostRateLimiter
	logger    reader.Logger
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = reader.NewNopLogger()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	f := &HTTPFetcher{
		client:    client,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
	if opts.HostInterval > 0 {
		f.limiter = NewHostRateLimiter(opts.HostInterval)
	}
	return f
}

// Fetch downloads url and parses it. Non-2xx responses, transport failures
// and unparseable bodies are all errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*reader.Document, error) {
	body, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	f.logger.Debug("feed parsed", "url", url, "kind", doc.Kind, "entries", len(doc.Entries))
	return doc, nil
}

func (f *HTTPFetcher) download(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.WaitForHost(ctx, url); err != nil {
			return nil, fmt.Errorf("rate limiting %s: %w", url, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	r, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}
	defer r.Close()

	body, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	f.logger.Debug("feed downloaded", "url", url, "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))
	return body, nil
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// decodeBody undoes the Content-Encoding we asked for. Setting
// Accept-Encoding ourselves turns off the transport's own gzip handling.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			return zr, nil
		}
		return flate.NewReader(bytes.NewReader(raw)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

var _ reader.Fetcher = (*HTTPFetcher)(nil)
