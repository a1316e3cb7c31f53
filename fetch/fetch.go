// Package fetch retrieves byte ranges of remote or local files.
//
// Offsets passed to FetchRange are inclusive on both ends, as in an HTTP
// Range header: FetchRange(ctx, url, 0, 131) asks for the first 132 bytes.
// Sources never pad or truncate on purpose; when the underlying resource is
// shorter than the requested range the shorter slice is returned and the
// caller decides whether that is acceptable.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/etnz/debmeta/internal/log"
)

// ErrRangeNotSupported is returned when a server answers a range request with
// the full resource instead of a partial content response.
var ErrRangeNotSupported = errors.New("server does not support range requests")

const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
)

// retryStatuses are the responses worth another attempt. A range GET is
// idempotent so repeating it is always safe.
var retryStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Options configures an HTTP range fetcher.
type Options struct {
	// Timeout bounds a whole FetchRange call, retries included. Zero means no limit.
	Timeout time.Duration

	// Retries is the maximum number of additional attempts after a temporary
	// network error or a retryable status. Zero disables retries.
	Retries int

	// BaseDelay and MaxDelay shape the exponential jittered delay between attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// UserAgent, if set, is sent with every request.
	UserAgent string

	// Client replaces the default client. It is copied, never modified.
	Client *http.Client
}

// HTTP fetches byte ranges over HTTP(S). Each HTTP owns its client and
// transport; request headers are set per call and never shared.
type HTTP struct {
	client    *http.Client
	userAgent string
}

// NewHTTP returns an HTTP fetcher configured by opts. A nil opts gives a
// plain client without timeout or retries.
func NewHTTP(opts *Options) *HTTP {
	if opts == nil {
		opts = &Options{}
	}

	var client http.Client
	if opts.Client != nil {
		client = *opts.Client
	} else {
		client = *cleanhttp.DefaultClient()
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}

	if opts.Retries > 0 {
		baseDelay, maxDelay := opts.BaseDelay, opts.MaxDelay
		if baseDelay <= 0 {
			baseDelay = defaultBaseDelay
		}
		if maxDelay <= 0 {
			maxDelay = defaultMaxDelay
		}
		client.Transport = rehttp.NewTransport(client.Transport,
			rehttp.RetryAll(
				rehttp.RetryMaxRetries(opts.Retries),
				rehttp.RetryHTTPMethods(http.MethodGet),
				rehttp.RetryAny(
					rehttp.RetryTemporaryErr(),
					rehttp.RetryStatuses(retryStatuses...),
				),
			),
			rehttp.ExpJitterDelay(baseDelay, maxDelay))
	}

	return &HTTP{client: &client, userAgent: opts.UserAgent}
}

// FetchRange issues a GET with a Range header for bytes start..end of url.
// Only a 206 Partial Content response is accepted. At most one byte more
// than requested is read, so that callers can detect oversized answers.
func (h *HTTP) FetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	data, _, err := h.FetchRangeSize(ctx, url, start, end)
	return data, err
}

// FetchRangeSize is FetchRange that also returns the size of the whole
// resource taken from the Content-Range header, or -1 when the server does
// not tell.
func (h *HTTP) FetchRangeSize(ctx context.Context, url string, start, end int64) ([]byte, int64, error) {
	if err := checkRange(start, end); err != nil {
		return nil, -1, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("invalid request for %s: %w", url, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	// Transparent decompression would shift every offset.
	req.Header.Set("Accept-Encoding", "identity")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return nil, -1, fmt.Errorf("failed to fetch %s: %w", url, ErrRangeNotSupported)
	default:
		return nil, -1, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	total := int64(-1)
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		first, _, size, err := parseContentRange(cr)
		if err != nil {
			return nil, -1, fmt.Errorf("failed to fetch %s: %w", url, err)
		}
		if first != start {
			return nil, -1, fmt.Errorf("failed to fetch %s: content range %q does not start at byte %d", url, cr, start)
		}
		total = size
	}

	want := end - start + 1
	body, err := io.ReadAll(io.LimitReader(resp.Body, want+1))
	if err != nil {
		return nil, -1, fmt.Errorf("failed to read %s: %w", url, err)
	}
	log.Debugf("fetched bytes %d-%d of %s (%d bytes received, resource size %d)", start, end, url, len(body), total)
	return body, total, nil
}

// parseContentRange parses a "bytes first-last/total" header value. An
// unknown total ("*") is reported as -1.
func parseContentRange(s string) (first, last, total int64, err error) {
	spec, ok := strings.CutPrefix(s, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", s)
	}
	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", s)
	}
	a, b, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content range %q", s)
	}
	if first, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid content range %q: %w", s, err)
	}
	if last, err = strconv.ParseInt(b, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid content range %q: %w", s, err)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid content range %q: %w", s, err)
		}
	}
	return first, last, total, nil
}

// ReaderAt serves ranges from an in-memory or otherwise random access source.
// The url argument is ignored.
type ReaderAt struct {
	R io.ReaderAt
}

// FetchRange reads bytes start..end from r.R. Reading past the end of the
// source is not an error; the returned slice is simply shorter.
func (r ReaderAt) FetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	data, _, err := r.FetchRangeSize(ctx, url, start, end)
	return data, err
}

// FetchRangeSize is FetchRange that also returns the size of r.R when it
// has a Size method, as bytes.Reader does, or -1.
func (r ReaderAt) FetchRangeSize(ctx context.Context, _ string, start, end int64) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, -1, err
	}
	if err := checkRange(start, end); err != nil {
		return nil, -1, err
	}
	buf := make([]byte, end-start+1)
	n, err := r.R.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, -1, err
	}
	total := int64(-1)
	if s, ok := r.R.(interface{ Size() int64 }); ok {
		total = s.Size()
	}
	return buf[:n], total, nil
}

// Local serves ranges from the file whose path is given as url. The file is
// opened and closed on every call.
type Local struct{}

// FetchRange reads bytes start..end of the file at path.
func (l Local) FetchRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	data, _, err := l.FetchRangeSize(ctx, path, start, end)
	return data, err
}

// FetchRangeSize is FetchRange that also returns the size of the file.
func (Local) FetchRangeSize(ctx context.Context, path string, start, end int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, -1, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, -1, err
	}
	data, _, err := ReaderAt{R: f}.FetchRangeSize(ctx, path, start, end)
	if err != nil {
		return nil, -1, err
	}
	return data, fi.Size(), nil
}

// Auto routes http and https URLs to HTTP and anything else to Local.
type Auto struct {
	HTTP *HTTP
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// FetchRange reads bytes start..end of url, over HTTP or from the local file system.
func (a Auto) FetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	data, _, err := a.FetchRangeSize(ctx, url, start, end)
	return data, err
}

// FetchRangeSize is FetchRange that also returns the size of the resource, or -1.
func (a Auto) FetchRangeSize(ctx context.Context, url string, start, end int64) ([]byte, int64, error) {
	if IsURL(url) {
		h := a.HTTP
		if h == nil {
			h = NewHTTP(nil)
		}
		return h.FetchRangeSize(ctx, url, start, end)
	}
	return Local{}.FetchRangeSize(ctx, url, start, end)
}

func checkRange(start, end int64) error {
	if start < 0 || end < start {
		return fmt.Errorf("invalid byte range %d-%d", start, end)
	}
	return nil
}
