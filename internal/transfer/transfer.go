package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultUserAgent = "resumable-downloader/1.0"

// RangeClient is the narrow HTTP surface the downloader depends on.
type RangeClient interface {
	// Probe reports whether the server answers a ranged request with partial content.
	Probe(ctx context.Context, url string) (bool, error)
	// Fetch requests the resource starting at offset. An offset of zero requests the full body.
	Fetch(ctx context.Context, url string, offset int64) (*Response, error)
}

// Response is an open response body positioned at Offset.
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	// Partial is true when the server honoured the requested range.
	Partial bool
	// Offset is the position of the first body byte within the resource.
	Offset int64
	// TotalBytes is the full resource size, -1 when the server did not say.
	TotalBytes int64
}

// Options configures the HTTP client.
type Options struct {
	// ResponseHeaderTimeout bounds the wait for response headers. Bodies are
	// streamed without a deadline. Zero disables it.
	ResponseHeaderTimeout time.Duration
	MaxIdleConnsPerHost   int
	UserAgent             string
}

// Client implements RangeClient on top of net/http.
type Client struct {
	client    *http.Client
	userAgent string
}

var _ RangeClient = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 16
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		// Offsets are counted on the raw bytes the server sends.
		DisableCompression: true,
	}

	return &Client{
		client:    &http.Client{Transport: otelhttp.NewTransport(transport)},
		userAgent: opts.UserAgent,
	}
}

// Probe asks for the first byte onwards and closes the body without reading it.
func (c *Client) Probe(ctx context.Context, url string) (bool, error) {
	req, err := c.newRequest(ctx, url, 0, true)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, &NetworkError{Operation: "probe", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusPartialContent, nil
}

// Fetch issues the transfer request. A 416 answer is returned as a Response
// with an empty body so the caller can compare its local length with the
// total reported by the server.
func (c *Client) Fetch(ctx context.Context, url string, offset int64) (*Response, error) {
	req, err := c.newRequest(ctx, url, offset, offset > 0)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "fetch", Message: err.Error(), Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Response{
			Body:       resp.Body,
			StatusCode: resp.StatusCode,
			TotalBytes: contentLength(resp),
		}, nil
	case http.StatusPartialContent:
		return partialResponse(resp, offset)
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()

		total := int64(-1)
		if _, _, t, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil {
			total = t
		}

		return &Response{Body: http.NoBody, StatusCode: resp.StatusCode, Offset: offset, TotalBytes: total}, nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		return nil, &NetworkError{Operation: "fetch", StatusCode: resp.StatusCode, Message: resp.Status}
	}
}

func (c *Client) newRequest(ctx context.Context, url string, offset int64, ranged bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	if ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	return req, nil
}

func partialResponse(resp *http.Response, offset int64) (*Response, error) {
	out := &Response{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
		Partial:    true,
		Offset:     offset,
		TotalBytes: -1,
	}

	header := resp.Header.Get("Content-Range")
	if header == "" {
		if n := contentLength(resp); n >= 0 {
			out.TotalBytes = offset + n
		}

		return out, nil
	}

	start, _, total, err := ParseContentRange(header)
	if err != nil {
		resp.Body.Close()

		return nil, &NetworkError{Operation: "fetch", StatusCode: resp.StatusCode, Message: "malformed Content-Range", Err: err}
	}

	if start != offset {
		resp.Body.Close()

		return nil, &NetworkError{
			Operation:  "fetch",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("range starts at %d, requested %d", start, offset),
		}
	}

	out.TotalBytes = total

	return out, nil
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength < 0 {
		return -1
	}

	return resp.ContentLength
}

// ParseContentRange parses a Content-Range header value. It accepts
// "bytes start-end/total", "bytes start-end/*" and "bytes */total".
// Unknown parts are returned as -1.
func ParseContentRange(header string) (start, end, total int64, err error) {
	value, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	rng, size, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	if rng == "*" {
		return -1, -1, total, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	return start, end, total, nil
}
