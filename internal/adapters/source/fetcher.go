package source

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ugorji/go/codec"
)

const maxBodyBytes = 4 << 20

// Request describes one call to an upstream data API.
type Request struct {
	Endpoint string
	Method   string
	Headers  map[string]string
	Params   map[string]string
	Timeout  time.Duration
}

// Fetcher retrieves and decodes a response document.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (any, error)
}

// HTTPFetcher performs requests with net/http and decodes JSON bodies.
type HTTPFetcher struct {
	client *http.Client
	handle *codec.JsonHandle
}

// NewHTTPFetcher returns a fetcher using client, or a default client when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, handle: &codec.JsonHandle{}}
}

// Fetch issues req and decodes the JSON body. Any status other than 200 is an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (any, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if len(req.Params) > 0 {
		q := target.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var doc any
	if err := codec.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes), f.handle).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return doc, nil
}

// ExtractPath walks a decoded document along a dot separated path. Numeric
// segments index arrays. The leaf must be a number or a numeric string.
func ExtractPath(data any, path string) (float64, error) {
	cur := data
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			next, err := step(cur, seg)
			if err != nil {
				return 0, fmt.Errorf("%w: %s at %q", err, path, seg)
			}
			cur = next
		}
	}
	return toFloat(cur)
}

func step(cur any, seg string) (any, error) {
	if idx, err := strconv.Atoi(seg); err == nil {
		if arr, ok := cur.([]any); ok {
			if idx < 0 || idx >= len(arr) {
				return nil, ErrPathNotFound
			}
			return arr[idx], nil
		}
	}
	switch m := cur.(type) {
	case map[string]any:
		v, ok := m[seg]
		if !ok {
			return nil, ErrPathNotFound
		}
		return v, nil
	case map[any]any:
		v, ok := m[seg]
		if !ok {
			return nil, ErrPathNotFound
		}
		return v, nil
	}
	return nil, ErrPathNotFound
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, f)
	}
	return f, nil
}
