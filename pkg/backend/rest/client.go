// Package rest implements the backend contracts over the JSON REST API shared
// by the control plane and plugin registries.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

const (
	contentTypeJSON       = "application/json"
	contentTypeCollection = "application/vnd.collection+json"

	// maxPages bounds how many pages of a paginated listing are followed.
	maxPages = 100
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration

	// RateLimit is the maximum number of requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter's bucket size. Defaults to 1.
	Burst int

	// Transport overrides the HTTP transport, e.g. in tests.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// Client sends requests to control planes and registries. A single Client is
// shared by every session it creates and is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c := &Client{
		http:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		logger: opts.Logger.With().Str("component", "rest").Logger(),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// waitForRateLimit blocks until the rate limiter allows a request.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// request describes one HTTP call.
type request struct {
	method      string
	url         string
	token       string
	body        []byte
	contentType string
}

// do sends req and returns the response body of a 2xx response. 4xx responses
// become *backend.BadRequestError, anything else *backend.ResponseError.
// Transport errors are wrapped so that disconnects stay recognizable.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("X-Request-Id", requestID)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Token "+req.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(req, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(req, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug().
		Str("request_id", requestID).
		Str("method", req.method).
		Str("url", req.url).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("HTTP request")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		badRequest := &backend.BadRequestError{
			StatusCode: resp.StatusCode,
			Method:     req.method,
			URL:        req.url,
			Body:       string(data),
		}
		if resp.StatusCode == http.StatusConflict {
			return nil, engine.NewConflictError("conflicting request", badRequest).WithCode(engine.ErrCodeConflict)
		}
		return nil, badRequest
	default:
		return nil, &backend.ResponseError{
			StatusCode: resp.StatusCode,
			Method:     req.method,
			URL:        req.url,
			Body:       string(data),
		}
	}
}

// classify marks dropped connections as transient so that callers retry them.
func classify(req request, err error) error {
	if engine.IsDisconnect(err) {
		return engine.NewTransientError(fmt.Sprintf("%s %s", req.method, req.url), err).
			WithCode(engine.ErrCodeUnavailable)
	}
	return fmt.Errorf("%s %s: %w", req.method, req.url, err)
}

func (c *Client) getJSON(ctx context.Context, url, token string, out any) error {
	data, err := c.do(ctx, request{method: http.MethodGet, url: url, token: token})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", url, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url, token, contentType string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	data, err := c.do(ctx, request{method: http.MethodPost, url: url, token: token, body: body, contentType: contentType})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", url, err)
	}
	return nil
}

// page is one page of a paginated listing.
type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// paginate collects every element of a paginated listing. When first is set,
// it stops after the first element.
func paginate[T any](ctx context.Context, c *Client, url, token string, first bool) ([]T, error) {
	var all []T
	next := url
	for pages := 0; next != ""; pages++ {
		if pages >= maxPages {
			return nil, fmt.Errorf("too many pages listing %s", url)
		}
		var p page[T]
		if err := c.getJSON(ctx, next, token, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Results...)
		if first && len(all) > 0 {
			return all[:1], nil
		}
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return all, nil
}

// template encodes fields as a collection+json write template.
func template(fields ...[2]string) map[string]any {
	data := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		data = append(data, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]any{"template": map[string]any{"data": data}}
}
