// Package httpclient issues authenticated calls to the marketplace REST API
// and returns the backend envelope untouched. It owns no cache state.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/admindata/internal/credentials"
	"github.com/l0p7/admindata/internal/metrics"
)

const maxResponseBytes = 8 << 20

// Doer is the minimal transport contract; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Envelope is the uniform backend response wrapper. Raw holds the exact
// response bytes so callers can relay them unchanged.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Raw     json.RawMessage `json:"-"`
}

// Request is one fully resolved backend call.
type Request struct {
	// Endpoint names the declaring endpoint; used for logs and metrics only.
	Endpoint string
	Method   string
	// Path is appended to the base URL and must already be escaped.
	Path   string
	Query  url.Values
	Header http.Header
	Body   Body
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Doer        Doer
	Credentials credentials.Provider
	// Timeout bounds each Execute call. Zero leaves calls unbounded.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Client executes backend requests.
type Client struct {
	baseURL string
	doer    Doer
	creds   credentials.Provider
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("httpclient: base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("httpclient: base url %q must be absolute", opts.BaseURL)
	}
	doer := opts.Doer
	if doer == nil {
		doer = &http.Client{}
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credentials.None()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		doer:    doer,
		creds:   creds,
		timeout: opts.Timeout,
		logger:  logger.With(slog.String("agent", "http_client")),
		metrics: opts.Metrics,
	}, nil
}

// Execute performs req once. A 2xx response is decoded into an Envelope; any
// other status yields *HTTPError and a missing response yields *NetworkError.
func (c *Client) Execute(ctx context.Context, req Request) (Envelope, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return Envelope{}, err
	}

	start := time.Now()
	resp, err := c.doer.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.Endpoint, httpReq.Method, 0, metrics.RequestNetworkError, time.Since(start))
		c.logger.Warn("backend unreachable",
			slog.String("endpoint", req.Endpoint),
			slog.String("method", httpReq.Method),
			slog.String("path", req.Path),
			slog.Any("error", err))
		return Envelope{}, &NetworkError{Err: err}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	closeErr := resp.Body.Close()
	if err == nil {
		err = closeErr
	}
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(req.Endpoint, httpReq.Method, resp.StatusCode, metrics.RequestNetworkError, elapsed)
		return Envelope{}, &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}
	if len(payload) > maxResponseBytes {
		c.metrics.ObserveRequest(req.Endpoint, httpReq.Method, resp.StatusCode, metrics.RequestDecodeError, elapsed)
		c.logger.Warn("backend response too large",
			slog.String("endpoint", req.Endpoint),
			slog.String("method", httpReq.Method),
			slog.Int("limit", maxResponseBytes))
		return Envelope{}, fmt.Errorf("%w: %s %s: over %d bytes", ErrResponseTooLarge, httpReq.Method, req.Path, maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveRequest(req.Endpoint, httpReq.Method, resp.StatusCode, metrics.RequestHTTPError, elapsed)
		httpErr := newHTTPError(resp.StatusCode, payload)
		c.logger.Info("backend rejected request",
			slog.String("endpoint", req.Endpoint),
			slog.String("method", httpReq.Method),
			slog.Int("status", resp.StatusCode),
			slog.String("message", httpErr.Message))
		return Envelope{}, httpErr
	}

	env, err := DecodeEnvelope(payload)
	if err != nil {
		c.metrics.ObserveRequest(req.Endpoint, httpReq.Method, resp.StatusCode, metrics.RequestDecodeError, elapsed)
		return Envelope{}, fmt.Errorf("%w: %s %s: %v", ErrMalformedEnvelope, httpReq.Method, req.Path, err)
	}
	c.metrics.ObserveRequest(req.Endpoint, httpReq.Method, resp.StatusCode, metrics.RequestOK, elapsed)
	c.logger.Debug("backend call complete",
		slog.String("endpoint", req.Endpoint),
		slog.String("method", httpReq.Method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", elapsed))
	return env, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	if !strings.HasPrefix(req.Path, "/") {
		return nil, fmt.Errorf("httpclient: path %q must start with /", req.Path)
	}
	target, err := url.Parse(c.baseURL + req.Path)
	if err != nil {
		return nil, fmt.Errorf("httpclient: request url: %w", err)
	}
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	var contentType string
	if req.Body != nil {
		body, contentType, err = req.Body.encode()
		if err != nil {
			return nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: request build: %w", err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	token, err := c.creds.Token(ctx)
	if err != nil {
		c.logger.Warn("credential lookup failed, sending unauthenticated", slog.String("endpoint", req.Endpoint), slog.Any("error", err))
		token = ""
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

// DecodeEnvelope parses payload as a backend envelope. An empty payload is a
// bare success; Raw keeps a copy of payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Envelope{Success: true}, nil
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, err
	}
	if env.Data == nil && !bytes.HasPrefix(trimmed, []byte("{")) {
		return Envelope{}, errors.New("body is not a json object")
	}
	env.Raw = append(json.RawMessage(nil), payload...)
	return env, nil
}
