package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Observer receives the outcome of every call (used for metrics)
type Observer func(method string, status int, kind Kind, elapsed time.Duration)

// Option configures a Client
type Option func(*Client)

// WithObserver registers a call observer
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithHTTPClient replaces the underlying *http.Client (tests, custom transports)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = resty.NewWithClient(hc).
			SetBaseURL(c.baseURL).
			SetTimeout(hc.Timeout)
	}
}

// Client request/response gateway to the sensor backend.
// Every call makes exactly one attempt; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *resty.Client
	observer   Observer
	logger     *zap.Logger
}

// NewClient creates a gateway client for baseURL (e.g. "http://localhost:3002/api")
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	// no automatic retries, mutating calls must never be replayed
	c.httpClient.
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return c
}

// BaseURL returns the fixed base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call performs method on base+path. body is JSON encoded when non-nil;
// headers are added on top of the JSON content headers.
// Returns the raw JSON response body.
func (c *Client) Call(ctx context.Context, method, path string, body any, headers map[string]string) (json.RawMessage, error) {
	start := time.Now()

	req := c.httpClient.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Debug("Gateway call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		c.observe(method, 0, NetworkFailure, elapsed)
		return nil, &Error{Kind: NetworkFailure, Method: method, Path: path, Message: "request failed", Err: err}
	}

	status := resp.StatusCode()
	raw := resp.Body()

	c.logger.Debug("Gateway call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", status),
		zap.Duration("elapsed", elapsed),
	)

	if !resp.IsSuccess() {
		c.observe(method, status, ProtocolFailure, elapsed)
		return nil, &Error{
			Kind:       ProtocolFailure,
			Method:     method,
			Path:       path,
			StatusCode: status,
			Message:    errorMessage(raw, status),
		}
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		c.observe(method, status, 0, elapsed)
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		c.observe(method, status, NetworkFailure, elapsed)
		return nil, &Error{
			Kind:    NetworkFailure,
			Method:  method,
			Path:    path,
			Message: "invalid JSON response",
			Err:     fmt.Errorf("response body of %d bytes is not JSON", len(raw)),
		}
	}

	c.observe(method, status, 0, elapsed)
	return json.RawMessage(raw), nil
}

func (c *Client) observe(method string, status int, kind Kind, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(method, status, kind, elapsed)
	}
}

// errorBody fields the backend uses to carry an error message
type errorBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
}

// errorMessage surfaces the structured error message, falling back to "HTTP <code>"
func errorMessage(raw []byte, status int) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

// getJSON calls GET and decodes the body into out
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	raw, err := c.Call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	return c.decode(http.MethodGet, path, raw, out)
}

// sendJSON calls a mutating method and decodes the body into out (if non-nil)
func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.Call(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.decode(method, path, raw, out)
}

func (c *Client) decode(method, path string, raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: NetworkFailure, Method: method, Path: path, Message: "unexpected response shape", Err: err}
	}
	return nil
}

// getList decodes a list endpoint that returns either a bare array or {"data": [...]}
func getList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	raw, err := c.Call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return []T{}, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := c.decode(http.MethodGet, path, raw, &envelope); err != nil {
			return nil, err
		}
		raw = envelope.Data
		if len(raw) == 0 || string(raw) == "null" {
			return []T{}, nil
		}
	}

	var items []T
	if err := c.decode(http.MethodGet, path, raw, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// withQuery appends encoded query values to path (keys sorted)
func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
