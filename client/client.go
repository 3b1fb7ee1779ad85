// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client drives a running mock server through its control surface.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"httpmock/expectation"
	"httpmock/request"
	"httpmock/requestlog"
)

// StatusError is an unexpected answer of the control surface
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpmock: %s: status %d: %s", e.Op, e.Code, e.Body)
}

// Client talks to one mock server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server root URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping probes the readiness endpoint
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodHead, "/_me", nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.statusError("ping", resp)
	}
	return nil
}

// AddExpectation registers e; it is evaluated before every existing one
func (c *Client) AddExpectation(ctx context.Context, e expectation.Expectation) error {
	form := url.Values{}

	response, err := json.Marshal(e.Response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	form.Set("response", string(response))

	if len(e.Matcher) > 0 {
		matcher, err := json.Marshal(e.Matcher)
		if err != nil {
			return fmt.Errorf("failed to encode matcher: %w", err)
		}
		form.Set("matcher", string(matcher))
	}

	if e.Limiter != nil {
		limiter, err := json.Marshal(e.Limiter)
		if err != nil {
			return fmt.Errorf("failed to encode limiter: %w", err)
		}
		form.Set("limiter", string(limiter))
	}

	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	resp, err := c.do(ctx, http.MethodPost, "/_expectation", strings.NewReader(form.Encode()), header)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return c.statusError("add expectation", resp)
	}
	return nil
}

// Setup clears everything and registers expectations in order, the last
// one ending up evaluated first
func (c *Client) Setup(ctx context.Context, expectations ...expectation.Expectation) error {
	if err := c.ClearAll(ctx); err != nil {
		return err
	}

	for _, e := range expectations {
		if err := c.AddExpectation(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Expectations lists the registered expectations, newest first
func (c *Client) Expectations(ctx context.Context) ([]expectation.Expectation, error) {
	resp, err := c.do(ctx, http.MethodGet, "/_expectation", nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("list expectations", resp)
	}

	var expectations []expectation.Expectation
	if err := json.NewDecoder(resp.Body).Decode(&expectations); err != nil {
		return nil, fmt.Errorf("failed to decode expectations: %w", err)
	}
	return expectations, nil
}

// ClearExpectations removes every expectation
func (c *Client) ClearExpectations(ctx context.Context) error {
	return c.expectOK(ctx, "clear expectations", http.MethodDelete, "/_expectation")
}

// ClearRequests empties the request log
func (c *Client) ClearRequests(ctx context.Context) error {
	return c.expectOK(ctx, "clear requests", http.MethodDelete, "/_request")
}

// ClearAll removes expectations and recorded requests
func (c *Client) ClearAll(ctx context.Context) error {
	return c.expectOK(ctx, "clear all", http.MethodDelete, "/_all")
}

// RequestCount returns the number of recorded requests
func (c *Client) RequestCount(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/_request/count", nil, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, c.statusError("count requests", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", body, err)
	}
	return count, nil
}

// Request returns the recorded request addressed by sel. A missing record
// is reported as requestlog.ErrNotFound.
func (c *Client) Request(ctx context.Context, sel requestlog.Selector) (*request.Request, error) {
	return c.record(ctx, "get request", http.MethodGet, sel)
}

// PopRequest removes and returns the first or last recorded request
func (c *Client) PopRequest(ctx context.Context, sel requestlog.Selector) (*request.Request, error) {
	return c.record(ctx, "pop request", http.MethodDelete, sel)
}

func (c *Client) record(ctx context.Context, op, method string, sel requestlog.Selector) (*request.Request, error) {
	header := http.Header{"Accept": {"application/json"}}

	resp, err := c.do(ctx, method, "/_request/"+sel.String(), nil, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", requestlog.ErrNotFound, body)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(op, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request record: %w", err)
	}
	return request.Unmarshal(data)
}

func (c *Client) expectOK(ctx context.Context, op, method, path string) error {
	resp, err := c.do(ctx, method, path, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(op, resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &StatusError{Op: op, Code: resp.StatusCode, Body: string(body)}
}
