// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package download fetches manifests and media segments over HTTP with
// retry and backoff. It never interprets payload bytes.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const (
	maxAttempts    = 4
	baseRetryDelay = 250 * time.Millisecond
	maxRedirects   = 5
)

// ErrNotFound signals a 404 response. For live streams this usually means
// the segment is announced but not yet available at the origin.
var ErrNotFound = errors.New("not found (404)")

// StatusError is a non-retryable, non-404 HTTP error response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Client downloads URLs with per-host connection reuse and
// exponential-backoff retries on transient failures.
type Client struct {
	hc         *http.Client
	headers    map[string]string
	retryDelay time.Duration
}

// New returns a Client with the given request timeout and extra request
// headers (e.g. Authorization, User-Agent). headers may be nil.
func New(timeout time.Duration, headers map[string]string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &Client{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		headers:    headers,
		retryDelay: baseRetryDelay,
	}
}

// Fetch downloads url and returns the full response body.
//
// Transient failures (network errors, 5xx) are retried with exponential
// backoff and jitter. 404 returns ErrNotFound without retrying. Other 4xx
// return a *StatusError without retrying.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	delay := c.retryDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter(delay)):
			}
			delay *= 2
			slog.Debug("retrying download", "url", url, "attempt", attempt)
		}
		data, retryable, err := c.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("GET %s: %d attempts failed: %w", url, maxAttempts, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("GET %s: %w", url, ErrNotFound)
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, &StatusError{URL: url, Code: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, false, &StatusError{URL: url, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("GET %s: read body: %w", url, err)
	}
	return body, false, nil
}

// jitter spreads d by +-20% so concurrent sessions do not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}
