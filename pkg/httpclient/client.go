// Copyright 2026 The Praetor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides an HTTP client with status-aware retries.
//
// Retry policy: transient statuses (429, 5xx) are retried with exponential
// backoff and jitter; 4xx responses are returned immediately. Servers that
// advertise Retry-After are honored.
package httpclient

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    500 * time.Millisecond,
		headerParser: ParseRateLimitHeaders,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do performs the request, retrying transient failures until the request
// context is done or the retry budget is spent. The returned response (if
// non-nil) is the last response received; callers own its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &RetryableError{
					Message: "failed to recreate request body for retry",
					Err:     err,
				}
			}
			req.Body = body
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req)

		if strategy == NoRetry || err == nil {
			return resp, err
		}

		delay := c.calculateDelay(strategy, attempt, retryInfo)

		if attempt >= c.maxRetries {
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			return resp, &RetryableError{
				StatusCode: statusCode,
				Message:    "max retries exceeded",
				RetryAfter: delay,
				Err:        err,
			}
		}

		if resp != nil {
			slog.Debug("Retrying HTTP request",
				"status", resp.StatusCode, "attempt", attempt+1,
				"max", c.maxRetries, "delay", delay)
			_ = resp.Body.Close()
		}

		if err := WaitContext(req.Context(), delay); err != nil {
			return nil, err
		}
	}

	return nil, &RetryableError{
		Message: "max retries exceeded",
	}
}

func (c *Client) attemptRequest(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// Transport-level failures (connection refused, reset) retry
		// conservatively; context errors do not.
		if req.Context().Err() != nil {
			return nil, NoRetry, RateLimitInfo{}, err
		}
		return nil, ConservativeRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	return resp, c.strategyFunc(resp.StatusCode), retryInfo, &StatusError{StatusCode: resp.StatusCode}
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, retryInfo RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if retryInfo.RetryAfter > 0 {
			return retryInfo.RetryAfter
		}
		if retryInfo.ResetTime > 0 {
			if delay := time.Until(time.Unix(retryInfo.ResetTime, 0)); delay > 0 {
				return delay
			}
		}
		return c.backoff(attempt)
	case ConservativeRetry:
		return c.backoff(attempt)
	default:
		return 0
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	jitter := time.Duration(rand.Int63n(int64(c.baseDelay)/2 + 1))
	return exponential + jitter
}

// WaitContext sleeps for d or until ctx is done, whichever comes first.
func WaitContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
