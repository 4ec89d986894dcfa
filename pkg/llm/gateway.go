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

// Package llm is the gateway to the external completion endpoint. It
// renders a prompt template, calls the endpoint with retries, and returns
// raw text. It never interprets the text; callers parse.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/httpclient"
	"github.com/praetor-ai/praetor/pkg/observability"
)

// Generator is the single capability the pipeline consumes.
type Generator interface {
	Generate(ctx context.Context, templateName string, bindings map[string]string, opts ...Option) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, templateName string, bindings map[string]string, opts ...Option) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, templateName string, bindings map[string]string, opts ...Option) (string, error) {
	return f(ctx, templateName, bindings, opts...)
}

type generateOptions struct {
	temperature    float64
	temperatureSet bool
	maxOutputBytes int
	deadline       time.Duration
}

type Option func(*generateOptions)

// WithTemperature overrides the configured default temperature.
func WithTemperature(t float64) Option {
	return func(o *generateOptions) {
		o.temperature = t
		o.temperatureSet = true
	}
}

// WithMaxOutputBytes bounds the returned text.
func WithMaxOutputBytes(n int) Option {
	return func(o *generateOptions) {
		o.maxOutputBytes = n
	}
}

// WithDeadline overrides the configured per-call deadline.
func WithDeadline(d time.Duration) Option {
	return func(o *generateOptions) {
		o.deadline = d
	}
}

// Gateway renders templates from the catalog and calls an OpenAI-compatible
// completions endpoint.
type Gateway struct {
	store  *catalog.Store
	client *httpclient.Client
	tracer trace.Tracer

	baseURL string
	model   string
	apiKey  string
	cfg     config.LLMConfig

	// cache serves repeat temperature-0 renders without a network call,
	// keyed by (template, normalized bindings).
	cache *lru.Cache[string, string]
}

// New builds a Gateway. The API key comes from the environment via
// config.RequireLLMAPIKey at startup.
func New(store *catalog.Store, cfg config.LLMConfig, apiKey string) (*Gateway, error) {
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	return &Gateway{
		store:  store,
		tracer: observability.GetTracer("llm"),
		client: httpclient.New(
			httpclient.WithMaxRetries(cfg.RetryAttempts),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryBaseDelayMS)*time.Millisecond),
		),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  apiKey,
		cfg:     cfg,
		cache:   cache,
	}, nil
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate renders templateName with bindings and calls the endpoint.
// Outcomes: text, ErrTimeout, *RemoteRejectedError, ErrQuotaExceeded,
// ErrUnavailable.
func (g *Gateway) Generate(ctx context.Context, templateName string, bindings map[string]string, opts ...Option) (text string, err error) {
	options := generateOptions{
		temperature:    g.cfg.TemperatureDefault,
		maxOutputBytes: g.cfg.MaxOutputBytes,
		deadline:       g.cfg.Deadline(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	start := time.Now()
	cacheHit := false

	ctx, span := g.tracer.Start(ctx, observability.SpanLLMGenerate,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, g.model),
			attribute.String(observability.AttrTemplate, templateName),
		),
	)
	defer func() {
		span.End()
		observability.GetGlobalMetrics().RecordLLMCall(ctx, g.model, templateName, time.Since(start), cacheHit, err)
	}()

	tmpl, err := g.store.Template(templateName)
	if err != nil {
		return "", err
	}
	prompt, err := tmpl.Render(bindings)
	if err != nil {
		return "", err
	}

	// Only deterministic outputs are cacheable.
	var cacheKey string
	if options.temperature == 0 {
		cacheKey = cacheKeyFor(templateName, bindings)
		if cached, ok := g.cache.Get(cacheKey); ok {
			cacheHit = true
			return cached, nil
		}
	}

	text, err = g.call(ctx, prompt, options)
	if err != nil {
		slog.Debug("LLM call failed", "template", templateName, "error", err)
		return "", err
	}

	if len(text) > options.maxOutputBytes {
		text = text[:options.maxOutputBytes]
	}

	if cacheKey != "" {
		g.cache.Add(cacheKey, text)
	}
	return text, nil
}

func (g *Gateway) call(ctx context.Context, prompt string, options generateOptions) (string, error) {
	if options.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.deadline)
		defer cancel()
	}

	body, err := json.Marshal(completionRequest{
		Model:       g.model,
		Prompt:      prompt,
		Temperature: options.temperature,
		MaxTokens:   options.maxOutputBytes / 4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", g.classify(ctx, resp, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", g.classify(ctx, nil, err)
	}

	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: malformed completion response: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		reason := "empty completion"
		if parsed.Error != nil {
			reason = parsed.Error.Message
		}
		return "", &RemoteRejectedError{StatusCode: resp.StatusCode, Reason: reason}
	}
	return parsed.Choices[0].Text, nil
}

// classify maps transport errors to the gateway's four outcomes. The
// response, when present, is a non-retryable status; its body carries the
// rejection reason.
func (g *Gateway) classify(ctx context.Context, resp *http.Response, err error) error {
	if resp != nil {
		defer resp.Body.Close()
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		if retryable.StatusCode == http.StatusTooManyRequests {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var status *httpclient.StatusError
	if errors.As(err, &status) && status.StatusCode >= 400 && status.StatusCode < 500 {
		reason := fmt.Sprintf("HTTP %d", status.StatusCode)
		if resp != nil {
			if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil && len(data) > 0 {
				reason = extractReason(data, reason)
			}
		}
		return &RemoteRejectedError{StatusCode: status.StatusCode, Reason: reason}
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func extractReason(data []byte, fallback string) string {
	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func cacheKeyFor(templateName string, bindings map[string]string) string {
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(templateName)
	for _, k := range keys {
		b.WriteByte(0x1f)
		b.WriteString(k)
		b.WriteByte(0x1e)
		b.WriteString(bindings[k])
	}
	return b.String()
}
