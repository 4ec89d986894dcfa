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

package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

type Metrics interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	RecordLLMCall(ctx context.Context, model, template string, duration time.Duration, cacheHit bool, err error)
	RecordExecution(ctx context.Context, tool, status string, duration time.Duration)
	RecordRiskVerdict(ctx context.Context, level, action string)
}

// PrometheusMetrics records through otel meters exported to prometheus.
// The zero value is a safe no-op (metrics disabled).
type PrometheusMetrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
	llmDuration  metric.Float64Histogram
	llmCalls     metric.Int64Counter
	llmErrors    metric.Int64Counter
	llmCacheHits metric.Int64Counter
	execDuration metric.Float64Histogram
	execTotal    metric.Int64Counter
	riskVerdicts metric.Int64Counter
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	}

	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model, template string, duration time.Duration, cacheHit bool, err error) {
	if m == nil || m.llmCalls == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("template", template),
	}

	m.llmCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if cacheHit && m.llmCacheHits != nil {
		m.llmCacheHits.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if err != nil && m.llmErrors != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordExecution(ctx context.Context, tool, status string, duration time.Duration) {
	if m == nil || m.execTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("status", status),
	}

	m.execDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.execTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordRiskVerdict(ctx context.Context, level, action string) {
	if m == nil || m.riskVerdicts == nil {
		return
	}

	m.riskVerdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", level),
		attribute.String("action", action),
	))
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics never returns nil; before SetGlobalMetrics it returns a
// no-op recorder so instrumented code needs no guards.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return (*PrometheusMetrics)(nil)
	}
	return globalMetrics
}
