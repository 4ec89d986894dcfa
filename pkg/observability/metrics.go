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
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool
}

// InitMetrics creates the meters backed by the prometheus exporter.
// The exporter registers against the default prometheus registry, so the
// server's /metrics handler picks everything up.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("praetor")

	httpDuration, err := meter.Float64Histogram(
		"praetor_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"praetor_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"praetor_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmCalls, err := meter.Int64Counter(
		"praetor_llm_calls_total",
		metric.WithDescription("Total LLM calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm calls counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"praetor_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	llmCacheHits, err := meter.Int64Counter(
		"praetor_llm_cache_hits_total",
		metric.WithDescription("Total LLM cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm cache hits counter: %w", err)
	}

	execDuration, err := meter.Float64Histogram(
		"praetor_execution_duration_seconds",
		metric.WithDescription("Command execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution duration histogram: %w", err)
	}

	execTotal, err := meter.Int64Counter(
		"praetor_executions_total",
		metric.WithDescription("Total command executions by terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}

	riskVerdicts, err := meter.Int64Counter(
		"praetor_risk_verdicts_total",
		metric.WithDescription("Total risk verdicts by level and action"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk verdicts counter: %w", err)
	}

	return &PrometheusMetrics{
		httpDuration: httpDuration,
		httpRequests: httpRequests,
		llmDuration:  llmDuration,
		llmCalls:     llmCalls,
		llmErrors:    llmErrors,
		llmCacheHits: llmCacheHits,
		execDuration: execDuration,
		execTotal:    execTotal,
		riskVerdicts: riskVerdicts,
	}, nil
}
