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

// Package observability wires tracing and metrics for the pipeline.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Tracing TracerConfig
	Metrics MetricsConfig
}

type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	config         Config
	mu             sync.RWMutex
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics

	SetGlobalMetrics(m.metrics)

	return nil
}

func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return spt.Shutdown(ctx)
	}
	return nil
}
