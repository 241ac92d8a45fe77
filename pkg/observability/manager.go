// Copyright 2025 Kadir Pekel
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
	"errors"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the tracer provider and metrics for the process.
type Manager struct {
	config Config

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	metrics        Metrics
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		config:         cfg,
		tracerProvider: noop.NewTracerProvider(),
		metrics:        NoopMetrics{},
	}
}

// Initialize sets up tracing and metrics and installs them globally.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	SetGlobalMetrics(metrics)

	return nil
}

func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are off.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pm, ok := m.metrics.(*PrometheusMetrics); ok {
		return pm.Handler()
	}
	return nil
}

// MetricsPath is where MetricsHandler should be mounted.
func (m *Manager) MetricsPath() string {
	return m.config.Metrics.Endpoint
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if s, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, s.Shutdown(ctx))
	}
	if pm, ok := m.metrics.(*PrometheusMetrics); ok {
		errs = append(errs, pm.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
