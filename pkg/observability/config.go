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
	"fmt"
	"strings"
	"time"
)

// Trace exporters.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config is the observability: block.
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
//	  metrics:
//	    enabled: true
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Exporter string `yaml:"exporter,omitempty"`
	// Endpoint is the OTLP gRPC collector, host:port.
	Endpoint string `yaml:"endpoint,omitempty"`
	// TLS dials the collector over TLS; plaintext otherwise.
	TLS     bool          `yaml:"tls,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// SamplingRate is the head sampling ratio in (0, 1].
	SamplingRate   float64 `yaml:"sampling_rate,omitempty"`
	ServiceName    string  `yaml:"service_name,omitempty"`
	ServiceVersion string  `yaml:"service_version,omitempty"`
}

// MetricsConfig places the Prometheus scrape endpoint on the HTTP server.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

func (c *Config) SetDefaults() {
	t := &c.Tracing
	t.Exporter = strings.ToLower(t.Exporter)
	if t.Exporter == "" {
		t.Exporter = ExporterOTLP
	}
	if t.Endpoint == "" {
		t.Endpoint = DefaultOTLPEndpoint
	}
	if t.Timeout == 0 {
		t.Timeout = 10 * time.Second
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = DefaultSamplingRate
	}
	if t.ServiceName == "" {
		t.ServiceName = DefaultServiceName
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
}

// Validate only checks sections that are enabled.
func (c *Config) Validate() error {
	if t := c.Tracing; t.Enabled {
		if t.SamplingRate <= 0 || t.SamplingRate > 1 {
			return fmt.Errorf("tracing: sampling_rate %g outside (0, 1]", t.SamplingRate)
		}
		if t.Exporter != ExporterOTLP && t.Exporter != ExporterStdout {
			return fmt.Errorf("tracing: unknown exporter %q (%s, %s)", t.Exporter, ExporterOTLP, ExporterStdout)
		}
	}
	if m := c.Metrics; m.Enabled && !strings.HasPrefix(m.Endpoint, "/") {
		return fmt.Errorf("metrics: endpoint %q is not an absolute path", m.Endpoint)
	}
	return nil
}
