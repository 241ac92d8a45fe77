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

package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP API and the MCP endpoint.
//
//	server:
//	  address: :8080
//	  mcp_path: /mcp
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`

	// MCPPath mounts the streamable HTTP MCP server. Set to "-" to disable.
	MCPPath string `yaml:"mcp_path,omitempty"`

	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// CORSOrigins lists allowed origins; empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig caps API requests per client address.
//
//	server:
//	  rate_limit:
//	    requests: 60
//	    window: 1m
type RateLimitConfig struct {
	// Requests per window; zero disables limiting.
	Requests int           `yaml:"requests,omitempty"`
	Window   time.Duration `yaml:"window,omitempty"`
}

func (c *RateLimitConfig) Enabled() bool {
	return c.Requests > 0
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Window == 0 {
		c.Window = time.Minute
	}
}

func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.MCPPath == "" {
		c.MCPPath = "/mcp"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	c.RateLimit.SetDefaults()
}

func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit: requests and window must not be negative")
	}
	return nil
}

// MCPEnabled reports whether the MCP endpoint is mounted.
func (c *ServerConfig) MCPEnabled() bool {
	return c.MCPPath != "-"
}
