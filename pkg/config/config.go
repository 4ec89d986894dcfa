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

// Package config defines the Praetor configuration document and its loader.
//
// Configuration is a single YAML (or JSON) document. Every struct has
// SetDefaults and Validate; the loader applies env expansion, decoding,
// defaults and validation in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvLLMAPIKey is the required secret for the LLM endpoint. Startup fails
// without it.
const EnvLLMAPIKey = "PRAETOR_LLM_API_KEY"

// Config is the root configuration document.
type Config struct {
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
	Server    ServerConfig   `yaml:"server"`
	LLM       LLMConfig      `yaml:"llm"`
	Executor  ExecutorConfig `yaml:"executor"`
	Session   SessionConfig  `yaml:"session"`
	Risk      RiskConfig     `yaml:"risk"`
	Paths     PathsConfig    `yaml:"paths"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = 120_000
	}
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// LLMConfig configures the outbound completion endpoint.
type LLMConfig struct {
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	TemperatureDefault float64 `yaml:"temperature_default"`
	DeadlineMS         int     `yaml:"deadline_ms"`
	RetryAttempts      int     `yaml:"retry_attempts"`
	RetryBaseDelayMS   int     `yaml:"retry_base_delay_ms"`
	MaxOutputBytes     int     `yaml:"max_output_bytes"`
	CacheSize          int     `yaml:"cache_size"`
}

func (c *LLMConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.TemperatureDefault == 0 {
		c.TemperatureDefault = 0.1
	}
	if c.DeadlineMS == 0 {
		c.DeadlineMS = 30_000
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelayMS == 0 {
		c.RetryBaseDelayMS = 500
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 64 * 1024
	}
	if c.CacheSize == 0 {
		c.CacheSize = 256
	}
}

func (c *LLMConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMS) * time.Millisecond
}

// ExecutorConfig bounds command executions.
type ExecutorConfig struct {
	MaxGlobal        int   `yaml:"max_global"`
	MaxPerSession    int   `yaml:"max_per_session"`
	DefaultDeadlineS int   `yaml:"default_deadline_s"`
	CPUSeconds       int   `yaml:"cpu_seconds"`
	MemBytes         int64 `yaml:"mem_bytes"`
	FSizeBytes       int64 `yaml:"fsize_bytes"`
	OutputCapBytes   int64 `yaml:"output_cap_bytes"`
	CancelGraceS     int   `yaml:"cancel_grace_s"`
}

func (c *ExecutorConfig) SetDefaults() {
	if c.MaxGlobal == 0 {
		c.MaxGlobal = 32
	}
	if c.MaxPerSession == 0 {
		c.MaxPerSession = 3
	}
	if c.DefaultDeadlineS == 0 {
		c.DefaultDeadlineS = 120
	}
	if c.CPUSeconds == 0 {
		c.CPUSeconds = 300
	}
	if c.MemBytes == 0 {
		c.MemBytes = 1 << 30 // 1 GiB
	}
	if c.FSizeBytes == 0 {
		c.FSizeBytes = 100 << 20 // 100 MiB
	}
	if c.OutputCapBytes == 0 {
		c.OutputCapBytes = 4 << 20 // 4 MiB per stream
	}
	if c.CancelGraceS == 0 {
		c.CancelGraceS = 5
	}
}

func (c *ExecutorConfig) DefaultDeadline() time.Duration {
	return time.Duration(c.DefaultDeadlineS) * time.Second
}

func (c *ExecutorConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceS) * time.Second
}

// SessionConfig bounds session retention.
type SessionConfig struct {
	TTLSeconds     int `yaml:"ttl_seconds"`
	ConvCap        int `yaml:"conv_cap"`
	CmdCap         int `yaml:"cmd_cap"`
	SweepIntervalS int `yaml:"sweep_interval_s"`
}

func (c *SessionConfig) SetDefaults() {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 24 * 60 * 60
	}
	if c.ConvCap == 0 {
		c.ConvCap = 100
	}
	if c.CmdCap == 0 {
		c.CmdCap = 200
	}
	if c.SweepIntervalS == 0 {
		c.SweepIntervalS = 60
	}
}

func (c *SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalS) * time.Second
}

// RiskConfig tunes the evaluator's confirmation threshold.
type RiskConfig struct {
	RequireConfirmationAt string `yaml:"require_confirmation_at"`
}

func (c *RiskConfig) SetDefaults() {
	if c.RequireConfirmationAt == "" {
		c.RequireConfirmationAt = "high"
	}
}

// PathsConfig locates the registry directory tree and persisted state.
type PathsConfig struct {
	ToolRegistry      string `yaml:"tool_registry"`
	RiskPatterns      string `yaml:"risk_patterns"`
	PerToolRegistries string `yaml:"per_tool_registries"`
	Prompts           string `yaml:"prompts"`
	Outputs           string `yaml:"outputs"`
	Sessions          string `yaml:"sessions"`
}

func (c *PathsConfig) SetDefaults() {
	if c.ToolRegistry == "" {
		c.ToolRegistry = "registry/tools.yaml"
	}
	if c.RiskPatterns == "" {
		c.RiskPatterns = "registry/risk_patterns.yaml"
	}
	if c.PerToolRegistries == "" {
		c.PerToolRegistries = "registry/registry.d"
	}
	if c.Prompts == "" {
		c.Prompts = "registry/prompts"
	}
	if c.Outputs == "" {
		c.Outputs = "state/outputs"
	}
	if c.Sessions == "" {
		c.Sessions = "state/sessions"
	}
}

// ObservabilityConfig enables tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.TracingExporter == "" {
		c.TracingExporter = "stdout"
	}
	if c.TracingEndpoint == "" {
		c.TracingEndpoint = "localhost:4317"
	}
}

// SetDefaults applies defaults to the whole document.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Executor.SetDefaults()
	c.Session.SetDefaults()
	c.Risk.SetDefaults()
	c.Paths.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	switch c.Risk.RequireConfirmationAt {
	case "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid risk.require_confirmation_at %q", c.Risk.RequireConfirmationAt)
	}

	if c.Executor.MaxPerSession > c.Executor.MaxGlobal {
		return fmt.Errorf("executor.max_per_session (%d) cannot exceed executor.max_global (%d)",
			c.Executor.MaxPerSession, c.Executor.MaxGlobal)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}

	return nil
}

// RequireLLMAPIKey returns the LLM secret from the environment.
// Its absence is fatal at startup.
func RequireLLMAPIKey() (string, error) {
	key := os.Getenv(EnvLLMAPIKey)
	if key == "" {
		return "", fmt.Errorf("%s is not set; the LLM endpoint secret is required", EnvLLMAPIKey)
	}
	return key, nil
}

// EnsureStateDirs creates the persisted-state directories.
func (c *PathsConfig) EnsureStateDirs() error {
	for _, dir := range []string{c.Outputs, c.Sessions} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// SessionLogPath returns the JSON-lines shard path for a session.
func (c *PathsConfig) SessionLogPath(sessionID string) string {
	return filepath.Join(c.Sessions, sessionID+".log")
}

// OutputDir returns the artifact directory for a session.
func (c *PathsConfig) OutputDir(sessionID string) string {
	return filepath.Join(c.Outputs, sessionID)
}
