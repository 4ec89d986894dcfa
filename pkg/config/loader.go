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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/praetor-ai/praetor/pkg/config/provider"
)

// Loader loads and watches configuration from a Provider.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked when config changes.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader with the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{
		provider: p,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, parses, and processes the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandedMap := expandEnvVars(rawMap)

	cfg := &Config{}
	if err := decodeConfig(expandedMap, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Watch starts watching for config changes. When changes are detected the
// config is reloaded and onChange is called. Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	slog.Info("Started watching for config changes", "path", l.provider.Path())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}

			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("Failed to reload config", "error", err)
				continue
			}

			slog.Info("Configuration reloaded")
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

// Close releases resources held by the loader.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// parseBytes parses raw bytes into a map. YAML is primary; JSON parses as a
// YAML subset.
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any

	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}

	return result, nil
}

// decodeConfig decodes a map into a Config struct using mapstructure.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}

	return nil
}

// expandEnvVars recursively expands ${VAR}, ${VAR:-default} and $VAR in a map.
func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]

			// ${VAR:-default}
			if idx := strings.Index(inner, ":-"); idx != -1 {
				varName := inner[:idx]
				defaultVal := inner[idx+2:]
				if val := os.Getenv(varName); val != "" {
					return val
				}
				return defaultVal
			}

			return os.Getenv(inner)
		}

		return os.Getenv(match[1:])
	})
}

// LoadFile is a convenience function for loading from a file path.
func LoadFile(ctx context.Context, path string) (*Config, *Loader, error) {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}

	return cfg, loader, nil
}
