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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/finrag/pkg/config/provider"
)

// Loader turns the bytes a Provider serves into a Config, once at startup
// and again whenever the provider reports a change.
type Loader struct {
	source   provider.Provider
	onChange func(*Config)
}

type LoaderOption func(*Loader)

// WithOnChange registers the callback that receives each reloaded Config.
// It is not called when a reload fails validation.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{source: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return Parse(data)
}

// Parse runs the full pipeline on one document: unmarshal (YAML, or JSON
// when YAML rejects it), ${VAR} expansion, decode by yaml tags, defaults,
// validation.
func Parse(data []byte) (*Config, error) {
	doc, err := unmarshalDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var cfg Config
	if err := decode(expandEnvVars(doc), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch blocks until ctx ends, reloading on each provider signal. A bad
// revision is logged and skipped; the running Config is left alone.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("Config provider cannot be watched", "type", l.source.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Watching config for changes", "type", l.source.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-changes:
			if !open {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	cfg, err := l.Load(ctx)
	if err != nil {
		slog.Error("Config reload rejected", "type", l.source.Type(), "error", err)
		return
	}
	slog.Info("Config reloaded", "type", l.source.Type())
	if l.onChange != nil {
		l.onChange(cfg)
	}
}

func (l *Loader) Close() error {
	return l.source.Close()
}

func unmarshalDocument(data []byte) (map[string]any, error) {
	doc := map[string]any{}
	yamlErr := yaml.Unmarshal(data, &doc)
	if yamlErr == nil {
		if doc == nil {
			doc = map[string]any{}
		}
		return doc, nil
	}
	if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
		return nil, errors.Join(yamlErr, jsonErr)
	}
	return doc, nil
}

func decode(doc map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(doc)
}

// LoadConfig opens the provider described by opts and loads from it. The
// returned Loader owns the provider.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig, loaderOpts ...LoaderOption) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}
	l := NewLoader(p, loaderOpts...)
	cfg, err := l.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return cfg, l, nil
}

func LoadConfigFile(ctx context.Context, path string, loaderOpts ...LoaderOption) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{Type: provider.TypeFile, Path: path}, loaderOpts...)
}
