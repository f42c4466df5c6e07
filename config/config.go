// Copyright 2025 The Gantry Authors
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

// Package config loads project configuration from layered sources:
// defaults, then gantry.yaml or gantry.toml, then GANTRY_-prefixed
// environment variables, with later layers merged over earlier ones.
//
// Values are read by dotted path with cast coercion, or bound to a struct
// with mapstructure:
//
//	cfg := config.MustNew(
//	    config.WithFile("gantry.yaml"),
//	    config.WithEnv("GANTRY_"),
//	)
//	cfg.MustLoad(context.Background())
//	port := cfg.Int("dev.port")
package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// Option configures a Config instance.
type Option func(c *Config) error

// Config manages configuration loaded from layered sources. Safe for
// concurrent use after Load.
type Config struct {
	mu      sync.RWMutex
	values  map[string]any
	sources []Source
	loaded  bool
	tagName string
}

// WithSource appends a custom source layer.
func WithSource(src Source) Option {
	return func(c *Config) error {
		if src == nil {
			return ErrNilSource
		}
		c.sources = append(c.sources, src)
		return nil
	}
}

// WithFile appends a file layer; the format comes from the extension
// (.yaml, .yml, .toml, .env).
func WithFile(path string) Option {
	return func(c *Config) error {
		format, err := detectFormat(path)
		if err != nil {
			return newError("file-source", "detect-format", err)
		}
		decoder, err := decoderFor(format)
		if err != nil {
			return newError("file-source", "get-decoder", err)
		}
		c.sources = append(c.sources, &fileSource{path: path, decoder: decoder})
		return nil
	}
}

// WithContent appends an in-memory layer in the given format.
func WithContent(data []byte, t Type) Option {
	return func(c *Config) error {
		decoder, err := decoderFor(t)
		if err != nil {
			return newError("content-source", "get-decoder", err)
		}
		c.sources = append(c.sources, &contentSource{data: data, decoder: decoder})
		return nil
	}
}

// WithEnv appends an environment layer: variables starting with prefix,
// prefix stripped, underscores nesting keys.
func WithEnv(prefix string) Option {
	return func(c *Config) error {
		c.sources = append(c.sources, &envSource{prefix: prefix})
		return nil
	}
}

// WithDefaults appends a literal layer, typically registered first so
// every later layer overrides it.
func WithDefaults(values map[string]any) Option {
	return func(c *Config) error {
		c.sources = append(c.sources, &valuesSource{values: values})
		return nil
	}
}

// WithTag changes the struct tag Bind reads. Default "config".
func WithTag(tagName string) Option {
	return func(c *Config) error {
		if tagName == "" {
			return fmt.Errorf("config: tag name cannot be empty")
		}
		c.tagName = tagName
		return nil
	}
}

// New creates a Config from options. Load must run before values are
// read.
func New(options ...Option) (*Config, error) {
	c := &Config{tagName: "config"}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew creates a Config or panics on error.
func MustNew(options ...Option) *Config {
	c, err := New(options...)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads every source in registration order and merges each layer
// over the previous ones. Keys normalize to lowercase so YAML, TOML, and
// environment spellings collide predictably.
func (c *Config) Load(ctx context.Context) error {
	merged := make(map[string]any)
	for i, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		layer, err := src.Load(ctx)
		if err != nil {
			return newError(fmt.Sprintf("source[%d]", i), "load", err)
		}
		if layer == nil {
			continue
		}
		if err := mergo.Map(&merged, normalizeKeys(layer), mergo.WithOverride); err != nil {
			return newError(fmt.Sprintf("source[%d]", i), "merge", err)
		}
	}

	c.mu.Lock()
	c.values = merged
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// MustLoad loads or panics on error.
func (c *Config) MustLoad(ctx context.Context) {
	if err := c.Load(ctx); err != nil {
		panic(err)
	}
}

// normalizeKeys lowercases map keys recursively.
func normalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			v = normalizeKeys(nested)
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

// Bind decodes the loaded values into v with mapstructure, honoring the
// configured struct tag and weak type coercion, so "8080" binds to an int
// field.
func (c *Config) Bind(v any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return ErrNotLoaded
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           v,
		TagName:          c.tagName,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return newError("binding", "new-decoder", err)
	}
	if err := decoder.Decode(c.values); err != nil {
		return newError("binding", "decode", err)
	}
	return nil
}

// Get returns the raw value at a dotted path, or nil when absent.
func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	current := any(c.values)
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// String returns the value at key coerced to a string.
func (c *Config) String(key string) string { return cast.ToString(c.Get(key)) }

// Int returns the value at key coerced to an int.
func (c *Config) Int(key string) int { return cast.ToInt(c.Get(key)) }

// Bool returns the value at key coerced to a bool.
func (c *Config) Bool(key string) bool { return cast.ToBool(c.Get(key)) }

// Duration returns the value at key coerced to a time.Duration.
func (c *Config) Duration(key string) time.Duration { return cast.ToDuration(c.Get(key)) }

// StringSlice returns the value at key coerced to a string slice.
func (c *Config) StringSlice(key string) []string { return cast.ToStringSlice(c.Get(key)) }

// IsSet reports whether key resolves to a value.
func (c *Config) IsSet(key string) bool { return c.Get(key) != nil }
