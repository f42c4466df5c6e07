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

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Source loads one layer of configuration. Later sources override earlier
// ones during Load.
type Source interface {
	Load(ctx context.Context) (map[string]any, error)
}

// fileSource reads and decodes one file.
type fileSource struct {
	path    string
	decoder Decoder
}

func (f *fileSource) Load(context.Context) (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	var conf map[string]any
	if err := f.decoder.Decode(data, &conf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return conf, nil
}

// contentSource decodes an in-memory document, used by tests and embedded
// defaults.
type contentSource struct {
	data    []byte
	decoder Decoder
}

func (c *contentSource) Load(context.Context) (map[string]any, error) {
	var conf map[string]any
	if err := c.decoder.Decode(c.data, &conf); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return conf, nil
}

// envSource filters the process environment by prefix and decodes the
// remainder with the env codec, so GANTRY_DEV_PORT=8000 surfaces as
// dev.port.
type envSource struct {
	prefix string
}

func (e *envSource) Load(context.Context) (map[string]any, error) {
	matched := make([]string, 0, 8)
	for _, env := range os.Environ() {
		if rest, ok := strings.CutPrefix(env, e.prefix); ok {
			matched = append(matched, rest)
		}
	}

	var conf map[string]any
	if err := (envCodec{}).Decode([]byte(strings.Join(matched, "\n")), &conf); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return conf, nil
}

// valuesSource injects a literal map, used for defaults.
type valuesSource struct {
	values map[string]any
}

func (v *valuesSource) Load(context.Context) (map[string]any, error) {
	return v.values, nil
}
