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
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

// Type names a configuration encoding.
type Type string

const (
	// TypeYAML decodes YAML documents.
	TypeYAML Type = "yaml"
	// TypeTOML decodes TOML documents.
	TypeTOML Type = "toml"
	// TypeEnv decodes KEY=VALUE lines into nested maps, underscores
	// nesting: SERVER_PORT=8080 becomes server.port.
	TypeEnv Type = "env"
)

// Decoder turns raw bytes into a configuration map.
type Decoder interface {
	Decode(data []byte, v *map[string]any) error
}

type yamlCodec struct{}

func (yamlCodec) Decode(data []byte, v *map[string]any) error {
	return yaml.Unmarshal(data, v)
}

type tomlCodec struct{}

func (tomlCodec) Decode(data []byte, v *map[string]any) error {
	return toml.Unmarshal(data, v)
}

// envCodec decodes KEY=VALUE lines. Keys lowercase; underscores create
// nesting, so DEV_PORT=8000 yields {"dev": {"port": "8080"}}. Values stay
// strings; cast coercion happens at read time.
type envCodec struct{}

func (envCodec) Decode(data []byte, v *map[string]any) error {
	conf := make(map[string]any)

	for _, line := range bytes.Split(data, []byte("\n")) {
		key, value, found := strings.Cut(string(line), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		parts := splitEnvKey(key)
		if len(parts) == 0 {
			continue
		}

		current := conf
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
	}

	*v = conf
	return nil
}

func splitEnvKey(key string) []string {
	raw := strings.Split(strings.ToLower(key), "_")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// decoderFor resolves a decoder from an explicit type.
func decoderFor(t Type) (Decoder, error) {
	switch t {
	case TypeYAML:
		return yamlCodec{}, nil
	case TypeTOML:
		return tomlCodec{}, nil
	case TypeEnv:
		return envCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, t)
	}
}

// detectFormat infers the encoding from a file extension.
func detectFormat(path string) (Type, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return TypeYAML, nil
	case ".toml":
		return TypeTOML, nil
	case ".env":
		return TypeEnv, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}
