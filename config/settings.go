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
	"os"
	"path/filepath"
)

// EnvPrefix is the prefix for environment overrides: GANTRY_DEV_PORT
// overrides dev.port.
const EnvPrefix = "GANTRY_"

// Settings is the project configuration the runtime consumes. Layered
// defaults < project file < environment.
type Settings struct {
	// Name identifies the project in logs and metrics.
	Name string `config:"name"`

	// Environment tags log entries; "development" enables console logging
	// in the dev server.
	Environment string `config:"environment"`

	URLs    URLSettings     `config:"urls"`
	Dev     DevSettings     `config:"dev"`
	Logging LoggingSettings `config:"logging"`
	AWS     AWSSettings     `config:"aws"`
}

// URLSettings carries the base URLs installed at process start. Empty
// bases produce relative URLs.
type URLSettings struct {
	HTTP string `config:"http"`
	WS   string `config:"ws"`
}

// DevSettings tunes the local development server.
type DevSettings struct {
	Host string `config:"host"`
	Port int    `config:"port"`
}

// LoggingSettings selects handler and level for the process logger.
type LoggingSettings struct {
	// Handler is "json", "text", or "console".
	Handler string `config:"handler"`
	// Level is "debug", "info", "warn", or "error".
	Level string `config:"level"`
}

// AWSSettings configures the Lambda host adapter.
type AWSSettings struct {
	Region string `config:"region"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"name":        "gantry",
		"environment": "development",
		"dev": map[string]any{
			"host": "localhost",
			"port": 8000,
		},
		"logging": map[string]any{
			"handler": "json",
			"level":   "info",
		},
	}
}

// LoadSettings reads the project settings from root: gantry.yaml or
// gantry.toml when present (yaml wins when both exist), then GANTRY_
// environment overrides. A project without a config file runs on
// defaults.
func LoadSettings(ctx context.Context, root string) (*Settings, error) {
	opts := []Option{WithDefaults(defaultSettings())}

	for _, name := range []string{"gantry.yaml", "gantry.yml", "gantry.toml"} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			opts = append(opts, WithFile(path))
			break
		}
	}
	opts = append(opts, WithEnv(EnvPrefix))

	cfg, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Load(ctx); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := cfg.Bind(settings); err != nil {
		return nil, err
	}
	return settings, nil
}
