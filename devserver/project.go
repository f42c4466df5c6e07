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

package devserver

import (
	"context"
	"log/slog"

	"github.com/gantry-run/gantry/config"
	"github.com/gantry-run/gantry/logging"
)

// Run builds a Server and serves until ctx is canceled. It is what a
// project's main calls for local development.
func Run(ctx context.Context, opts ...Option) error {
	srv, err := New(ctx, opts...)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// newLogger builds the process logger. Development gets the console
// handler; anything else follows the configured handler, so a staging
// profile can keep JSON while running locally.
func newLogger(settings *config.Settings) (*slog.Logger, error) {
	level, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		return nil, err
	}

	opts := []logging.Option{
		logging.WithLevel(level),
		logging.WithServiceName(settings.Name),
		logging.WithEnvironment(settings.Environment),
	}
	if settings.Environment == "development" {
		opts = append(opts, logging.WithConsoleHandler())
	} else {
		handlerType, err := logging.ParseHandlerType(settings.Logging.Handler)
		if err != nil {
			return nil, err
		}
		opts = append(opts, logging.WithHandlerType(handlerType))
	}

	cfg, err := logging.New(opts...)
	if err != nil {
		return nil, err
	}
	return cfg.Logger(), nil
}
