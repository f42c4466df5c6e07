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

package lambdahost

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/gantry-run/gantry"
	"github.com/gantry-run/gantry/config"
	"github.com/gantry-run/gantry/logging"
)

// NewProject builds a project wired for AWS: settings from gantry.yaml
// and GANTRY_ environment overrides, a JSON logger, SQS as the queue
// transport, and the API Gateway management API as the WebSocket
// gateway when a WebSocket base URL is configured. Caller options are
// applied after the AWS wiring, so any of it can be overridden.
func NewProject(ctx context.Context, opts ...gantry.Option) (*gantry.Project, error) {
	settings, err := config.LoadSettings(ctx, ".")
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger, err := newLogger(settings)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if settings.AWS.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(settings.AWS.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	sqsClient := NewSQSClient(cfg)
	options := []gantry.Option{
		gantry.WithLogger(logger),
		gantry.WithEnqueuer(sqsClient),
		gantry.WithQueueClient(sqsClient),
	}
	if settings.URLs.HTTP != "" {
		options = append(options, gantry.WithHTTPBase(settings.URLs.HTTP))
	}
	if settings.URLs.WS != "" {
		endpoint, err := ManagementEndpoint(settings.URLs.WS)
		if err != nil {
			return nil, err
		}
		options = append(options,
			gantry.WithWSBase(settings.URLs.WS),
			gantry.WithGateway(NewManagementGateway(cfg, endpoint)),
		)
	}
	options = append(options, opts...)

	return gantry.New(options...)
}

// Run wires a project for AWS and hands it to the Lambda runtime. It is
// what a deployed function's main calls.
func Run(ctx context.Context, opts ...gantry.Option) error {
	project, err := NewProject(ctx, opts...)
	if err != nil {
		return err
	}
	host, err := New(project)
	if err != nil {
		return err
	}
	return host.Start(ctx)
}

// newLogger builds the process logger. Lambda pipes stdout to
// CloudWatch, so the handler is always JSON; level and identity come
// from the settings.
func newLogger(settings *config.Settings) (*slog.Logger, error) {
	level, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		return nil, err
	}
	cfg, err := logging.New(
		logging.WithJSONHandler(),
		logging.WithLevel(level),
		logging.WithServiceName(settings.Name),
		logging.WithEnvironment(settings.Environment),
	)
	if err != nil {
		return nil, err
	}
	return cfg.Logger(), nil
}
