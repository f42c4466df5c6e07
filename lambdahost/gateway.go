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
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"github.com/gantry-run/gantry/wsengine"
)

// managementAPI is the slice of the API Gateway management client the
// host exercises.
type managementAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
	DeleteConnection(ctx context.Context, params *apigatewaymanagementapi.DeleteConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.DeleteConnectionOutput, error)
}

// ManagementGateway pushes frames to, and closes, API Gateway WebSocket
// connections through the management API. A GoneException surfaces as
// wsengine.ErrConnectionGone so the broker retires the stale binding.
type ManagementGateway struct {
	api managementAPI
}

// NewManagementGateway builds a gateway posting through the given
// management endpoint, usually derived from the public WebSocket URL by
// ManagementEndpoint.
func NewManagementGateway(cfg aws.Config, endpoint string) *ManagementGateway {
	client := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &ManagementGateway{api: client}
}

// Send writes one frame to a connection.
func (g *ManagementGateway) Send(ctx context.Context, connectionID string, data []byte) error {
	_, err := g.api.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	return translateGone(connectionID, err)
}

// Close disconnects a connection.
func (g *ManagementGateway) Close(ctx context.Context, connectionID string) error {
	_, err := g.api.DeleteConnection(ctx, &apigatewaymanagementapi.DeleteConnectionInput{
		ConnectionId: aws.String(connectionID),
	})
	return translateGone(connectionID, err)
}

func translateGone(connectionID string, err error) error {
	if err == nil {
		return nil
	}
	var gone *types.GoneException
	if errors.As(err, &gone) {
		return fmt.Errorf("%w: %s", wsengine.ErrConnectionGone, connectionID)
	}
	return err
}

// ManagementEndpoint derives the management API endpoint from the
// public WebSocket URL: wss://id.execute-api.region.amazonaws.com/prod
// is managed through https://id.execute-api.region.amazonaws.com/prod.
// An http or https URL passes through untouched.
func ManagementEndpoint(wsBase string) (string, error) {
	u, err := url.Parse(wsBase)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}

	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	case "https", "http":
	default:
		return "", fmt.Errorf("%w: %q", ErrBadEndpoint, wsBase)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadEndpoint, wsBase)
	}

	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
