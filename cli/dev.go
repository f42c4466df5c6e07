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

package cli

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gantry-run/gantry/config"
	"github.com/gantry-run/gantry/devserver"
)

func newDevCommand() *cobra.Command {
	var host string
	var port int
	var root string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Serve the project locally",
		Long: `Starts the local development server: HTTP routes on the listen address,
WebSocket connections on /ws, registered queues on an in-process broker,
and Prometheus metrics on /metrics.

Flags take precedence over gantry.yaml; unset flags fall back to it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags surface as environment overrides so a single flag still
			// merges with the rest of the settings file.
			if cmd.Flags().Changed("host") {
				os.Setenv(config.EnvPrefix+"DEV_HOST", host)
			}
			if cmd.Flags().Changed("port") {
				os.Setenv(config.EnvPrefix+"DEV_PORT", strconv.Itoa(port))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return devserver.Run(ctx, devserver.WithProjectRoot(root))
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8000, "Port to serve on")
	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "Host to bind")
	cmd.Flags().StringVar(&root, "root", ".", "Project root holding gantry.yaml")
	return cmd
}
