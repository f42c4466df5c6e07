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

// Package cli provides the gantry command set. Handler modules register
// through package init, so the commands only see modules compiled into
// the binary they run in. A project embeds them in its own main and
// imports its module packages for the side effect:
//
//	package main
//
//	import (
//		_ "example.com/shop/api"
//		_ "example.com/shop/queues"
//
//		"github.com/gantry-run/gantry/cli"
//	)
//
//	func main() {
//		cli.Execute()
//	}
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time:
//
//	go build -ldflags "-X github.com/gantry-run/gantry/cli.version=v1.2.3"
var version = "0.1.0-dev"

// New builds the root command with the dev and routes subcommands.
func New() *cobra.Command {
	root := &cobra.Command{
		Use:   "gantry",
		Short: "Gantry - serverless backends in Go",
		Long: `Gantry runs backend modules on HTTP routes, WebSocket connections, and
message queues. Modules register themselves when their packages load;
the same binary serves locally through the dev server and on AWS Lambda
through the lambdahost adapter.`,
		Version: version,
	}

	root.AddCommand(newDevCommand())
	root.AddCommand(newRoutesCommand())
	return root
}

// Execute runs the root command, exiting nonzero on error.
func Execute() {
	if err := New().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
