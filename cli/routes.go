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
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gantry-run/gantry/manifest"
)

func newRoutesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the registered manifest",
		Long: `Loads the manifest from the modules registered in this binary and
prints the route, queue, and WebSocket tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := manifest.Load(manifest.Default())
			if err != nil {
				return err
			}
			printManifest(cmd.OutOrStdout(), services)
			return nil
		},
	}
}

func printManifest(w io.Writer, services *manifest.Services) {
	routes := services.Routes()
	queues := services.Queues()
	socket := services.Socket()

	if len(routes) == 0 && len(queues) == 0 && socket == nil {
		fmt.Fprintln(w, "no modules registered")
		return
	}

	if len(routes) > 0 {
		fmt.Fprintln(w, "ROUTES")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  METHODS\tPATH\tSOURCE\tTIMEOUT\tNOTES")
		for _, route := range routes {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
				strings.Join(route.Methods.List(), ","),
				route.Path,
				route.Source,
				route.Timeout,
				routeNotes(route),
			)
		}
		tw.Flush()
	}

	if len(queues) > 0 {
		if len(routes) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "QUEUES")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  NAME\tTYPE\tSOURCE\tTIMEOUT")
		for _, queue := range queues {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
				queue.Name,
				queueType(queue),
				queue.Source,
				queue.Timeout,
			)
		}
		tw.Flush()
	}

	if socket != nil {
		if len(routes) > 0 || len(queues) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "WEBSOCKET")
		fmt.Fprintf(w, "  %s (timeout %s)\n", socket.Source, socket.Timeout)
	}
}

func routeNotes(route *manifest.Route) string {
	var notes []string
	if route.Queue != nil {
		notes = append(notes, "enqueues to "+route.Queue.Name)
	}
	if route.CORS {
		notes = append(notes, "cors")
	}
	return strings.Join(notes, ", ")
}

func queueType(queue *manifest.Queue) string {
	if queue.FIFO {
		return "fifo"
	}
	return "standard"
}
