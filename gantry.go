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

// Package gantry is a serverless backend framework: HTTP requests,
// WebSocket events, and queue messages dispatched onto handler modules
// declared against the project's file layout.
//
// Modules register themselves, typically from init functions, naming
// the project-relative file they live in; the source path decides the
// route:
//
//	func init() {
//	    gantry.Route(&handler.RouteModule{
//	        Source: "api/posts/[id].go",
//	        Get: func(ctx context.Context, req *handler.Request) (handler.Result, error) {
//	            post, err := store.Get(ctx, req.Params["id"])
//	            if err != nil {
//	                return nil, err
//	            }
//	            return handler.JSON(post), nil
//	        },
//	    })
//	}
//
// A Project ties the registered modules to a host's collaborators (a
// queue transport, a WebSocket gateway, a connection store) and exposes
// the three engines the host feeds events into. The devserver package
// runs a Project on localhost; the lambdahost package runs it on AWS
// Lambda.
package gantry

import (
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
)

// Route declares a route module on the default registry.
func Route(m *handler.RouteModule) {
	manifest.Default().Route(m)
}

// Queue declares a queue module on the default registry.
func Queue(m *handler.QueueModule) {
	manifest.Default().Queue(m)
}

// Socket declares the WebSocket module on the default registry. A project
// has at most one.
func Socket(m *handler.SocketModule) {
	manifest.Default().Socket(m)
}

// Middleware declares a _middleware file on the default registry. The set
// applies to every module at or below the file's directory, nearer files
// winning per hook.
func Middleware(source string, set handler.Middleware) {
	manifest.Default().Middleware(source, set)
}

// Warmup declares the startup hook, run inside an ambient scope before
// the first event is served.
func Warmup(fn handler.WarmupFunc) {
	manifest.Default().Warmup(fn)
}
