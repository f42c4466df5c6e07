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

package manifest

import (
	"sort"
	"strings"
	"sync"

	"github.com/gantry-run/gantry/handler"
)

// Registry collects module declarations before Load turns them into an
// immutable Services table. Modules typically self-register from init
// functions against the default registry; tests and embedders construct
// isolated registries with NewRegistry.
//
// Registration only records declarations. All validation (path grammar,
// duplicate shapes, queue name rules) happens in Load, which reports the
// offending source file.
type Registry struct {
	mu         sync.Mutex
	routes     []*handler.RouteModule
	queues     []*handler.QueueModule
	socket     *handler.SocketModule
	socketDup  string
	middleware []middlewareEntry
	warmup     handler.WarmupFunc
}

type middlewareEntry struct {
	source string
	dir    string
	set    handler.Middleware
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that package-level
// registration functions target.
func Default() *Registry { return defaultRegistry }

// Route declares an HTTP route module. Panics on a nil module; everything
// else is validated by Load.
func (r *Registry) Route(m *handler.RouteModule) {
	if m == nil {
		panic("manifest: Route called with nil module")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, m)
}

// Queue declares a queue module. Panics on a nil module.
func (r *Registry) Queue(m *handler.QueueModule) {
	if m == nil {
		panic("manifest: Queue called with nil module")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = append(r.queues, m)
}

// Socket declares the WebSocket module. A project has at most one; a
// second declaration fails Load. Panics on a nil module.
func (r *Registry) Socket(m *handler.SocketModule) {
	if m == nil {
		panic("manifest: Socket called with nil module")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.socket != nil {
		r.socketDup = m.Source
		return
	}
	r.socket = m
}

// Middleware declares a _middleware file. Source names the file, e.g.
// "api/_middleware.go"; the set applies to every module at or below the
// file's directory, nearer files overriding farther ones per hook.
func (r *Registry) Middleware(source string, set handler.Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middlewareEntry{source: source, set: set})
}

// Warmup declares the startup hook, run inside an ambient scope before the
// process starts serving. A later declaration replaces an earlier one.
func (r *Registry) Warmup(fn handler.WarmupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warmup = fn
}

// snapshot copies the registered state so Load never races registration.
func (r *Registry) snapshot() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Registry{
		routes:     append([]*handler.RouteModule(nil), r.routes...),
		queues:     append([]*handler.QueueModule(nil), r.queues...),
		socket:     r.socket,
		socketDup:  r.socketDup,
		middleware: append([]middlewareEntry(nil), r.middleware...),
		warmup:     r.warmup,
	}
}

// validateMiddleware resolves each entry's directory and rejects
// duplicates and misnamed sources.
func (r *Registry) validateMiddleware() (map[string]handler.Middleware, error) {
	byDir := make(map[string]handler.Middleware, len(r.middleware))
	seen := make(map[string]string, len(r.middleware))

	for _, entry := range r.middleware {
		dir, err := middlewareDir(entry.source)
		if err != nil {
			return nil, err
		}
		if prior, dup := seen[dir]; dup {
			return nil, newError(entry.source, ErrDuplicateMiddleware, "already declared by %s", prior)
		}
		seen[dir] = entry.source
		byDir[dir] = entry.set
	}
	return byDir, nil
}

// middlewareDir validates a _middleware source path and returns the
// directory it governs. The root file "_middleware.go" governs "".
func middlewareDir(source string) (string, error) {
	cleaned := cleanSource(source)
	base := cleaned
	dir := ""
	if i := strings.LastIndexByte(cleaned, '/'); i >= 0 {
		dir, base = cleaned[:i], cleaned[i+1:]
	}
	if stripSourceExt(base) != "_middleware" {
		return "", newError(source, ErrReservedPath, "middleware files are named _middleware")
	}
	for _, seg := range strings.Split(dir, "/") {
		if strings.HasPrefix(seg, "_") {
			return "", newError(source, ErrReservedPath, "segment %q", seg)
		}
	}
	return dir, nil
}

// chainFor merges the _middleware sets that govern source, outermost
// first, so nearer directories override farther ones.
func chainFor(byDir map[string]handler.Middleware, source string) handler.Middleware {
	cleaned := cleanSource(source)
	dir := ""
	if i := strings.LastIndexByte(cleaned, '/'); i >= 0 {
		dir = cleaned[:i]
	}

	dirs := []string{""}
	if dir != "" {
		segments := strings.Split(dir, "/")
		for i := range segments {
			dirs = append(dirs, strings.Join(segments[:i+1], "/"))
		}
	}

	var chain handler.Middleware
	for _, d := range dirs {
		if set, ok := byDir[d]; ok {
			chain = chain.Merge(set)
		}
	}
	return chain
}

// sortedQueueSources returns queue modules ordered by source path so Load
// output is deterministic regardless of registration order.
func sortedQueues(queues []*handler.QueueModule) []*handler.QueueModule {
	out := append([]*handler.QueueModule(nil), queues...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func sortedRoutes(routes []*handler.RouteModule) []*handler.RouteModule {
	out := append([]*handler.RouteModule(nil), routes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
