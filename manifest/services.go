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

// Package manifest turns registered handler modules into the immutable
// Services table the engines dispatch against.
//
// Loading happens once at startup. Queue modules are resolved first, then
// route modules, and finally queues with an HTTP path project POST-only
// routes into the route table, so the dependency between the two tables
// runs in one direction only. Any validation failure aborts the load with
// an *Error naming the offending source file; the process must not serve
// with a partial manifest.
package manifest

import (
	"net/http"
	"sort"

	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/urlpath"
)

// Services is the immutable manifest: every HTTP route by canonical path,
// every queue by logical name, the optional WebSocket endpoint, and the
// warmup hook. Produced by Load; safe for concurrent use.
type Services struct {
	routes   map[string]*Route
	queues   map[string]*Queue
	tree     *routeTree
	socket   *Socket
	warmup   handler.WarmupFunc
	bySource map[string]*Route
}

// Load validates every registered module and builds the Services table.
// The first violation aborts the load with an *Error carrying the
// offending filename.
func Load(reg *Registry) (*Services, error) {
	snap := reg.snapshot()

	byDir, err := snap.validateMiddleware()
	if err != nil {
		return nil, err
	}

	s := &Services{
		routes:   make(map[string]*Route, len(snap.routes)+len(snap.queues)),
		queues:   make(map[string]*Queue, len(snap.queues)),
		tree:     newRouteTree(),
		warmup:   snap.warmup,
		bySource: make(map[string]*Route, len(snap.routes)+len(snap.queues)),
	}
	shapes := make(map[string]string, len(snap.routes)+len(snap.queues))

	if err := s.loadQueues(snap, byDir); err != nil {
		return nil, err
	}
	if err := s.loadRoutes(snap, byDir, shapes); err != nil {
		return nil, err
	}
	if err := s.projectQueues(shapes); err != nil {
		return nil, err
	}
	if err := s.loadSocket(snap, byDir); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) loadQueues(snap *Registry, byDir map[string]handler.Middleware) error {
	for _, m := range sortedQueues(snap.queues) {
		name, fifo, err := QueueNameFromSource(m.Source)
		if err != nil {
			return err
		}
		if m.Default == nil {
			return newError(m.Source, ErrNoHandler, "queue modules need a default handler")
		}
		if prior, dup := s.queues[name]; dup {
			return newError(m.Source, ErrDuplicateQueue, "%q already declared by %s", name, prior.Source)
		}

		var accepts AcceptSet
		if m.Config != nil {
			accepts = NewAcceptSet(m.Config.Accepts...)
		}
		s.queues[name] = &Queue{
			Name:    name,
			FIFO:    fifo,
			Timeout: m.Config.EffectiveTimeout(),
			Accepts: accepts,
			Kind:    m.Config.PayloadKind(),
			Source:  cleanSource(m.Source),
			Module:  m,
			Chain:   chainFor(byDir, m.Source),
		}
	}
	return nil
}

func (s *Services) loadRoutes(snap *Registry, byDir map[string]handler.Middleware, shapes map[string]string) error {
	for _, m := range sortedRoutes(snap.routes) {
		tmpl, err := RouteTemplateFromSource(m.Source)
		if err != nil {
			return err
		}
		if len(m.Handlers()) == 0 && m.Default == nil {
			return newError(m.Source, ErrNoHandler, "route modules need at least one verb handler")
		}

		route := &Route{
			Path:     tmpl.String(),
			Template: tmpl,
			Methods:  methodsFor(m),
			Source:   cleanSource(m.Source),
			Module:   m,
			Chain:    chainFor(byDir, m.Source).Merge(m.Middleware),
		}
		if cfg := m.Config; cfg != nil {
			route.Accepts = NewAcceptSet(cfg.Accepts...)
			route.CORS = cfg.CORS
			route.Cache = cfg.Cache
			route.ETag = cfg.ETag
		}
		route.Timeout = m.Config.EffectiveTimeout()

		if err := s.addRoute(route, shapes); err != nil {
			return err
		}
	}
	return nil
}

// projectQueues injects a POST-only route for every queue that declares an
// HTTP path. FIFO queues must expose a :group parameter so inbound
// requests can address a message group.
func (s *Services) projectQueues(shapes map[string]string) error {
	for _, name := range s.queueNames() {
		q := s.queues[name]
		cfg := q.Module.Config
		if cfg == nil || cfg.URL == "" {
			continue
		}

		tmpl, err := urlpath.Parse(cfg.URL)
		if err != nil {
			return newError(q.Source, err, "")
		}
		if q.FIFO && !hasParam(tmpl, "group") {
			return newError(q.Source, ErrMissingGroupParam, "url %q", cfg.URL)
		}

		q.Path = tmpl.String()
		route := &Route{
			Path:     tmpl.String(),
			Template: tmpl,
			Methods:  NewMethodSet(http.MethodPost),
			Accepts:  q.Accepts,
			Timeout:  handler.DefaultRouteTimeout,
			Source:   q.Source,
			Queue:    q,
			Chain:    q.Chain,
		}
		if err := s.addRoute(route, shapes); err != nil {
			return err
		}
	}
	return nil
}

func (s *Services) loadSocket(snap *Registry, byDir map[string]handler.Middleware) error {
	if snap.socketDup != "" {
		return newError(snap.socketDup, ErrDuplicateSocket, "")
	}
	if snap.socket == nil {
		return nil
	}
	m := snap.socket
	if m.Default == nil {
		return newError(m.Source, ErrNoHandler, "socket modules need a default handler")
	}
	source := m.Source
	if source == "" {
		source = "socket"
	}
	s.socket = &Socket{
		Timeout: m.Config.EffectiveTimeout(),
		Kind:    m.Config.PayloadKind(),
		Source:  cleanSource(source),
		Module:  m,
		Chain:   chainFor(byDir, source).Merge(m.Middleware),
	}
	return nil
}

// addRoute enforces the shape collision rule and indexes the route for
// matching and URL construction.
func (s *Services) addRoute(route *Route, shapes map[string]string) error {
	shape := route.Template.Shape()
	if prior, dup := shapes[shape]; dup {
		return newError(route.Source, ErrDuplicateRoute, "%q collides with %s", route.Path, prior)
	}
	shapes[shape] = route.Source

	s.routes[route.Path] = route
	s.bySource[route.Source] = route
	s.bySource[stripSourceExt(route.Source)] = route
	s.tree.insert(route)
	return nil
}

func methodsFor(m *handler.RouteModule) MethodSet {
	if m.Config != nil && len(m.Config.Methods) > 0 {
		return NewMethodSet(m.Config.Methods...)
	}
	handlers := m.Handlers()
	if len(handlers) == 0 {
		// Only a Default handler: accept every method.
		return nil
	}
	verbs := make([]string, 0, len(handlers))
	for verb := range handlers {
		verbs = append(verbs, verb)
	}
	return NewMethodSet(verbs...)
}

func hasParam(tmpl *urlpath.Template, name string) bool {
	for _, p := range tmpl.Params() {
		if p == name {
			return true
		}
	}
	return false
}

// Match resolves a request path to a route and its extracted parameters.
func (s *Services) Match(path string) (*Route, map[string]string, bool) {
	return s.tree.match(path)
}

// RouteByPath returns the route registered under the canonical path.
func (s *Services) RouteByPath(path string) (*Route, bool) {
	r, ok := s.routes[path]
	return r, ok
}

// Routes returns every route ordered by canonical path.
func (s *Services) Routes() []*Route {
	out := make([]*Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// QueueByName returns the queue registered under the logical name.
func (s *Services) QueueByName(name string) (*Queue, bool) {
	q, ok := s.queues[name]
	return q, ok
}

// Queues returns every queue ordered by name.
func (s *Services) Queues() []*Queue {
	out := make([]*Queue, 0, len(s.queues))
	for _, name := range s.queueNames() {
		out = append(out, s.queues[name])
	}
	return out
}

func (s *Services) queueNames() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Socket returns the WebSocket endpoint, or nil when none is registered.
func (s *Services) Socket() *Socket { return s.socket }

// Warmup returns the startup hook, or nil.
func (s *Services) Warmup() handler.WarmupFunc { return s.warmup }

// TemplateFor resolves a module's route template by its declared source
// file or by canonical path. This backs outbound URL construction for
// modules that build links to themselves.
func (s *Services) TemplateFor(sourceOrPath string) (*urlpath.Template, bool) {
	if route, ok := s.routes[sourceOrPath]; ok {
		return route.Template, true
	}
	if route, ok := s.bySource[cleanSource(sourceOrPath)]; ok {
		return route.Template, true
	}
	return nil, false
}
