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
	"net/url"
	"strings"
)

// The route tree is built once during Load and immutable afterwards, so
// lookups need no locking. Each node matches one path segment; children
// are tried static first, then parameter, then catch-all.

// edge is a per-segment static child. Linear scan beats map hashing at
// the fan-outs a manifest produces.
type edge struct {
	label string
	node  *treeNode
}

type paramEdge struct {
	name string
	node *treeNode
}

type catchAllEdge struct {
	name  string
	route *Route
}

type treeNode struct {
	route    *Route
	edges    []edge
	param    *paramEdge
	catchAll *catchAllEdge
}

type routeTree struct {
	root *treeNode
	// staticPaths short-circuits parameter-free routes on the full path.
	staticPaths map[string]*Route
}

func newRouteTree() *routeTree {
	return &routeTree{root: &treeNode{}, staticPaths: make(map[string]*Route, 8)}
}

func (n *treeNode) findChild(segment string) *treeNode {
	for i := range n.edges {
		if n.edges[i].label == segment {
			return n.edges[i].node
		}
	}
	return nil
}

func (n *treeNode) findOrCreateChild(segment string) *treeNode {
	if child := n.findChild(segment); child != nil {
		return child
	}
	child := &treeNode{}
	n.edges = append(n.edges, edge{label: segment, node: child})
	return child
}

// insert adds a route under its canonical colon-form path. Shape collision
// detection has already run, so insertion cannot conflict.
func (t *routeTree) insert(route *Route) {
	if !route.Template.HasParams() {
		t.staticPaths[route.Path] = route
		return
	}

	segments := strings.Split(strings.Trim(route.Path, "/"), "/")
	current := t.root

	for i, segment := range segments {
		last := i == len(segments)-1

		switch {
		case strings.HasPrefix(segment, ":") && strings.HasSuffix(segment, "*"):
			current.catchAll = &catchAllEdge{
				name:  strings.TrimSuffix(segment[1:], "*"),
				route: route,
			}
			return

		case strings.HasPrefix(segment, ":"):
			if current.param == nil {
				current.param = &paramEdge{name: segment[1:], node: &treeNode{}}
			}
			current = current.param.node

		default:
			current = current.findOrCreateChild(segment)
		}

		if last {
			current.route = route
		}
	}
}

// match resolves a request path to a route, extracting parameter values.
// Priority per segment: static edge, then parameter, then catch-all. A
// catch-all consumes one or more remaining segments.
func (t *routeTree) match(path string) (*Route, map[string]string, bool) {
	trimmed := strings.Trim(path, "/")
	canonical := "/" + trimmed
	if trimmed == "" {
		canonical = "/"
	}

	if route, ok := t.staticPaths[canonical]; ok {
		return route, map[string]string{}, true
	}
	if trimmed == "" {
		return nil, nil, false
	}

	segments := strings.Split(trimmed, "/")
	return t.root.match(segments, make(map[string]string, 2))
}

func (n *treeNode) match(segments []string, params map[string]string) (*Route, map[string]string, bool) {
	if len(segments) == 0 {
		if n.route != nil {
			return n.route, params, true
		}
		return nil, nil, false
	}

	segment := segments[0]
	rest := segments[1:]

	if segment != "" {
		if next := n.findChild(segment); next != nil {
			if route, p, ok := next.match(rest, params); ok {
				return route, p, ok
			}
		}
		if n.param != nil {
			params[n.param.name] = decodePathSegment(segment)
			if route, p, ok := n.param.node.match(rest, params); ok {
				return route, p, ok
			}
			delete(params, n.param.name)
		}
		if n.catchAll != nil {
			params[n.catchAll.name] = decodeJoined(segments)
			return n.catchAll.route, params, true
		}
	}

	return nil, nil, false
}

func decodePathSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func decodeJoined(segments []string) string {
	decoded := make([]string, len(segments))
	for i, s := range segments {
		decoded[i] = decodePathSegment(s)
	}
	return strings.Join(decoded, "/")
}
