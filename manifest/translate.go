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
	"path"
	"strings"

	"github.com/gantry-run/gantry/urlpath"
)

// RoutesDir and QueuesDir root the two module kinds inside a project.
const (
	RoutesDir = "api"
	QueuesDir = "queues"
)

// sourceExtensions are the extensions stripped from declared source paths.
// Anything else (notably ".fifo") is part of the name.
var sourceExtensions = map[string]struct{}{
	".go":  {},
	".ts":  {},
	".tsx": {},
	".js":  {},
	".jsx": {},
	".mjs": {},
	".cjs": {},
}

func stripSourceExt(name string) string {
	if ext := path.Ext(name); ext != "" {
		if _, ok := sourceExtensions[strings.ToLower(ext)]; ok {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func cleanSource(source string) string {
	return strings.Trim(path.Clean(strings.TrimSpace(source)), "/")
}

// RouteTemplateFromSource translates a route module's project-relative
// source path into its URL template:
//
//	api/index.go              → /
//	api/posts/[id].go         → /posts/:id
//	api/posts.[id].go         → /posts/:id
//	api/blog/[...slug].go     → /blog/:slug*
//
// The base directory and extension are dropped, a trailing "index"
// segment collapses into its parent, dots outside brackets nest segments,
// and brackets normalize to colon form.
func RouteTemplateFromSource(source string) (*urlpath.Template, error) {
	source = cleanSource(source)

	rel, ok := strings.CutPrefix(source, RoutesDir+"/")
	if !ok {
		return nil, newError(source, ErrOutsideLayout, "route modules live under %s/", RoutesDir)
	}

	rel = stripSourceExt(rel)

	var segments []string
	for _, element := range strings.Split(rel, "/") {
		if element == "" {
			continue
		}
		for _, seg := range splitDots(element) {
			if strings.HasPrefix(seg, "_") {
				return nil, newError(source, ErrReservedPath, "segment %q", seg)
			}
			segments = append(segments, seg)
		}
	}

	// A trailing index segment names the enclosing directory itself.
	if n := len(segments); n > 0 && segments[n-1] == "index" {
		segments = segments[:n-1]
	}

	tmpl, err := urlpath.Parse("/" + strings.Join(segments, "/"))
	if err != nil {
		return nil, newError(source, err, "")
	}
	return tmpl, nil
}

// splitDots splits a path element on dots that sit outside bracket
// parameters, so "posts.[id]" nests while "[...slug]" stays whole.
func splitDots(element string) []string {
	var (
		out   []string
		start int
		depth int
	)
	for i := 0; i < len(element); i++ {
		switch element[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				out = append(out, element[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, element[start:])
	return out
}

// QueueNameFromSource translates a queue module's source path into its
// logical name and FIFO flag:
//
//	queues/mail.go        → "mail", standard
//	queues/tasks.fifo.go  → "tasks.fifo", FIFO
//
// Names are limited to letters, digits, hyphens, and underscores, plus an
// optional ".fifo" suffix, at most 40 characters.
func QueueNameFromSource(source string) (name string, fifo bool, err error) {
	source = cleanSource(source)

	rel, ok := strings.CutPrefix(source, QueuesDir+"/")
	if !ok {
		return "", false, newError(source, ErrOutsideLayout, "queue modules live under %s/", QueuesDir)
	}
	if strings.Contains(rel, "/") {
		return "", false, newError(source, ErrOutsideLayout, "queue modules do not nest")
	}
	if strings.HasPrefix(rel, "_") {
		return "", false, newError(source, ErrReservedPath, "segment %q", rel)
	}

	name = stripSourceExt(rel)
	fifo = strings.HasSuffix(name, ".fifo")

	bare := strings.TrimSuffix(name, ".fifo")
	if !validQueueName(bare) || len(name) > 40 {
		return "", false, newError(source, ErrInvalidQueueName, "%q", name)
	}
	return name, fifo, nil
}

func validQueueName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
