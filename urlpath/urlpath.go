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

// Package urlpath implements the route template grammar shared by the
// manifest, the request engines, and outbound URL construction.
//
// A template is a slash-separated list of segments. Each segment is either
// a literal, a named parameter, or a catch-all parameter. Parameters may be
// written in colon form or bracket form; both normalize to colon form:
//
//	/posts/:id        colon form
//	/posts/[id]       bracket form, same template
//	/files/:path*     catch-all, matches one or more segments
//	/files/[...path]  bracket catch-all, same template
//
// The same template drives both directions: Match extracts parameters from
// an incoming path, and Expand substitutes parameters to produce an
// outgoing path. For any matched path p, Expand(Match(p)) reproduces p.
package urlpath

import (
	"fmt"
	"net/url"
	"strings"
)

// segment is one element of a parsed template. Exactly one of literal or
// param is set.
type segment struct {
	literal string
	param   string
	greedy  bool
}

// Template is a parsed, immutable route template in canonical colon form.
type Template struct {
	raw      string
	segments []segment
	params   []string
	catchAll bool
}

// Parse parses a route template in colon or bracket form and returns its
// canonical representation.
//
// Segment grammar:
//   - literal: one or more of [A-Za-z0-9_-]
//   - parameter: ":name" or "[name]"
//   - catch-all: ":name*" or "[...name]", final segment only
//
// Parse rejects duplicate parameter names and catch-alls in non-final
// position.
func Parse(template string) (*Template, error) {
	trimmed := strings.Trim(template, "/")
	if trimmed == "" {
		return &Template{raw: "/"}, nil
	}

	parts := strings.Split(trimmed, "/")
	t := &Template{segments: make([]segment, 0, len(parts))}
	seen := make(map[string]struct{}, 2)

	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %q", err, part, template)
		}
		if seg.param != "" {
			if _, dup := seen[seg.param]; dup {
				return nil, fmt.Errorf("%w: %q in %q", ErrDuplicateParam, seg.param, template)
			}
			seen[seg.param] = struct{}{}
			t.params = append(t.params, seg.param)
		}
		if seg.greedy {
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w: %q in %q", ErrCatchAllNotLast, part, template)
			}
			t.catchAll = true
		}
		t.segments = append(t.segments, seg)
	}

	t.raw = t.canonical()
	return t, nil
}

// MustParse is like Parse but panics on error. It simplifies variable
// initialization for templates known to be valid.
func MustParse(template string) *Template {
	t, err := Parse(template)
	if err != nil {
		panic(err)
	}
	return t
}

func parseSegment(part string) (segment, error) {
	switch {
	case strings.HasPrefix(part, "["):
		if !strings.HasSuffix(part, "]") || len(part) < 3 {
			return segment{}, ErrInvalidSegment
		}
		inner := part[1 : len(part)-1]
		if rest, ok := strings.CutPrefix(inner, "..."); ok {
			if !validName(rest) {
				return segment{}, ErrInvalidSegment
			}
			return segment{param: rest, greedy: true}, nil
		}
		if !validName(inner) {
			return segment{}, ErrInvalidSegment
		}
		return segment{param: inner}, nil

	case strings.HasPrefix(part, ":"):
		name := part[1:]
		greedy := false
		if rest, ok := strings.CutSuffix(name, "*"); ok {
			name = rest
			greedy = true
		}
		if !validName(name) {
			return segment{}, ErrInvalidSegment
		}
		return segment{param: name, greedy: greedy}, nil

	default:
		if !validName(part) {
			return segment{}, ErrInvalidSegment
		}
		return segment{literal: part}, nil
	}
}

func validName(s string) bool {
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

func (t *Template) canonical() string {
	if len(t.segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range t.segments {
		b.WriteByte('/')
		switch {
		case seg.param == "":
			b.WriteString(seg.literal)
		case seg.greedy:
			b.WriteByte(':')
			b.WriteString(seg.param)
			b.WriteByte('*')
		default:
			b.WriteByte(':')
			b.WriteString(seg.param)
		}
	}
	return b.String()
}

// String returns the canonical colon form, e.g. "/posts/:id".
func (t *Template) String() string { return t.raw }

// Params returns the declared parameter names in path order.
func (t *Template) Params() []string { return t.params }

// HasParams reports whether the template declares any parameters.
func (t *Template) HasParams() bool { return len(t.params) > 0 }

// CatchAll reports whether the final segment is a catch-all parameter.
func (t *Template) CatchAll() bool { return t.catchAll }

// Shape returns the collision signature: the canonical path with every
// parameter name erased, so "/a/:x" and "/a/:y" share a shape.
func (t *Template) Shape() string {
	if len(t.segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range t.segments {
		b.WriteByte('/')
		switch {
		case seg.param == "":
			b.WriteString(seg.literal)
		case seg.greedy:
			b.WriteString(":*")
		default:
			b.WriteByte(':')
		}
	}
	return b.String()
}

// Match tests path against the template. On success it returns the
// extracted parameter values; a catch-all captures the remaining segments
// joined with "/". Matched segment values are percent-decoded.
func (t *Template) Match(path string) (map[string]string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return emptyParams(len(t.segments) == 0)
	}
	if len(t.segments) == 0 {
		return nil, false
	}

	parts := strings.Split(trimmed, "/")
	params := make(map[string]string, len(t.params))

	for i, seg := range t.segments {
		if i >= len(parts) {
			return nil, false
		}
		switch {
		case seg.greedy:
			params[seg.param] = decodeSegments(parts[i:])
			return params, true
		case seg.param != "":
			if parts[i] == "" {
				return nil, false
			}
			params[seg.param] = decodeSegment(parts[i])
		default:
			if parts[i] != seg.literal {
				return nil, false
			}
		}
	}

	if len(parts) != len(t.segments) {
		return nil, false
	}
	return params, true
}

func emptyParams(ok bool) (map[string]string, bool) {
	if !ok {
		return nil, false
	}
	return map[string]string{}, true
}

func decodeSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func decodeSegments(parts []string) string {
	decoded := make([]string, len(parts))
	for i, p := range parts {
		decoded[i] = decodeSegment(p)
	}
	return strings.Join(decoded, "/")
}

// Expand substitutes parameter values into the template and returns the
// resulting path. Values are rendered with paramString and percent-encoded
// per segment. Catch-all parameters accept a string (possibly containing
// "/") or a string slice and must expand to at least one segment.
func (t *Template) Expand(params map[string]any) (string, error) {
	if len(t.segments) == 0 {
		return "/", nil
	}

	var b strings.Builder
	for _, seg := range t.segments {
		if seg.param == "" {
			b.WriteByte('/')
			b.WriteString(seg.literal)
			continue
		}

		value, ok := params[seg.param]
		if !ok || value == nil {
			return "", fmt.Errorf("%w: %q in %q", ErrMissingParam, seg.param, t.raw)
		}

		if seg.greedy {
			parts, err := greedyParts(value)
			if err != nil {
				return "", fmt.Errorf("%w: %q in %q", err, seg.param, t.raw)
			}
			if len(parts) == 0 {
				return "", fmt.Errorf("%w: %q in %q", ErrEmptyCatchAll, seg.param, t.raw)
			}
			for _, p := range parts {
				b.WriteByte('/')
				b.WriteString(url.PathEscape(p))
			}
			continue
		}

		s, err := paramString(value)
		if err != nil || s == "" {
			return "", fmt.Errorf("%w: %q in %q", ErrBadParamValue, seg.param, t.raw)
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String(), nil
}

func greedyParts(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		parts := strings.Split(strings.Trim(v, "/"), "/")
		return nonEmpty(parts), nil
	case []string:
		return nonEmpty(v), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := paramString(item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		return nonEmpty(parts), nil
	default:
		s, err := paramString(value)
		if err != nil {
			return nil, err
		}
		return nonEmpty([]string{s}), nil
	}
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
