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

package urlpath

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// Builder constructs outbound URLs from templates. It carries the base
// URLs installed at process start; with no base configured, built URLs are
// relative (path plus query).
//
// Example:
//
//	b, _ := urlpath.NewBuilder(urlpath.WithHTTPBase("https://api.example.com"))
//	u, _ := b.URL("/bookmarks/:id", map[string]any{"id": 9, "q": "z"}, nil)
//	// u == "https://api.example.com/bookmarks/9?q=z"
type Builder struct {
	httpBase *url.URL
	wsBase   *url.URL
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder) error

// WithHTTPBase sets the absolute base for HTTP URLs.
func WithHTTPBase(base string) BuilderOption {
	return func(b *Builder) error {
		u, err := parseBase(base)
		if err != nil {
			return err
		}
		b.httpBase = u
		return nil
	}
}

// WithWSBase sets the absolute base for WebSocket URLs.
func WithWSBase(base string) BuilderOption {
	return func(b *Builder) error {
		u, err := parseBase(base)
		if err != nil {
			return err
		}
		b.wsBase = u
		return nil
	}
}

func parseBase(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidBaseURL, base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, base)
	}
	return u, nil
}

// NewBuilder returns a Builder with the given bases. Both bases are
// optional.
func NewBuilder(opts ...BuilderOption) (*Builder, error) {
	b := &Builder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// HTTPBase returns the configured HTTP base URL, or "" when unset.
func (b *Builder) HTTPBase() string {
	if b.httpBase == nil {
		return ""
	}
	return b.httpBase.String()
}

// WSBase returns the configured WebSocket base URL, or "" when unset.
func (b *Builder) WSBase() string {
	if b.wsBase == nil {
		return ""
	}
	return b.wsBase.String()
}

// URL parses template and builds a URL from params and query. Parameters
// declared by the template fill path segments; excess params become query
// parameters; the explicit query is merged on top, replacing any colliding
// keys. Slice values produce repeated query keys. Query keys are emitted
// in sorted order.
func (b *Builder) URL(template string, params map[string]any, query url.Values) (string, error) {
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return b.Build(t, params, query)
}

// WSURL is URL against the WebSocket base.
func (b *Builder) WSURL(template string, params map[string]any, query url.Values) (string, error) {
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return b.build(t, params, query, b.wsBase)
}

// Build is URL for an already parsed template.
func (b *Builder) Build(t *Template, params map[string]any, query url.Values) (string, error) {
	return b.build(t, params, query, b.httpBase)
}

func (b *Builder) build(t *Template, params map[string]any, query url.Values, base *url.URL) (string, error) {
	path, err := t.Expand(params)
	if err != nil {
		return "", err
	}

	merged := url.Values{}
	declared := make(map[string]struct{}, len(t.params))
	for _, name := range t.params {
		declared[name] = struct{}{}
	}
	for key, value := range params {
		if _, isPath := declared[key]; isPath {
			continue
		}
		vs, err := queryStrings(value)
		if err != nil {
			return "", fmt.Errorf("%w: query %q", ErrBadParamValue, key)
		}
		merged[key] = vs
	}
	for key, vs := range query {
		merged[key] = append([]string(nil), vs...)
	}

	var out strings.Builder
	if base != nil {
		out.WriteString(strings.TrimSuffix(base.String(), "/"))
	}
	out.WriteString(path)
	if encoded := merged.Encode(); encoded != "" {
		out.WriteByte('?')
		out.WriteString(encoded)
	}
	return out.String(), nil
}

// paramString renders a single parameter value as a path segment.
func paramString(value any) (string, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", ErrBadParamValue
	}
	return s, nil
}

// queryStrings renders a query value, fanning slices out into repeated
// values.
func queryStrings(value any) ([]string, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, err := cast.ToStringE(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}
