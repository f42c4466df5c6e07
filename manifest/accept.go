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
	"net/http"
	"sort"
	"strings"
)

// MethodSet is the set of HTTP methods a route accepts. A nil set accepts
// every method.
type MethodSet map[string]struct{}

// NewMethodSet builds a method set from config values. Methods normalize
// to upper case and "del" to DELETE. A "*" entry, or no entries, yields
// the accept-everything set.
func NewMethodSet(methods ...string) MethodSet {
	if len(methods) == 0 {
		return nil
	}
	set := make(MethodSet, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		switch m {
		case "":
			continue
		case "*":
			return nil
		case "DEL":
			m = http.MethodDelete
		}
		set[m] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// All reports whether the set accepts every method.
func (s MethodSet) All() bool { return len(s) == 0 }

// Allows reports whether method is in the set. The HEAD→GET fallthrough
// is engine policy, not set membership.
func (s MethodSet) Allows(method string) bool {
	if s.All() {
		return true
	}
	_, ok := s[strings.ToUpper(method)]
	return ok
}

// List returns the methods in sorted order, or ["*"] for the
// accept-everything set. The result backs the Access-Control-Allow-Methods
// and Allow headers.
func (s MethodSet) List() []string {
	if s.All() {
		return []string{"*"}
	}
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// AcceptSet is the set of request media types a module accepts, matched
// exactly ("application/json") or by family ("text/*"). The zero value
// accepts every type.
type AcceptSet struct {
	patterns []string
}

// NewAcceptSet builds an accept set from config values. Patterns
// normalize to lower case; "*" and "*/*" yield the accept-everything set.
func NewAcceptSet(patterns ...string) AcceptSet {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch p {
		case "":
			continue
		case "*", "*/*":
			return AcceptSet{}
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return AcceptSet{patterns: out}
}

// All reports whether the set accepts every media type.
func (s AcceptSet) All() bool { return len(s.patterns) == 0 }

// Accepts matches the primary media token, already normalized the way
// Request.ContentType normalizes it. An empty token only passes the
// accept-everything set.
func (s AcceptSet) Accepts(mediaType string) bool {
	if s.All() {
		return true
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, pattern := range s.patterns {
		if matchMediaType(pattern, mediaType) {
			return true
		}
	}
	return false
}

// Patterns returns the normalized patterns, empty for accept-everything.
func (s AcceptSet) Patterns() []string { return s.patterns }

// matchMediaType tests one pattern against a concrete media type.
// Patterns are either exact or a "type/*" family.
func matchMediaType(pattern, mediaType string) bool {
	if family, ok := strings.CutSuffix(pattern, "/*"); ok {
		primary, _, found := strings.Cut(mediaType, "/")
		return found && primary == family
	}
	return pattern == mediaType
}
