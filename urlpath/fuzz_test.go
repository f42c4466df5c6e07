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

//go:build !integration

package urlpath

import (
	"strings"
	"testing"
)

// FuzzParse ensures template parsing never panics and that every accepted
// template round-trips through its own canonical form.
func FuzzParse(f *testing.F) {
	f.Add("/")
	f.Add("")
	f.Add("/posts/:id")
	f.Add("/posts/[id]")
	f.Add("/files/[...path]")
	f.Add("/files/:path*")
	f.Add("/a/:x/b/:y")
	f.Add("//")
	f.Add("/a//b")
	f.Add("/a/:x/:x")
	f.Add("/a/[x")
	f.Add("/:")
	f.Add("/[...]")
	f.Add("/a/:rest*/b")
	f.Add(strings.Repeat("/a", 100))

	f.Fuzz(func(t *testing.T, template string) {
		tmpl, err := Parse(template)
		if err != nil {
			return
		}

		// A canonical form must re-parse to itself.
		again, err := Parse(tmpl.String())
		if err != nil {
			t.Fatalf("canonical form %q of %q failed to re-parse: %v", tmpl.String(), template, err)
		}
		if again.String() != tmpl.String() {
			t.Fatalf("canonical form not stable: %q -> %q", tmpl.String(), again.String())
		}
	})
}

// FuzzMatch ensures matching never panics for arbitrary paths.
func FuzzMatch(f *testing.F) {
	f.Add("/posts/:id", "/posts/42")
	f.Add("/files/:p*", "/files/a/b/c")
	f.Add("/", "/")
	f.Add("/a/:x", "//")
	f.Add("/a/:x", "/a/%zz")

	f.Fuzz(func(t *testing.T, template, path string) {
		tmpl, err := Parse(template)
		if err != nil {
			return
		}

		params, ok := tmpl.Match(path)
		if ok && params == nil {
			t.Fatalf("match of %q against %q reported ok with nil params", path, template)
		}
	})
}
