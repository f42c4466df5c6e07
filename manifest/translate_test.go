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

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteTemplateFromSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"plain", "api/about.go", "/about"},
		{"index collapses", "api/index.go", "/"},
		{"nested index collapses", "api/posts/index.go", "/posts"},
		{"bracket param", "api/posts/[id].go", "/posts/:id"},
		{"colon is not special in filenames", "api/posts/[id].ts", "/posts/:id"},
		{"catch-all", "api/blog/[...slug].go", "/blog/:slug*"},
		{"dot nesting", "api/posts.[id].go", "/posts/:id"},
		{"dot nesting deep", "api/posts.[id].comments.go", "/posts/:id/comments"},
		{"leading slash tolerated", "/api/about.go", "/about"},
		{"no extension", "api/about", "/about"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tmpl, err := RouteTemplateFromSource(tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tmpl.String())
		})
	}
}

func TestRouteTemplateFromSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{"outside api", "handlers/about.go", ErrOutsideLayout},
		{"reserved segment", "api/_private/x.go", ErrReservedPath},
		{"reserved file", "api/_helpers.go", ErrReservedPath},
		{"bad segment", "api/a b.go", nil},
		{"duplicate params", "api/[x]/[x].go", nil},
		{"catch-all not last", "api/[...rest]/x.go", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := RouteTemplateFromSource(tt.source)
			require.Error(t, err)

			var mErr *Error
			require.ErrorAs(t, err, &mErr, "manifest errors carry the filename")
			assert.NotEmpty(t, mErr.File)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestQueueNameFromSource(t *testing.T) {
	t.Parallel()

	name, fifo, err := QueueNameFromSource("queues/mail.go")
	require.NoError(t, err)
	assert.Equal(t, "mail", name)
	assert.False(t, fifo)

	name, fifo, err = QueueNameFromSource("queues/tasks.fifo.go")
	require.NoError(t, err)
	assert.Equal(t, "tasks.fifo", name)
	assert.True(t, fifo)

	name, _, err = QueueNameFromSource("queues/snake_case-2")
	require.NoError(t, err)
	assert.Equal(t, "snake_case-2", name)
}

func TestQueueNameFromSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{"outside queues", "api/mail.go", ErrOutsideLayout},
		{"nested", "queues/deep/mail.go", ErrOutsideLayout},
		{"reserved", "queues/_mail.go", ErrReservedPath},
		{"bad char", "queues/ma il.go", ErrInvalidQueueName},
		{"dots beyond fifo", "queues/a.b.c.go", ErrInvalidQueueName},
		{"too long", "queues/a234567890123456789012345678901234567890xyz.go", ErrInvalidQueueName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := QueueNameFromSource(tt.source)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
