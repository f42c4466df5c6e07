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
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAbsoluteURL(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(WithHTTPBase("https://h"))
	require.NoError(t, err)

	got, err := b.URL("/bookmarks/:id", map[string]any{"id": "9", "q": "z"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://h/bookmarks/9?q=z", got)
}

func TestBuilderRelativeWithoutBase(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder()
	require.NoError(t, err)

	got, err := b.URL("/bookmarks/:id", map[string]any{"id": "9"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/bookmarks/9", got)
}

func TestBuilderExcessParamsBecomeQuery(t *testing.T) {
	t.Parallel()

	b, _ := NewBuilder()

	got, err := b.URL("/posts/:id", map[string]any{"id": 7, "page": 2, "sort": "asc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/posts/7?page=2&sort=asc", got)
}

func TestBuilderExplicitQueryWins(t *testing.T) {
	t.Parallel()

	b, _ := NewBuilder()

	got, err := b.URL("/posts/:id",
		map[string]any{"id": 7, "page": 2},
		url.Values{"page": {"9"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "/posts/7?page=9", got)
}

func TestBuilderSliceValuesRepeatKeys(t *testing.T) {
	t.Parallel()

	b, _ := NewBuilder()

	got, err := b.URL("/search", map[string]any{"tag": []string{"a", "b"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/search?tag=a&tag=b", got)
}

func TestBuilderWSBase(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(WithWSBase("wss://ws.example.com"))
	require.NoError(t, err)

	got, err := b.WSURL("/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://ws.example.com/", got)
}

func TestBuilderRejectsBadBase(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder(WithHTTPBase("not a url"))
	assert.ErrorIs(t, err, ErrInvalidBaseURL)

	_, err = NewBuilder(WithHTTPBase("/relative/only"))
	assert.ErrorIs(t, err, ErrInvalidBaseURL)
}

func TestBuilderTrailingSlashBase(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(WithHTTPBase("https://h/"))
	require.NoError(t, err)

	got, err := b.URL("/a/:x", map[string]any{"x": "1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://h/a/1", got)
}
