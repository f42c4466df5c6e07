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

package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeNilIsEmpty204(t *testing.T) {
	t.Parallel()

	resp, err := Materialize(nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestMaterializeText(t *testing.T) {
	t.Parallel()

	resp, err := Materialize(Text("hello"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "hello", string(resp.Body))
}

func TestMaterializeJSON(t *testing.T) {
	t.Parallel()

	resp, err := Materialize(JSON(map[string]int{"n": 1}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, string(resp.Body))
}

func TestMaterializeJSONFailure(t *testing.T) {
	t.Parallel()

	_, err := Materialize(JSON(make(chan int)))
	require.Error(t, err)
}

func TestMaterializeRaw(t *testing.T) {
	t.Parallel()

	resp, err := Materialize(Raw([]byte{0x1, 0x2}, ""))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	resp, err = Materialize(Raw([]byte("<xml/>"), "application/xml"))
	require.NoError(t, err)
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
}

func TestMaterializeResponsePreservesHeaders(t *testing.T) {
	t.Parallel()

	in := NewResponse(http.StatusCreated).
		WithHeader("Location", "/posts/9").
		WithText("created")

	resp, err := Materialize(in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/posts/9", resp.Header.Get("Location"))

	// Coercion must not alias the handler's header map.
	resp.Header.Set("Location", "/elsewhere")
	assert.Equal(t, "/posts/9", in.Header.Get("Location"))
}

func TestMaterializeZeroStatusDefaultsTo200(t *testing.T) {
	t.Parallel()

	resp, err := Materialize(&Response{Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAbortRoundTrip(t *testing.T) {
	t.Parallel()

	err := Abort(NewResponse(http.StatusTeapot))
	resp, ok := AsResponse(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	_, ok = AsResponse(assert.AnError)
	assert.False(t, ok)
}
