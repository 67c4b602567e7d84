// Copyright 2015 Matthew Holt and The Caddy Authors
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

package fcgi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, vars map[string]string) *Request {
	t.Helper()
	pairs := make([]NVPair, 0, len(vars))
	for k, v := range vars {
		pairs = append(pairs, NVPair{Name: k, Value: v})
	}
	buf := encodeNVPairs(pairs, nil)
	closed := &closedCell{}
	stdin := newInputBuffer(make(chan stdinChunk), closed)
	return newRequest(1, buf, nil, stdin, nil)
}

func TestRequestHeaderCanonicalization(t *testing.T) {
	req := newTestRequest(t, map[string]string{
		"HTTP_HOST":            "example.com",
		"HTTP_X_CUSTOM_HEADER": "value",
	})

	host, ok := req.Header("Host")
	require.True(t, ok)
	assert.Equal(t, "example.com", host)

	custom, ok := req.Header("X-Custom-Header")
	require.True(t, ok)
	assert.Equal(t, "value", custom)
}

func TestRequestCookiesDerivedFromCookieHeader(t *testing.T) {
	req := newTestRequest(t, map[string]string{
		"HTTP_COOKIE": `$Version=1; foo="bar"; $Path=/; baz=qux`,
	})

	foo, ok := req.Cookie("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", foo.Value)
	assert.Equal(t, "/", foo.Path)
	assert.Equal(t, 1, foo.Version)

	baz, ok := req.Cookie("baz")
	require.True(t, ok)
	assert.Equal(t, "qux", baz.Value)
}

func TestRequestCGIConvenienceAccessors(t *testing.T) {
	req := newTestRequest(t, map[string]string{
		"REQUEST_METHOD": "GET",
		"QUERY_STRING":   "a=1",
		"SCRIPT_NAME":    "/index.php",
		"CONTENT_LENGTH": "42",
		"SERVER_PORT":    "8080",
		"REMOTE_ADDR":    "10.0.0.1",
	})

	assert.Equal(t, "GET", req.RequestMethod())
	assert.Equal(t, "a=1", req.QueryString())
	assert.Equal(t, "/index.php", req.ScriptName())

	n, ok := req.ContentLength()
	require.True(t, ok)
	assert.EqualValues(t, 42, n)

	port, ok := req.ServerPort()
	require.True(t, ok)
	assert.EqualValues(t, 8080, port)

	addr, ok := req.RemoteAddr()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", addr.String())
}

func TestRequestCGIAccessorsAbsentOnMalformed(t *testing.T) {
	req := newTestRequest(t, map[string]string{
		"CONTENT_LENGTH": "not-a-number",
		"SERVER_PORT":    "not-a-port",
		"REMOTE_ADDR":    "not-an-ip",
	})

	_, ok := req.ContentLength()
	assert.False(t, ok)

	_, ok = req.ServerPort()
	assert.False(t, ok)

	_, ok = req.RemoteAddr()
	assert.False(t, ok)

	_, ok = req.Variable("MISSING")
	assert.False(t, ok)
}

func TestRequestLastWriteWinsOnDuplicateVariableNames(t *testing.T) {
	pairs := []NVPair{
		{Name: "HTTP_X_DUP", Value: "first"},
		{Name: "HTTP_X_DUP", Value: "second"},
	}
	buf := encodeNVPairs(pairs, nil)
	closed := &closedCell{}
	stdin := newInputBuffer(make(chan stdinChunk), closed)
	req := newRequest(1, buf, nil, stdin, nil)

	v, ok := req.Header("X-Dup")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}
