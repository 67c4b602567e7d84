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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCookiesVersionPathDomain(t *testing.T) {
	cookies := ParseCookies(`$Version=1; foo="bar"; $Path=/; baz=qux`)
	require.Len(t, cookies, 2)

	byName := map[string]Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}

	foo, ok := byName["foo"]
	require.True(t, ok)
	assert.Equal(t, "bar", foo.Value)
	assert.Equal(t, "/", foo.Path)
	assert.Equal(t, 1, foo.Version)

	baz, ok := byName["baz"]
	require.True(t, ok)
	assert.Equal(t, "qux", baz.Value)
}

func TestParseCookiesCommaSeparator(t *testing.T) {
	cookies := ParseCookies("a=1, b=2")
	require.Len(t, cookies, 2)
	assert.Equal(t, "1", cookies[0].Value)
	assert.Equal(t, "2", cookies[1].Value)
}

func TestParseCookiesMalformedYieldsNone(t *testing.T) {
	cookies := ParseCookies(`unterminated="quote`)
	assert.Nil(t, cookies)
}

func TestParseCookiesEmptyHeader(t *testing.T) {
	assert.Nil(t, ParseCookies(""))
}

func TestCookieFormat(t *testing.T) {
	c := Cookie{Name: "sid", Value: "abc123", Path: "/", Secure: true}
	formatted := c.Format()
	assert.Contains(t, formatted, `sid="abc123"`)
	assert.Contains(t, formatted, `Path="/"`)
	assert.Contains(t, formatted, "Secure")
}

func TestUnsetCookieExpiresInPast(t *testing.T) {
	c := unsetCookie("sid")
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "", c.Value)
	assert.True(t, c.Expires.Before(time.Now()))
}

func TestFormatCookiesJoinsWithComma(t *testing.T) {
	cookies := []Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	joined := FormatCookies(cookies)
	assert.Contains(t, joined, `a="1"`)
	assert.Contains(t, joined, `b="2"`)
	assert.Contains(t, joined, ", ")
}
