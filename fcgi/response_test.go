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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResponse(t *testing.T) (*Response, *Stream) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	resp := newResponse(1, NewStream(server), &closedCell{})
	return resp, NewStream(client)
}

func drainOneRecord(t *testing.T, s *Stream) *Record {
	t.Helper()
	rec, err := s.RecvRecord()
	require.NoError(t, err)
	return rec
}

func TestResponsePutSendsHeadersThenBody(t *testing.T) {
	resp, client := newTestResponse(t)

	done := make(chan error, 1)
	go func() { done <- resp.Put([]byte("ok")) }()

	rec := drainOneRecord(t, client)
	assert.Equal(t, TypeStdout, rec.Type)
	assert.Contains(t, string(rec.Content), "Status: 200\r\n")
	assert.Contains(t, string(rec.Content), "Content-Type: text/html; charset=utf-8\r\n")
	assert.Contains(t, string(rec.Content), "\r\n\r\nok")

	require.NoError(t, <-done)
}

func TestResponseHeaderMutatorsFailAfterHeadersSent(t *testing.T) {
	resp, client := newTestResponse(t)

	done := make(chan error, 1)
	go func() { done <- resp.SendHeaders() }()
	drainOneRecord(t, client)
	require.NoError(t, <-done)

	assert.ErrorIs(t, resp.SetStatus(404), ErrHeadersAlreadySent)
	assert.ErrorIs(t, resp.SetHeader("X-Foo", "bar"), ErrHeadersAlreadySent)
	assert.ErrorIs(t, resp.UnsetHeader("X-Foo"), ErrHeadersAlreadySent)
	assert.ErrorIs(t, resp.SetCookie(Cookie{Name: "a", Value: "b"}), ErrHeadersAlreadySent)
	assert.ErrorIs(t, resp.UnsetCookie("a"), ErrHeadersAlreadySent)
}

func TestResponseCloseOutputThenOperationsFail(t *testing.T) {
	resp, client := newTestResponse(t)

	done := make(chan error, 1)
	go func() { done <- resp.CloseOutput() }()

	drainOneRecord(t, client) // Stdout headers
	drainOneRecord(t, client) // empty Stdout
	endRec := drainOneRecord(t, client)
	assert.Equal(t, TypeEndRequest, endRec.Type)
	assert.Equal(t, StatusRequestComplete, endRec.Content[4])

	require.NoError(t, <-done)

	assert.ErrorIs(t, resp.SendHeaders(), ErrOutputAlreadyClosed)
	assert.ErrorIs(t, resp.Put(nil), ErrOutputAlreadyClosed)
	assert.ErrorIs(t, resp.CloseOutput(), ErrOutputAlreadyClosed)
	assert.True(t, resp.Closed())
}

func TestResponseSetCookieProducesSetCookieLine(t *testing.T) {
	resp, client := newTestResponse(t)
	require.NoError(t, resp.SetCookie(Cookie{Name: "sid", Value: "xyz"}))

	done := make(chan error, 1)
	go func() { done <- resp.SendHeaders() }()
	rec := drainOneRecord(t, client)
	require.NoError(t, <-done)

	assert.Contains(t, string(rec.Content), `Set-Cookie: sid="xyz"`)
}

func TestResponseExplicitSetCookieHeaderOverridesTable(t *testing.T) {
	resp, client := newTestResponse(t)
	require.NoError(t, resp.SetCookie(Cookie{Name: "sid", Value: "xyz"}))
	require.NoError(t, resp.SetHeader("Set-Cookie", "raw=value"))

	done := make(chan error, 1)
	go func() { done <- resp.SendHeaders() }()
	rec := drainOneRecord(t, client)
	require.NoError(t, <-done)

	content := string(rec.Content)
	assert.Contains(t, content, "Set-Cookie: raw=value\r\n")
	assert.NotContains(t, content, "sid")
}

func TestResponseAppStatusReportedInEndRequest(t *testing.T) {
	resp, client := newTestResponse(t)
	resp.AppStatus = 7

	done := make(chan error, 1)
	go func() { done <- resp.CloseOutput() }()

	drainOneRecord(t, client)
	drainOneRecord(t, client)
	endRec := drainOneRecord(t, client)
	require.NoError(t, <-done)

	appStatus := int32(endRec.Content[0])<<24 | int32(endRec.Content[1])<<16 | int32(endRec.Content[2])<<8 | int32(endRec.Content[3])
	assert.Equal(t, int32(7), appStatus)
}
