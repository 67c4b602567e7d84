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
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitWriter wraps an io.Writer and issues the underlying Write calls
// in arbitrary-sized chunks, used to prove RecvRecord reassembles a
// record regardless of where the underlying read boundaries fall
// (spec.md §8's split-point invariant).
type splitWriter struct {
	w         io.Writer
	chunkSize int
}

func (sw splitWriter) writeAll(b []byte) error {
	for len(b) > 0 {
		n := sw.chunkSize
		if n > len(b) {
			n = len(b)
		}
		if _, err := sw.w.Write(b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func TestRecvRecordAcrossArbitrarySplitPoints(t *testing.T) {
	hb := encodeHeader(TypeStdout, 1, 5)
	var wire bytes.Buffer
	wire.Write(hb[:])
	wire.WriteString("hello")

	for _, chunkSize := range []int{1, 2, 3, 7, 64} {
		client, server := net.Pipe()
		sw := splitWriter{w: client, chunkSize: chunkSize}

		go func() {
			_ = sw.writeAll(wire.Bytes())
			client.Close()
		}()

		s := NewStream(server)
		rec, err := s.RecvRecord()
		require.NoError(t, err)
		assert.Equal(t, TypeStdout, rec.Type)
		assert.Equal(t, uint16(1), rec.RequestID)
		assert.Equal(t, []byte("hello"), rec.Content)
	}
}

func TestRecvRecordNoDataOnShortHeader(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		client.Write([]byte{1, 2, 3})
		client.Close()
	}()

	s := NewStream(server)
	_, err := s.RecvRecord()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecvRecordUnknownVersion(t *testing.T) {
	hb := encodeHeader(TypeStdout, 1, 0)
	hb[0] = 9

	client, server := net.Pipe()
	go func() {
		client.Write(hb[:])
		client.Close()
	}()

	s := NewStream(server)
	_, err := s.RecvRecord()
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestSendRecordPanicsOnOversizeContent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	assert.Panics(t, func() {
		_ = s.SendRecord(TypeStdout, 1, make([]byte, maxContentLength+1))
	})
}

func TestSendBufferFragmentsAndPreservesOrder(t *testing.T) {
	client, server := net.Pipe()
	data := bytes.Repeat([]byte("x"), 100000)

	done := make(chan error, 1)
	go func() {
		s := NewStream(server)
		done <- s.SendBuffer(TypeStdout, 1, data)
	}()

	clientStream := NewStream(client)
	var got []byte
	for len(got) < len(data) {
		rec, err := clientStream.RecvRecord()
		require.NoError(t, err)
		require.Equal(t, TypeStdout, rec.Type)
		got = append(got, rec.Content...)
	}

	require.NoError(t, <-done)
	assert.Equal(t, data, got)
}

func TestSendBufferEmptyProducesNoRecords(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	require.NoError(t, s.SendBuffer(TypeStdout, 1, nil))

	// Prove nothing was written: send a follow-up record and expect it
	// to be the very first thing the peer reads.
	done := make(chan error, 1)
	go func() { done <- s.SendRecord(TypeEndRequest, 1, nil) }()

	clientStream := NewStream(client)
	rec, err := clientStream.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, TypeEndRequest, rec.Type)
	require.NoError(t, <-done)
}
