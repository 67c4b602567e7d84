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
	"bufio"
	"io"
	"sync"
)

// Stream converts a byte stream (typically a net.Conn, but anything
// satisfying io.Reader/io.Writer works, which is what the test suite
// exercises it with over net.Pipe) into a lazy sequence of complete
// FastCGI records, and serializes writes back onto it.
//
// RecvRecord must not be called concurrently with itself -- the
// dispatcher owns the single reader goroutine. SendRecord may be called
// from several goroutines at once: writes are serialized through the
// mutex below one record at a time, so concurrent SendBuffer calls may
// interleave their records.
type Stream struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex // serializes SendRecord/SendBuffer
}

// NewStream wraps rw for record-level framing.
func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{r: bufio.NewReaderSize(rw, 4096), w: rw}
}

// RecvRecord reads one complete record. It returns:
//   - (rec, nil) on a full record;
//   - (nil, io.EOF) -- "NoData" in spec.md's terms -- when the peer
//     closed cleanly at a record boundary, or any read came back short;
//   - (nil, ErrUnknownVersion) when the header's version byte isn't 1;
//     this is fatal and the dispatcher must terminate the connection.
func (s *Stream) RecvRecord() (*Record, error) {
	var hb [headerLen]byte
	if _, err := io.ReadFull(s.r, hb[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, io.EOF
	}

	dh, err := decodeHeader(hb[:])
	if err != nil {
		return nil, err
	}

	content := make([]byte, dh.contentLength)
	if dh.contentLength > 0 {
		if _, err := io.ReadFull(s.r, content); err != nil {
			return nil, io.EOF
		}
	}

	if dh.paddingLength > 0 {
		if _, err := io.CopyN(io.Discard, s.r, int64(dh.paddingLength)); err != nil {
			return nil, io.EOF
		}
	}

	rec := &Record{
		Type:          RecordType(dh.typeCode),
		RawType:       dh.typeCode,
		RequestID:     dh.requestID,
		Content:       content,
		PaddingLength: dh.paddingLength,
	}
	return rec, nil
}

// SendRecord writes header then content for a single record, with no
// padding -- the core always emits zero padding, matching spec.md §4.2.
// Concurrent callers on the same Stream are serialized; the caller does
// not need its own lock.
func (s *Stream) SendRecord(t RecordType, requestID uint16, content []byte) error {
	if len(content) > maxContentLength {
		panic("fcgi: SendRecord content exceeds 65535 bytes; caller must fragment")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hb := encodeHeader(t, requestID, len(content))
	if _, err := s.w.Write(hb[:]); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := s.w.Write(content); err != nil {
			return err
		}
	}
	return nil
}

// SendBuffer fragments data into records of type t, each carrying up to
// 65535 bytes, preserving byte order. A zero-length data produces no
// records: stream-typed records (Stdout, Stdin) signal end-of-stream
// with an explicit empty record sent by the caller, not implicitly here.
func (s *Stream) SendBuffer(t RecordType, requestID uint16, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxContentLength {
			n = maxContentLength
		}
		if err := s.SendRecord(t, requestID, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
