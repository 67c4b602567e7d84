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

import "context"

// stdinChunk is one unit of data pushed into an InputBuffer by the
// request's agent (multiplexed) or the sequential dispatcher. eof marks the empty Stdin record that terminates the
// stream; data is nil in that case.
type stdinChunk struct {
	data []byte
	eof  bool
}

// InputBuffer is the lazy byte source backed by Stdin records, pulled on
// demand from the connection through a channel fed by the owning agent
// (multiplexed) or by the sequential dispatcher (spec.md §4.3). It is only ever used from the goroutine running the request
// handler, so it needs no internal locking.
type InputBuffer struct {
	buf     []byte
	offset  int
	allRead bool

	ch     <-chan stdinChunk
	closed *closedCell // shared with the paired Response; see response.go
}

func newInputBuffer(ch <-chan stdinChunk, closed *closedCell) *InputBuffer {
	return &InputBuffer{ch: ch, closed: closed}
}

// pullOne blocks for the next Stdin chunk (or ctx cancellation), folding
// it into buf/allRead. It returns an error if the input buffer's mailbox
// was torn down before an end-of-stream marker arrived.
func (ib *InputBuffer) pullOne(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case chunk, ok := <-ib.ch:
		if !ok {
			return ErrBufferIsClosed
		}
		if chunk.eof {
			ib.allRead = true
			return nil
		}
		ib.buf = append(ib.buf, chunk.data...)
		return nil
	}
}

// Get returns up to n unread bytes, blocking to pull further Stdin
// records only if fewer than n are already buffered and end-of-input
// hasn't arrived yet. It never returns more than n bytes. Per spec.md's
// invariant, Get returning fewer than n bytes is only possible once
// all_read is true.
func (ib *InputBuffer) Get(ctx context.Context, n int) ([]byte, error) {
	if ib.closed.isClosed() {
		return nil, ErrOutputAlreadyClosed
	}
	for ib.available() < n && !ib.allRead {
		if err := ib.pullOne(ctx); err != nil {
			return nil, err
		}
	}
	take := n
	if avail := ib.available(); take > avail {
		take = avail
	}
	out := ib.buf[ib.offset : ib.offset+take]
	ib.offset += take
	return out, nil
}

// GetAll pulls Stdin records until end-of-input, then returns every
// unread byte.
func (ib *InputBuffer) GetAll(ctx context.Context) ([]byte, error) {
	if ib.closed.isClosed() {
		return nil, ErrOutputAlreadyClosed
	}
	for !ib.allRead {
		if err := ib.pullOne(ctx); err != nil {
			return nil, err
		}
	}
	out := ib.buf[ib.offset:]
	ib.offset = len(ib.buf)
	return out, nil
}

func (ib *InputBuffer) available() int {
	return len(ib.buf) - ib.offset
}
