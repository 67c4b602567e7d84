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
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding"
)

// Handler is invoked exactly once per fully-received request; it may
// read req.Stdin, mutate resp, and optionally close it itself. A panic
// is recovered and treated as a returned error. With
// Config.CatchHandlerExceptions set, an error is logged and the core
// then flushes headers and closes output as on a normal return; without
// it, the error is logged and the connection is closed (the sequential
// dispatcher closes it without flushing the response).
type Handler func(ctx context.Context, req *Request, resp *Response) error

// agent is the per-request state machine: an AwaitParams -> InHandler ->
// Done sub-state machine that owns a bounded mailbox of records. Only
// the multiplexed dispatcher uses agents, running many concurrently;
// the sequential dispatcher drives the same sub-states inline in
// sequentialConn.beginRequest.
type agent struct {
	id       uint16
	stream   *Stream
	enc      encoding.Encoding
	handler  Handler
	logger   *logAdapter
	catchExc bool
	keepConn bool

	mailbox chan *Record // fed by the dispatcher; never drop, always block
	done    chan struct{}

	// fatal holds the handler's error (returned, or a recovered panic)
	// when CatchHandlerExceptions is false; the owning dispatcher closes
	// the connection afterward.
	fatal error
}

func newAgent(id uint16, stream *Stream, enc encoding.Encoding, handler Handler, logger *logAdapter, catchExc bool, mailboxSize int) *agent {
	return &agent{
		id:       id,
		stream:   stream,
		enc:      enc,
		handler:  handler,
		logger:   logger,
		catchExc: catchExc,
		mailbox:  make(chan *Record, mailboxSize),
		done:     make(chan struct{}),
	}
}

// deliver routes a record to this agent's mailbox, blocking until there
// is room. This bounds memory instead of growing an unbounded queue: a
// slow or stuck handler throttles its own connection's reader, and no
// record for a known request id is ever dropped.
func (a *agent) deliver(ctx context.Context, rec *Record) {
	select {
	case a.mailbox <- rec:
	case <-ctx.Done():
	}
}

// close tears the mailbox down, e.g. because the connection died before
// the agent finished. InputBuffer.Get surfaces this as
// ErrBufferIsClosed to any handler still blocked reading Stdin.
func (a *agent) close() {
	close(a.mailbox)
}

// run drives the agent to completion: accumulate Params, construct the
// Request/Response pair, invoke the handler, forward Stdin/AbortRequest
// traffic while the handler runs, and finalize the response. It returns
// once EndRequest has been sent (or the connection died first).
func (a *agent) run(ctx context.Context) {
	defer close(a.done)

	paramsBuf, ok := a.awaitParams(ctx)
	if !ok {
		return // connection died before Params completed; nothing to send
	}

	closed := &closedCell{}
	stdinCh := make(chan stdinChunk, 8)
	stdin := newInputBuffer(stdinCh, closed)
	resp := newResponse(a.id, a.stream, closed)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req := newRequest(a.id, paramsBuf, a.enc, stdin, resp)

	handlerDone := make(chan error, 1)
	go a.invokeHandler(reqCtx, req, resp, handlerDone)

	a.pumpUntilDone(reqCtx, cancel, stdinCh, handlerDone)
	close(stdinCh)

	a.finalize(resp)
}

// awaitParams accumulates Params record content until the terminating
// empty Params record arrives. Stdin or AbortRequest records seen before
// then are protocol violations and are logged and dropped; the mailbox
// closing early (ok=false) means the connection died mid-handshake.
func (a *agent) awaitParams(ctx context.Context) (buf []byte, ok bool) {
	for {
		select {
		case rec, open := <-a.mailbox:
			if !open {
				return nil, false
			}
			switch rec.Type {
			case TypeParams:
				if len(rec.Content) == 0 {
					return buf, true
				}
				buf = append(buf, rec.Content...)
			default:
				a.logger.Tracef("request %d: %v: ignoring %s record while awaiting params", a.id, ErrProtocolViolation, rec.Type)
			}
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (a *agent) invokeHandler(ctx context.Context, req *Request, resp *Response, done chan<- error) {
	defer func() {
		if rec := recover(); rec != nil {
			done <- fmt.Errorf("fcgi: handler panic: %v", rec)
			return
		}
	}()
	done <- a.handler(ctx, req, resp)
}

// pumpUntilDone forwards Stdin content to stdinCh and reacts to
// AbortRequest while the handler goroutine is running, stopping as soon
// as the handler finishes (or the connection dies).
func (a *agent) pumpUntilDone(ctx context.Context, cancel context.CancelFunc, stdinCh chan<- stdinChunk, handlerDone <-chan error) {
	for {
		select {
		case err := <-handlerDone:
			if err != nil && !a.catchExc {
				a.fatal = err
			} else if err != nil {
				a.logger.Errorf("request %d: handler error: %v", a.id, err)
			}
			return
		case rec, open := <-a.mailbox:
			if !open {
				return
			}
			a.routeInHandlerRecord(ctx, cancel, rec, stdinCh)
		case <-ctx.Done():
			return
		}
	}
}

// routeInHandlerRecord forwards one record arriving while the handler is
// running. AbortRequest cancels the request context directly: any
// handler blocked in InputBuffer.Get/GetAll observes ctx.Done()
// immediately. A handler that isn't reading Stdin at all cannot be
// preempted (Go has no forcible goroutine cancellation); it keeps
// running, but pumpUntilDone stops on the canceled context and the
// response is finalized without waiting for it, so its later sends fail
// with ErrOutputAlreadyClosed.
func (a *agent) routeInHandlerRecord(ctx context.Context, cancel context.CancelFunc, rec *Record, stdinCh chan<- stdinChunk) {
	switch rec.Type {
	case TypeStdin:
		chunk := stdinChunk{eof: len(rec.Content) == 0}
		if !chunk.eof {
			chunk.data = rec.Content
			a.logger.Tracef("request %d: stdin +%s", a.id, humanize.IBytes(uint64(len(chunk.data))))
		}
		select {
		case stdinCh <- chunk:
		case <-ctx.Done():
		}
	case TypeAbortRequest:
		a.logger.Tracef("request %d: aborted by server", a.id)
		cancel()
	default:
		a.logger.Tracef("request %d: ignoring %s record during handler", a.id, rec.Type)
	}
}

// finalize ensures headers are sent and output is closed once the
// handler has returned: on return, the core flushes headers if unsent
// and closes output if still open.
func (a *agent) finalize(resp *Response) {
	if !resp.Closed() {
		if err := resp.CloseOutput(); err != nil {
			a.logger.Errorf("request %d: closing output: %v", a.id, err)
		}
	}
}
