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
	"errors"
	"io"
)

// connState is the per-connection state: a keep_connection flag taken
// from BeginRequest (the sequential dispatcher updates it on every
// request and closes the connection after a request that cleared it;
// the multiplexed dispatcher records it from a BeginRequest that finds
// no other request live, and does not act on it), and a
// closed flag set once the dispatcher has decided to wind the
// connection down on its own initiative (as opposed to the peer simply
// disconnecting). Everything else -- the current request id and param
// buffer (sequential) or the id->agent map (multiplex) -- lives in the
// dispatcher that owns this connState, not here.
type connState struct {
	keepConn bool
	closed   bool
}

// replyGetValues answers a GetValues management record with a
// GetValuesResult carrying only the well-known keys the request asked
// about, among FCGI_MAX_CONNS/FCGI_MAX_REQS/FCGI_MPXS_CONNS. Keys the
// request didn't ask for, or that aren't configured, are omitted rather
// than sent empty.
func replyGetValues(stream *Stream, rec *Record, cfg *Config) error {
	queried := decodeNVPairs(rec.Content, nil)
	known := map[string]string{
		"FCGI_MAX_CONNS":  cfg.FCGIMaxConns,
		"FCGI_MAX_REQS":   cfg.FCGIMaxReqs,
		"FCGI_MPXS_CONNS": cfg.FCGIMpxsConns,
	}

	var out []NVPair
	for _, q := range queried {
		v, ok := known[q.Name]
		if !ok || v == "" {
			continue
		}
		out = append(out, NVPair{Name: q.Name, Value: v})
	}

	body := encodeNVPairs(out, nil)
	return stream.SendRecord(TypeGetValuesResult, 0, body)
}

// replyUnknownType answers any record of a type this package doesn't
// recognize with an UnknownType reply carrying the original type byte
// in content[0].
func replyUnknownType(stream *Stream, rec *Record) error {
	body := make([]byte, 8)
	body[0] = rec.RawType
	return stream.SendRecord(TypeUnknownType, 0, body)
}

// handleManagementRecord answers rec if it's a management record
// (GetValues, or any record type this package doesn't recognize) and
// reports whether it did, so the caller can skip further routing.
func handleManagementRecord(stream *Stream, rec *Record, cfg *Config) (handled bool, err error) {
	switch rec.Type {
	case TypeGetValues:
		return true, replyGetValues(stream, rec, cfg)
	case TypeGetValuesResult, TypeBeginRequest, TypeAbortRequest, TypeEndRequest,
		TypeParams, TypeStdin, TypeStdout, TypeStderr, TypeData:
		return false, nil
	default:
		return true, replyUnknownType(stream, rec)
	}
}

// connReader runs RecvRecord in a loop on its own goroutine for the
// whole lifetime of a connection and republishes results on a channel,
// so that every layer of the dispatcher (idle loop, AwaitParams,
// in-handler pump) can select between "next record" and other events
// without ever issuing a second concurrent RecvRecord call -- Stream
// explicitly forbids that.
type connReader struct {
	recs chan *Record
	errs chan error
}

func newConnReader(stream *Stream) *connReader {
	cr := &connReader{recs: make(chan *Record), errs: make(chan error, 1)}
	go func() {
		for {
			rec, err := stream.RecvRecord()
			if err != nil {
				cr.errs <- err
				return
			}
			cr.recs <- rec
		}
	}()
	return cr
}

// sequentialConn drives the non-multiplexed per-connection state
// machine spec.md §4.7 describes: Idle -> AwaitParams -> InHandler ->
// Idle, one request at a time on a shared Stream.
type sequentialConn struct {
	stream  *Stream
	cfg     *Config
	logger  *logAdapter
	handler Handler
	reader  *connReader
	state   connState
}

func newSequentialConn(stream *Stream, cfg *Config, logger *logAdapter, handler Handler) *sequentialConn {
	return &sequentialConn{
		stream:  stream,
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		reader:  newConnReader(stream),
	}
}

// run drives the connection until the peer closes it, a fatal framing
// error occurs, or keep_connection is false and a request completes.
func (c *sequentialConn) run(ctx context.Context) {
	for {
		rec, ok := c.next(ctx)
		if !ok {
			return
		}

		if handled, err := handleManagementRecord(c.stream, rec, c.cfg); handled {
			if err != nil {
				c.logger.Errorf("connection: management reply: %v", err)
				return
			}
			continue
		}

		if rec.Type == TypeBeginRequest {
			if !c.beginRequest(ctx, rec) {
				return
			}
			continue
		}

		c.logger.Tracef("connection: %v: ignoring %s record outside a request", ErrProtocolViolation, rec.Type)
	}
}

// next waits for the reader goroutine's next record or error,
// translating the latter into a logged outcome and ok=false.
func (c *sequentialConn) next(ctx context.Context) (*Record, bool) {
	select {
	case rec := <-c.reader.recs:
		return rec, true
	case err := <-c.reader.errs:
		switch {
		case errors.Is(err, ErrUnknownVersion):
			c.logger.Errorf("connection: %v", err)
		case errors.Is(err, io.EOF):
			c.logger.Tracef("connection: peer closed")
		default:
			c.logger.Errorf("connection: %v", err)
		}
		return nil, false
	case <-ctx.Done():
		c.state.closed = true
		return nil, false
	}
}

// beginRequest handles one full request lifecycle inline: role
// rejection, AwaitParams accumulation, handler invocation, and the
// final flush. It returns false when the connection must close.
func (c *sequentialConn) beginRequest(ctx context.Context, begin *Record) bool {
	if len(begin.Content) < 4 {
		c.logger.Errorf("connection: short BeginRequest body")
		return false
	}
	role := Role(uint16(begin.Content[0])<<8 | uint16(begin.Content[1]))
	flags := begin.Content[2]
	id := begin.RequestID

	if role != RoleResponder {
		if err := c.endRequest(id, StatusUnknownRole, 0); err != nil {
			c.logger.Errorf("connection: %v", err)
			return false
		}
		return true
	}

	c.state.keepConn = flags&FlagKeepConn != 0

	paramsBuf, ok := c.awaitParams(ctx, id)
	if !ok {
		return false
	}

	closed := &closedCell{}
	stdinCh := make(chan stdinChunk, 8)
	stdin := newInputBuffer(stdinCh, closed)
	resp := newResponse(id, c.stream, closed)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req := newRequest(id, paramsBuf, c.cfg.encodingOrDefault(), stdin, resp)

	handlerDone := make(chan error, 1)
	go c.invokeHandler(reqCtx, req, resp, handlerDone)

	ok = c.pumpRequest(reqCtx, cancel, id, stdinCh, handlerDone)
	close(stdinCh)
	if !ok {
		return false
	}

	if !resp.Closed() {
		if err := resp.CloseOutput(); err != nil {
			c.logger.Errorf("connection: closing output: %v", err)
			return false
		}
	}

	return c.state.keepConn
}

func (c *sequentialConn) invokeHandler(ctx context.Context, req *Request, resp *Response, done chan<- error) {
	defer func() {
		if rec := recover(); rec != nil {
			done <- errors.New("fcgi: handler panic")
		}
	}()
	done <- c.handler(ctx, req, resp)
}

// awaitParams reads records until the terminating empty Params record,
// ignoring (with a log) anything that isn't Params for this id -- a
// protocol violation by the upstream server, not fatal, per spec.md
// §4.7's AwaitParams+Stdin transition.
func (c *sequentialConn) awaitParams(ctx context.Context, id uint16) (buf []byte, ok bool) {
	for {
		rec, ok := c.next(ctx)
		if !ok {
			return nil, false
		}
		if handled, err := handleManagementRecord(c.stream, rec, c.cfg); handled {
			if err != nil {
				return nil, false
			}
			continue
		}
		if rec.RequestID != id || rec.Type != TypeParams {
			c.logger.Tracef("connection: %v: ignoring %s record while awaiting params", ErrProtocolViolation, rec.Type)
			continue
		}
		if len(rec.Content) == 0 {
			return buf, true
		}
		buf = append(buf, rec.Content...)
	}
}

// pumpRequest forwards Stdin to the handler and reacts to AbortRequest
// while it runs, stopping once the handler finishes or the connection
// dies.
func (c *sequentialConn) pumpRequest(ctx context.Context, cancel context.CancelFunc, id uint16, stdinCh chan<- stdinChunk, handlerDone <-chan error) bool {
	for {
		select {
		case err := <-handlerDone:
			if err != nil && !c.cfg.CatchHandlerExceptions {
				c.logger.Errorf("request %d: fatal handler error: %v", id, err)
				return false
			}
			if err != nil {
				c.logger.Errorf("request %d: handler error: %v", id, err)
			}
			return true
		case rec := <-c.reader.recs:
			if handled, err := handleManagementRecord(c.stream, rec, c.cfg); handled {
				if err != nil {
					return false
				}
				continue
			}
			switch {
			case rec.RequestID != id:
				c.logger.Tracef("connection: %v: ignoring record for id %d mid-request", ErrProtocolViolation, rec.RequestID)
			case rec.Type == TypeStdin:
				chunk := stdinChunk{eof: len(rec.Content) == 0}
				if !chunk.eof {
					chunk.data = rec.Content
				}
				select {
				case stdinCh <- chunk:
				case <-ctx.Done():
				}
			case rec.Type == TypeAbortRequest:
				c.logger.Tracef("request %d: aborted by server", id)
				cancel()
			default:
				c.logger.Tracef("request %d: ignoring %s record during handler", id, rec.Type)
			}
		case err := <-c.reader.errs:
			if errors.Is(err, ErrUnknownVersion) {
				c.logger.Errorf("request %d: %v", id, err)
			}
			return false
		}
	}
}

func (c *sequentialConn) endRequest(id uint16, status uint8, appStatus int32) error {
	body := make([]byte, 8)
	body[0] = byte(appStatus >> 24)
	body[1] = byte(appStatus >> 16)
	body[2] = byte(appStatus >> 8)
	body[3] = byte(appStatus)
	body[4] = status
	return c.stream.SendRecord(TypeEndRequest, id, body)
}
