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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// closedCell is the small shared cell Design Notes §9 recommends in
// place of handing InputBuffer a full Response: Response sets it once,
// monotonically, and InputBuffer only ever reads it.
type closedCell struct {
	mu     sync.Mutex
	closed bool
}

func (c *closedCell) set() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *closedCell) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// defaultContentType is the header the response starts with, per
// spec.md §3.
const defaultContentType = "text/html; charset=utf-8"

// Response owns one request's status, header table, cookie table, and
// the headers-sent/output-closed state, and streams Stdout/EndRequest
// records back over the owning connection. A Response must only be
// mutated from the goroutine running its request's handler.
type Response struct {
	requestID uint16
	stream    *Stream

	mu sync.Mutex // guards the fields below against the dispatcher's
	// end-of-handler flush, which may race the handler's own goroutine
	// during cleanup

	status          int
	headers         map[string]string // canonical name -> raw value
	cookies         map[string]Cookie // keyed by cookie name; cookieOrder keeps insertion order
	cookieOrder     []string
	setCookieHeader *string // explicit Set-Cookie override, if set

	headersSent bool
	closed      *closedCell

	// AppStatus is reported as the application exit status in the
	// EndRequest record (supplemented feature; see SPEC_FULL.md). It may
	// be set by the handler at any point before CloseOutput.
	AppStatus int32

	protocolStatus uint8 // defaults to StatusRequestComplete
}

func newResponse(requestID uint16, stream *Stream, closed *closedCell) *Response {
	return &Response{
		requestID: requestID,
		stream:    stream,
		status:    200,
		headers:   map[string]string{"Content-Type": defaultContentType},
		cookies:   make(map[string]Cookie),
		closed:    closed,
	}
}

// SetStatus sets the HTTP status code reported via the Status
// pseudo-header.
func (r *Response) SetStatus(code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	r.status = code
	return nil
}

// SetHeader overwrites a header entry.
func (r *Response) SetHeader(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	if strings.EqualFold(name, "Set-Cookie") {
		v := value
		r.setCookieHeader = &v
		return nil
	}
	r.headers[name] = value
	return nil
}

// UnsetHeader removes a header entry, if present.
func (r *Response) UnsetHeader(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	if strings.EqualFold(name, "Set-Cookie") {
		r.setCookieHeader = nil
		return nil
	}
	delete(r.headers, name)
	return nil
}

// SetCookie inserts or replaces a cookie by name.
func (r *Response) SetCookie(c Cookie) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	if _, exists := r.cookies[c.Name]; !exists {
		r.cookieOrder = append(r.cookieOrder, c.Name)
	}
	r.cookies[c.Name] = c
	return nil
}

// UnsetCookie inserts a cookie with an empty value and an expiry one
// day in the past, so the user agent discards it.
func (r *Response) UnsetCookie(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	if _, exists := r.cookies[name]; !exists {
		r.cookieOrder = append(r.cookieOrder, name)
	}
	r.cookies[name] = unsetCookie(name)
	return nil
}

// serializeHeaders renders the header block: "Status: <code>" first,
// then "Name: Value" lines in a stable order, a Set-Cookie line if
// applicable, terminated by a blank line.
func (r *Response) serializeHeaders() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %d\r\n", r.status)

	names := make([]string, 0, len(r.headers))
	for name := range r.headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\r\n", name, r.headers[name])
	}

	switch {
	case r.setCookieHeader != nil:
		fmt.Fprintf(&b, "Set-Cookie: %s\r\n", *r.setCookieHeader)
	case len(r.cookies) > 0:
		ordered := make([]Cookie, 0, len(r.cookieOrder))
		for _, name := range r.cookieOrder {
			if c, ok := r.cookies[name]; ok {
				ordered = append(ordered, c)
			}
		}
		fmt.Fprintf(&b, "Set-Cookie: %s\r\n", FormatCookies(ordered))
	}

	b.WriteString("\r\n")
	return []byte(b.String())
}

// SendHeaders flushes the header block as a Stdout record if it hasn't
// been sent yet; calling it again is a no-op.
func (r *Response) SendHeaders() error {
	r.mu.Lock()
	if r.closed.isClosed() {
		r.mu.Unlock()
		return ErrOutputAlreadyClosed
	}
	if r.headersSent {
		r.mu.Unlock()
		return nil
	}
	block := r.serializeHeaders()
	r.headersSent = true
	r.mu.Unlock()

	return r.stream.SendBuffer(TypeStdout, r.requestID, block)
}

// Put ensures headers have been sent, then emits p as Stdout. When the
// headers are still unsent, the header block and p go out together in
// the same Stdout record(s).
func (r *Response) Put(p []byte) error {
	if r.closed.isClosed() {
		return ErrOutputAlreadyClosed
	}
	r.mu.Lock()
	var out []byte
	if !r.headersSent {
		out = r.serializeHeaders()
		r.headersSent = true
	}
	r.mu.Unlock()
	out = append(out, p...)
	if len(out) == 0 {
		return nil
	}
	return r.stream.SendBuffer(TypeStdout, r.requestID, out)
}

// CloseOutput marks the response closed and emits the terminating empty
// Stdout record followed by EndRequest. It is idempotent-unsafe by
// design: calling it twice is a state-machine misuse and returns
// ErrOutputAlreadyClosed, matching spec.md's table in §4.4.
func (r *Response) CloseOutput() error {
	if r.closed.isClosed() {
		return ErrOutputAlreadyClosed
	}
	if err := r.SendHeaders(); err != nil {
		return err
	}
	r.closed.set()

	if err := r.stream.SendRecord(TypeStdout, r.requestID, nil); err != nil {
		return err
	}

	status := r.protocolStatus
	appStatus := r.AppStatus
	endBody := make([]byte, 8)
	endBody[0] = byte(appStatus >> 24)
	endBody[1] = byte(appStatus >> 16)
	endBody[2] = byte(appStatus >> 8)
	endBody[3] = byte(appStatus)
	endBody[4] = status
	return r.stream.SendRecord(TypeEndRequest, r.requestID, endBody)
}

// HeadersSent reports whether the header block has already gone out.
func (r *Response) HeadersSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headersSent
}

// Closed reports whether output has already been closed.
func (r *Response) Closed() bool {
	return r.closed.isClosed()
}
