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
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
)

// Request is built once the terminating empty Params record arrives. It
// carries the decoded CGI variables, headers derived from HTTP_*
// variables, cookies parsed from any Cookie header, and a handle to its
// input buffer. Request is read-only after construction; spec.md
// §3's "after the empty Params record, no new variables are added"
// invariant holds because nothing mutates req.variables afterward.
type Request struct {
	ID        uint16
	variables map[string]string // last write wins on duplicate names
	headers   map[string]string // canonical header name -> raw value
	cookies   map[string]Cookie // cookie name -> cookie, last wins

	Stdin *InputBuffer

	response *Response
}

// newRequest decodes paramsBuf (the concatenation of every Params
// record's content up to, but not including, the terminating empty
// one) and derives headers/cookies from it.
func newRequest(id uint16, paramsBuf []byte, enc encoding.Encoding, stdin *InputBuffer, resp *Response) *Request {
	pairs := decodeNVPairs(paramsBuf, enc)

	variables := make(map[string]string, len(pairs))
	for _, p := range pairs {
		variables[p.Name] = p.Value // last write wins
	}

	headers := make(map[string]string)
	for name, value := range variables {
		if !strings.HasPrefix(name, httpVariablePrefix) {
			continue
		}
		suffix := name[len(httpVariablePrefix):]
		headers[canonicalizeHeaderName(suffix)] = value
	}

	cookies := make(map[string]Cookie)
	for name, value := range headers {
		if name != "Cookie" {
			continue
		}
		for _, c := range ParseCookies(value) {
			cookies[c.Name] = c // last one wins on duplicates
		}
	}

	return &Request{
		ID:        id,
		variables: variables,
		headers:   headers,
		cookies:   cookies,
		Stdin:     stdin,
		response:  resp,
	}
}

// Variable returns the raw decoded value of a CGI variable and whether
// it was present.
func (r *Request) Variable(name string) (string, bool) {
	v, ok := r.variables[name]
	return v, ok
}

// Variables returns every decoded CGI variable. The returned map must
// not be mutated by callers.
func (r *Request) Variables() map[string]string {
	return r.variables
}

// Header returns the raw value of a derived header (by canonical name,
// e.g. "Content-Type", "X-Custom-Header") and whether it was present.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.headers[name]
	return v, ok
}

// Headers returns every derived header. The returned map must not be
// mutated by callers.
func (r *Request) Headers() map[string]string {
	return r.headers
}

// Cookie returns a request cookie by name.
func (r *Request) Cookie(name string) (Cookie, bool) {
	c, ok := r.cookies[name]
	return c, ok
}

// Cookies returns every cookie parsed from the Cookie header. The
// returned map must not be mutated by callers.
func (r *Request) Cookies() map[string]Cookie {
	return r.cookies
}

// Completed reports whether the paired response has been closed.
func (r *Request) Completed() bool {
	return r.response.Closed()
}

// --- CGI convenience accessors (spec.md §4.6) ---
// Integer/address parsing returns "absent" (ok=false) on malformed
// values rather than failing, matching the CGI variables' advisory
// nature: a misbehaving upstream server shouldn't crash a handler that
// merely asks "what port was this on?".

func (r *Request) RequestMethod() string { v, _ := r.Variable("REQUEST_METHOD"); return v }
func (r *Request) QueryString() string   { v, _ := r.Variable("QUERY_STRING"); return v }
func (r *Request) ScriptName() string    { v, _ := r.Variable("SCRIPT_NAME"); return v }
func (r *Request) RequestURI() string    { v, _ := r.Variable("REQUEST_URI"); return v }
func (r *Request) ContentType() string   { v, _ := r.Variable("CONTENT_TYPE"); return v }

// ContentLength parses CONTENT_LENGTH; ok is false if absent or not a
// valid non-negative integer.
func (r *Request) ContentLength() (n int64, ok bool) {
	v, present := r.Variable("CONTENT_LENGTH")
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ServerPort parses SERVER_PORT; ok is false if absent or not a valid
// 16-bit port number.
func (r *Request) ServerPort() (port uint16, ok bool) {
	v, present := r.Variable("SERVER_PORT")
	if !present {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// RemoteAddr parses REMOTE_ADDR; ok is false if absent or not a valid
// IP address.
func (r *Request) RemoteAddr() (addr net.IP, ok bool) {
	v, present := r.Variable("REMOTE_ADDR")
	if !present {
		return nil, false
	}
	ip := net.ParseIP(v)
	if ip == nil {
		return nil, false
	}
	return ip, true
}
