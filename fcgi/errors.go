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

import "errors"

// Error values a handler or embedder can match with errors.Is. These are
// the state-machine-misuse errors from the response/input-buffer surface;
// framing and protocol-violation failures are logged and handled locally
// by the dispatcher rather than surfaced to the handler.
var (
	// ErrHeadersAlreadySent is returned by Response mutators (SetStatus,
	// SetHeader, UnsetHeader, SetCookie, UnsetCookie) once headers have
	// already been flushed to the wire.
	ErrHeadersAlreadySent = errors.New("fcgi: headers already sent")

	// ErrOutputAlreadyClosed is returned by any Response send operation,
	// and by InputBuffer reads, once CloseOutput has succeeded.
	ErrOutputAlreadyClosed = errors.New("fcgi: output already closed")

	// ErrBufferIsClosed is returned by InputBuffer reads issued after the
	// buffer has been torn down independently of the response (e.g. the
	// connection died mid-read).
	ErrBufferIsClosed = errors.New("fcgi: input buffer is closed")

	// ErrUnknownVersion means a record header declared a FastCGI version
	// other than 1. It is fatal to the connection.
	ErrUnknownVersion = errors.New("fcgi: unknown protocol version")

	// ErrProtocolViolation covers record-sequencing mistakes that are
	// logged and dropped rather than fatal: Params for an unknown
	// request id, Stdin delivered outside AwaitParams/InHandler, and
	// similar.
	ErrProtocolViolation = errors.New("fcgi: protocol violation")
)
