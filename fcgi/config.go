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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// BindMode selects how the server obtains its listening socket.
type BindMode int

const (
	// CreateSocket has the server call net.Listen itself, using EndPoint.
	CreateSocket BindMode = iota
	// UseStdinSocket has the server adopt the socket an upstream server
	// (Apache's mod_fastcgi, nginx on Windows, etc.) passed as standard
	// input, via acquireStdinListener.
	UseStdinSocket
)

// Config is the full configuration surface spec.md §6 enumerates, plus
// the additions SPEC_FULL.md's DOMAIN STACK section wires in
// (Registerer, TrustProxyProtocol).
type Config struct {
	// Bind selects CreateSocket or UseStdinSocket.
	Bind BindMode
	// EndPoint is required when Bind == CreateSocket.
	EndPoint *net.TCPAddr
	// ListenBacklog is the listen(2) backlog; default 1000.
	ListenBacklog int

	// ErrorLogger and TraceLogger are the raw callback surface spec.md
	// §6 describes. Leave nil to have the core derive both from Logger.
	ErrorLogger func(string)
	TraceLogger func(string)

	// Logger backs the default ErrorLogger/TraceLogger when those are
	// nil, the way every other caddy subsystem is handed a *zap.Logger
	// instead of reaching for log.Printf.
	Logger *zap.Logger

	// TraceRequestHeaders and TraceResponseHeaders additionally log each
	// request/response header at trace level when set.
	TraceRequestHeaders  bool
	TraceResponseHeaders bool

	// CatchHandlerExceptions, default true: a recovered handler panic (or
	// returned error) is logged and the request completes normally
	// instead of tearing down the connection.
	CatchHandlerExceptions bool

	// FCGIMaxConns, FCGIMaxReqs, FCGIMpxsConns are the string values
	// returned verbatim in a GetValuesResult reply for the matching
	// well-known keys (FCGI_MAX_CONNS, FCGI_MAX_REQS, FCGI_MPXS_CONNS).
	FCGIMaxConns  string
	FCGIMaxReqs   string
	FCGIMpxsConns string

	// ConcurrentConnections, default true: accepted connections run on
	// their own goroutine. When false the accept loop serializes them.
	ConcurrentConnections bool

	// VariableEncoding decodes/encodes Params name-value pairs; nil
	// means UTF-8.
	VariableEncoding encoding.Encoding

	// MailboxSize bounds each multiplexed agent's per-request record
	// inbox (Design Notes §9's "consider applying backpressure").
	// Default 32.
	MailboxSize int

	// MaxConcurrentAgents bounds how many agents of one multiplexed
	// connection run at once, via golang.org/x/sync/semaphore; the bound
	// applies per connection, not across connections. Zero means
	// unbounded.
	MaxConcurrentAgents int64

	// Registerer, if non-nil, receives the server's prometheus
	// collectors (connection/request/record counters). The core never
	// starts an HTTP server for them.
	Registerer prometheus.Registerer

	// TrustProxyProtocol wraps accepted connections in a PROXY-protocol
	// reader before FCGI_WEB_SERVER_ADDRS filtering, for responders
	// fronted by a TCP load balancer rather than dialed directly.
	TrustProxyProtocol bool

	zapLogger *zap.Logger // set by normalize from Logger
}

// DefaultConfig returns a Config with every spec.md §6 default applied
// (CatchHandlerExceptions and ConcurrentConnections both true, a 1000
// listen backlog, UTF-8 variables). Go's zero value for a bool can't
// express "defaults to true", so callers should start from
// DefaultConfig and override fields rather than build a bare Config{}.
func DefaultConfig() *Config {
	return &Config{
		Bind:                   CreateSocket,
		ListenBacklog:          1000,
		CatchHandlerExceptions: true,
		ConcurrentConnections:  true,
		MailboxSize:            32,
	}
}

// normalize fills in defaults and is idempotent; it is called once by
// NewServer.
func (c *Config) normalize() *Config {
	out := *c
	if out.ListenBacklog == 0 {
		out.ListenBacklog = 1000
	}
	if out.Logger == nil {
		out.zapLogger = zap.NewNop()
	} else {
		out.zapLogger = out.Logger
	}
	if out.MailboxSize == 0 {
		out.MailboxSize = 32
	}
	return &out
}

// encodingOrDefault returns the configured VariableEncoding, or UTF-8.
func (c *Config) encodingOrDefault() encoding.Encoding {
	if c.VariableEncoding == nil {
		return utf8Codec
	}
	return c.VariableEncoding
}
