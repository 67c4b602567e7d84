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
	"net"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	proxyproto "github.com/pires/go-proxyproto"
	"golang.org/x/sync/errgroup"
)

// Server accepts connections, filters them against FCGI_WEB_SERVER_ADDRS,
// and dispatches each to either the sequential or multiplexed
// per-connection state machine, per spec.md §4.8.
type Server struct {
	cfg     *Config
	handler Handler
	logger  *logAdapter
	metrics *serverMetrics

	// Multiplex selects the multiplexed dispatcher instead of the
	// sequential one. spec.md treats the two as interchangeable
	// implementations sharing the framed stream; the choice here is a
	// server-level policy, not something negotiated per connection.
	Multiplex bool

	mu        sync.Mutex
	listener  net.Listener
	cancel    context.CancelFunc
	allowList []net.IP
	wg        sync.WaitGroup
}

// NewServer builds a Server from cfg (normalized with defaults applied)
// and handler.
func NewServer(cfg *Config, handler Handler) *Server {
	norm := cfg.normalize()
	return &Server{
		cfg:       norm,
		handler:   handler,
		logger:    newLogAdapter(norm),
		metrics:   newServerMetrics(norm.Registerer),
		allowList: parseWebServerAddrs(os.Getenv("FCGI_WEB_SERVER_ADDRS")),
	}
}

// parseWebServerAddrs parses the comma-separated FCGI_WEB_SERVER_ADDRS
// environment variable into a list of permitted peer IPs. An empty
// value means "no filtering".
func parseWebServerAddrs(v string) []net.IP {
	if v == "" {
		return nil
	}
	var ips []net.IP
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if ip := net.ParseIP(part); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

// peerAllowed reports whether addr may connect, per spec.md §4.8: a nil
// allow-list (FCGI_WEB_SERVER_ADDRS unset) permits everything; a nil
// peer address (local pipes, UseStdinSocket under some upstream
// servers) is always accepted.
func (s *Server) peerAllowed(addr net.Addr) bool {
	if len(s.allowList) == 0 || addr == nil {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	for _, allowed := range s.allowList {
		if allowed.Equal(ip) {
			return true
		}
	}
	return false
}

// acquireListener builds the net.Listener per Config.Bind: either a
// fresh net.Listen on Config.EndPoint, or the platform's stdin-socket
// acquisition path.
func (s *Server) acquireListener() (net.Listener, error) {
	switch s.cfg.Bind {
	case UseStdinSocket:
		return acquireStdinListener()
	default:
		return listenTCPBacklog(s.cfg.EndPoint, s.cfg.ListenBacklog)
	}
}

// Serve accepts connections until ctx is canceled or Shutdown is
// called, dispatching each one per Config.ConcurrentConnections. An
// accept failure is logged and the loop goes on; Serve returns only when
// the listener cannot be acquired, or once ctx is canceled (Shutdown
// cancels it) and the concurrent connections have finished.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.acquireListener()
	if err != nil {
		return err
	}
	if s.cfg.TrustProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			s.logger.Errorf("accept: %v", err)
			continue
		}

		if !s.peerAllowed(conn.RemoteAddr()) {
			s.logger.Tracef("rejecting connection from disallowed peer %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.metrics.connectionsTotal.Inc()
		connID := uuid.NewString()

		if s.cfg.ConcurrentConnections {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(ctx, conn, connID)
			}()
		} else {
			s.handleConn(ctx, conn, connID)
		}
	}
}

// handleConn runs one connection's dispatcher to completion and closes
// the socket, isolated from every other connection's errgroup per
// SPEC_FULL.md's "one connection's failure must never cancel siblings".
func (s *Server) handleConn(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()
	defer s.metrics.connectionsActive.Dec()
	s.metrics.connectionsActive.Inc()

	connGroup, connCtx := errgroup.WithContext(ctx)
	stream := NewStream(conn)

	connGroup.Go(func() error {
		if s.Multiplex {
			newMultiplexConn(stream, s.cfg, s.logger, s.wrapHandler(connID)).run(connCtx)
		} else {
			newSequentialConn(stream, s.cfg, s.logger, s.wrapHandler(connID)).run(connCtx)
		}
		return nil
	})
	_ = connGroup.Wait()
}

// wrapHandler wires per-request metrics and trace logging around the
// embedder's handler without changing the Handler contract itself.
func (s *Server) wrapHandler(connID string) Handler {
	return func(ctx context.Context, req *Request, resp *Response) error {
		s.metrics.requestsTotal.Inc()
		if s.cfg.TraceRequestHeaders {
			for name, value := range req.Headers() {
				s.logger.Tracef("conn %s request %d: %s: %s", connID, req.ID, name, value)
			}
		}
		err := s.handler(ctx, req, resp)
		if s.cfg.TraceResponseHeaders {
			s.logger.Tracef("conn %s request %d: response status %d", connID, req.ID, resp.status)
		}
		return err
	}
}

// Shutdown cancels Serve's context, which closes the listener and also
// reaches every live connection: handler contexts are canceled and each
// dispatcher stops at its next wait for a record (a sequential one after
// its in-flight handler returns; a multiplexed one finalizes its agents'
// responses without waiting for their handlers). It then waits for the
// concurrent connection goroutines to exit, or for ctx to expire first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
