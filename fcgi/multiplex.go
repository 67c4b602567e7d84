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
	"sync"

	"golang.org/x/sync/semaphore"
)

// multiplexConn drives the multiplexed per-connection state machine
// spec.md §4.7 describes: a request_id -> agent map, each agent running
// its own AwaitParams -> InHandler -> Done sub-state machine fed by a
// bounded mailbox. The dispatcher is the sole producer for every agent's
// mailbox; each agent is the sole consumer of its own.
type multiplexConn struct {
	stream  *Stream
	cfg     *Config
	logger  *logAdapter
	handler Handler
	reader  *connReader
	state   connState

	mu     sync.Mutex
	agents map[uint16]*agent

	// sem bounds concurrently-running agent goroutines across this
	// connection, per Design Notes §9 and Config.MaxConcurrentAgents.
	// Nil means unbounded.
	sem *semaphore.Weighted

	// cancel ends the connection's context; run sets it, and an agent
	// whose handler failed with CatchHandlerExceptions false calls it.
	cancel context.CancelFunc
}

func newMultiplexConn(stream *Stream, cfg *Config, logger *logAdapter, handler Handler) *multiplexConn {
	mc := &multiplexConn{
		stream:  stream,
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		reader:  newConnReader(stream),
		agents:  make(map[uint16]*agent),
	}
	if cfg.MaxConcurrentAgents > 0 {
		mc.sem = semaphore.NewWeighted(cfg.MaxConcurrentAgents)
	}
	return mc
}

// run drives the connection until every agent has finished and either
// the connection is closed or a fatal framing error occurred.
func (mc *multiplexConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	mc.cancel = cancel

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case rec := <-mc.reader.recs:
			mc.route(ctx, rec, &wg)
		case err := <-mc.reader.errs:
			if errors.Is(err, ErrUnknownVersion) {
				mc.logger.Errorf("connection: %v", err)
			} else if errors.Is(err, io.EOF) {
				mc.logger.Tracef("connection: peer closed")
			} else {
				mc.logger.Errorf("connection: %v", err)
			}
			mc.closeAllAgents()
			return
		case <-ctx.Done():
			mc.state.closed = true
			mc.closeAllAgents()
			return
		}
	}
}

// route dispatches one record to the right place: management records
// are answered inline, BeginRequest spawns a new agent, and everything
// else is handed to the agent already tracking that request_id (or
// logged and dropped if the id is unknown, per spec.md §4.7).
func (mc *multiplexConn) route(ctx context.Context, rec *Record, wg *sync.WaitGroup) {
	if handled, err := handleManagementRecord(mc.stream, rec, mc.cfg); handled {
		if err != nil {
			mc.logger.Errorf("connection: management reply: %v", err)
		}
		return
	}

	if rec.Type == TypeBeginRequest {
		mc.beginRequest(ctx, rec, wg)
		return
	}

	mc.mu.Lock()
	ag, ok := mc.agents[rec.RequestID]
	mc.mu.Unlock()
	if !ok {
		mc.logger.Tracef("connection: %v: %s record for unknown request id %d", ErrProtocolViolation, rec.Type, rec.RequestID)
		return
	}
	ag.deliver(ctx, rec)
}

func (mc *multiplexConn) beginRequest(ctx context.Context, begin *Record, wg *sync.WaitGroup) {
	if len(begin.Content) < 4 {
		mc.logger.Errorf("connection: short BeginRequest body")
		return
	}
	role := Role(uint16(begin.Content[0])<<8 | uint16(begin.Content[1]))
	flags := begin.Content[2]
	id := begin.RequestID

	if role != RoleResponder {
		if err := mc.endRequest(id, StatusUnknownRole, 0); err != nil {
			mc.logger.Errorf("connection: %v", err)
		}
		return
	}

	mc.mu.Lock()
	if _, exists := mc.agents[id]; exists {
		mc.mu.Unlock()
		mc.logger.Errorf("connection: duplicate BeginRequest for id %d", id)
		return
	}
	if len(mc.agents) == 0 {
		mc.state.keepConn = flags&FlagKeepConn != 0
	}
	ag := newAgent(id, mc.stream, mc.cfg.encodingOrDefault(), mc.handler, mc.logger, mc.cfg.CatchHandlerExceptions, mc.cfg.MailboxSize)
	mc.agents[id] = ag
	mc.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if mc.sem != nil {
			if err := mc.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer mc.sem.Release(1)
		}
		ag.run(ctx)
		mc.mu.Lock()
		delete(mc.agents, id)
		mc.mu.Unlock()
		if ag.fatal != nil {
			mc.logger.Errorf("request %d: fatal handler error: %v", id, ag.fatal)
			mc.cancel()
		}
	}()
}

// closeAllAgents tears down every still-live agent's mailbox so any
// handler blocked reading Stdin observes ErrBufferIsClosed instead of
// hanging forever once the connection itself has died.
func (mc *multiplexConn) closeAllAgents() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, ag := range mc.agents {
		ag.close()
	}
}

func (mc *multiplexConn) endRequest(id uint16, status uint8, appStatus int32) error {
	body := make([]byte, 8)
	body[0] = byte(appStatus >> 24)
	body[1] = byte(appStatus >> 16)
	body[2] = byte(appStatus >> 8)
	body[3] = byte(appStatus)
	body[4] = status
	return mc.stream.SendRecord(TypeEndRequest, id, body)
}
