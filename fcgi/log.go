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

	"go.uber.org/zap"
)

// logAdapter bridges spec.md §6's ErrorLogger/TraceLogger callback
// surface (func(string)) to a structured go.uber.org/zap.Logger,
// matching the way caddy threads a *zap.Logger through every subsystem
// instead of ad hoc fmt.Println calls. Embedders who don't want zap at
// all can still set Config.ErrorLogger/TraceLogger directly; the
// zap-backed callbacks are only derived for the ones left nil.
type logAdapter struct {
	errorLogger func(string)
	traceLogger func(string)
	traceOn     bool
}

func newLogAdapter(cfg *Config) *logAdapter {
	la := &logAdapter{
		errorLogger: cfg.ErrorLogger,
		traceLogger: cfg.TraceLogger,
		traceOn:     cfg.TraceLogger != nil,
	}
	if la.errorLogger == nil {
		base := cfg.zapOrNop()
		la.errorLogger = func(msg string) { base.Error(msg) }
	}
	if la.traceLogger == nil && cfg.zapLogger != nil {
		base := cfg.zapLogger
		la.traceLogger = func(msg string) { base.Debug(msg) }
		la.traceOn = true
	}
	return la
}

func (l *logAdapter) Errorf(format string, args ...any) {
	l.errorLogger(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Tracef(format string, args ...any) {
	if !l.traceOn || l.traceLogger == nil {
		return
	}
	l.traceLogger(fmt.Sprintf(format, args...))
}

// zapOrNop returns the configured zap logger, or a no-op logger so that
// a zero-value Config never panics on first use.
func (c *Config) zapOrNop() *zap.Logger {
	if c.zapLogger != nil {
		return c.zapLogger
	}
	return zap.NewNop()
}
