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

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics are the collectors SPEC_FULL.md's DOMAIN STACK section
// wires Config.Registerer to. The core never exposes them over HTTP;
// registration is the embedder's business, matching caddy's own
// metrics.go, which builds collectors but leaves serving /metrics to
// the admin API.
type serverMetrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	requestsTotal     prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "connections_total",
			Help:      "Total connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fastcgi",
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "requests_total",
			Help:      "Total requests dispatched to the handler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionsTotal, m.connectionsActive, m.requestsTotal)
	}
	return m
}
