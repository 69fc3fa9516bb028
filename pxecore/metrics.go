// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pxecore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	replies   *prometheus.CounterVec
	conflicts prometheus.Counter
	transfers *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pxeproxy",
			Subsystem: "dhcp",
			Name:      "requests_total",
			Help:      "Boot requests answered, by DHCP message type and boot phase.",
		}, []string{"type", "phase"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pxeproxy",
			Subsystem: "dhcp",
			Name:      "replies_total",
			Help:      "Boot reply frames sent, by DHCP message type.",
		}, []string{"type"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pxeproxy",
			Subsystem: "dhcp",
			Name:      "conflicts_total",
			Help:      "DHCP packets seen from another server on the segment.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pxeproxy",
			Subsystem: "tftp",
			Name:      "transfers_total",
			Help:      "Finished TFTP sessions, by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.requests, m.replies, m.conflicts, m.transfers)
	return m
}

// Transfer results.
const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultAborted  = "abandoned"
	resultError    = "error"
)

// Registry returns the registry holding the server's metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.counters().registry
}

func (s *Server) counters() *metrics {
	s.metricsOnce.Do(func() {
		s.stats = newMetrics()
	})
	return s.stats
}
