// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package connection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

// Metrics holds the client-side Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	requestErrors *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	dials         *prometheus.CounterVec
	resets        prometheus.Counter
	leaderLookups *prometheus.CounterVec
	metadataFetch prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafclient",
			Name:      "requests_total",
			Help:      "Requests sent to brokers by API.",
		}, []string{"api"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafclient",
			Name:      "request_errors_total",
			Help:      "Requests that failed with an I/O or format error by API.",
		}, []string{"api"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kafclient",
			Name:      "request_duration_seconds",
			Help:      "Round trip latency of broker exchanges.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"api"}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafclient",
			Name:      "dials_total",
			Help:      "Broker dial attempts by result.",
		}, []string{"result"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kafclient",
			Name:      "connection_resets_total",
			Help:      "Lazy connection resets.",
		}),
		leaderLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafclient",
			Name:      "leader_cache_lookups_total",
			Help:      "Partition leader cache lookups by result.",
		}, []string{"result"}),
		metadataFetch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kafclient",
			Name:      "metadata_fetches_total",
			Help:      "Metadata requests issued to refresh the leader cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestErrors, m.latency, m.dials, m.resets, m.leaderLookups, m.metadataFetch)
	}
	return m
}

func (m *Metrics) observeRequest(apiKey int16, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	api := protocol.APIName(apiKey)
	m.requests.WithLabelValues(api).Inc()
	m.latency.WithLabelValues(api).Observe(elapsed.Seconds())
	if err != nil {
		m.requestErrors.WithLabelValues(api).Inc()
	}
}

func (m *Metrics) observeDial(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dials.WithLabelValues("error").Inc()
		return
	}
	m.dials.WithLabelValues("ok").Inc()
}

func (m *Metrics) observeReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

// ObserveLeaderLookup records a leader cache hit or miss.
func (m *Metrics) ObserveLeaderLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.leaderLookups.WithLabelValues("hit").Inc()
		return
	}
	m.leaderLookups.WithLabelValues("miss").Inc()
}

// ObserveMetadataFetch counts one metadata refresh.
func (m *Metrics) ObserveMetadataFetch() {
	if m == nil {
		return
	}
	m.metadataFetch.Inc()
}
