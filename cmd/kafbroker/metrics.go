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

package main

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/kafclient/pkg/broker"
	"github.com/novatechflow/kafclient/pkg/protocol"
)

// recordRate counts appended records in one-second buckets and reports the
// average rate over a sliding window.
type recordRate struct {
	mu      sync.Mutex
	buckets map[int64]int64
	window  time.Duration
	now     func() time.Time
}

func newRecordRate(window time.Duration) *recordRate {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &recordRate{
		buckets: make(map[int64]int64),
		window:  window,
		now:     time.Now,
	}
}

func (r *recordRate) add(count int64) {
	if r == nil || count <= 0 {
		return
	}
	bucket := r.now().Unix()
	r.mu.Lock()
	r.buckets[bucket] += count
	r.pruneLocked(bucket)
	r.mu.Unlock()
}

func (r *recordRate) rate() float64 {
	if r == nil {
		return 0
	}
	bucket := r.now().Unix()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(bucket)
	if len(r.buckets) == 0 {
		return 0
	}
	var total int64
	oldest := bucket
	for b, count := range r.buckets {
		total += count
		if b < oldest {
			oldest = b
		}
	}
	span := bucket - oldest + 1
	if limit := int64(r.window / time.Second); span > limit {
		span = max(limit, 1)
	}
	return float64(total) / float64(span)
}

func (r *recordRate) pruneLocked(current int64) {
	oldest := current - max(int64(r.window/time.Second), 1)
	for bucket := range r.buckets {
		if bucket < oldest {
			delete(r.buckets, bucket)
		}
	}
}

var servedAPIs = []int16{
	protocol.APIKeyApiVersion,
	protocol.APIKeyMetadata,
	protocol.APIKeyCreateTopics,
	protocol.APIKeyDeleteTopics,
	protocol.APIKeyProduce,
}

// nodeCollector exports the request counts each node's handler keeps.
type nodeCollector struct {
	nodes    []*broker.Node
	requests *prometheus.Desc
}

func newNodeCollector(nodes []*broker.Node) *nodeCollector {
	return &nodeCollector{
		nodes: nodes,
		requests: prometheus.NewDesc(
			"kafbroker_requests_total",
			"Requests served by API and node.",
			[]string{"node", "api"}, nil,
		),
	}
}

func (c *nodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
}

func (c *nodeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, n := range c.nodes {
		node := strconv.Itoa(int(n.ID))
		for _, key := range servedAPIs {
			ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue,
				float64(n.Handler.Requests(key)), node, protocol.APIName(key))
		}
	}
}

// brokerMetrics holds the collectors kafbroker registers.
type brokerMetrics struct {
	records  *prometheus.CounterVec
	produced *recordRate
}

func newBrokerMetrics(reg prometheus.Registerer, window time.Duration) *brokerMetrics {
	m := &brokerMetrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafbroker_appended_records_total",
			Help: "Records accepted by topic.",
		}, []string{"topic"}),
		produced: newRecordRate(window),
	}
	rate := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kafbroker_produce_records_per_second",
		Help: "Average produce rate over the throughput window.",
	}, m.produced.rate)
	reg.MustRegister(m.records, rate)
	return m
}

// observe is installed as every node's append hook.
func (m *brokerMetrics) observe(topic string, _ int32, records int32) {
	m.records.WithLabelValues(topic).Add(float64(records))
	m.produced.add(int64(records))
}
