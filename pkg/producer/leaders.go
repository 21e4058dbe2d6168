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

package producer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/novatechflow/kafclient/pkg/client"
	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/protocol"
)

type topicPartition struct {
	topic     string
	partition int32
}

// unresolved remembers why the last refresh could not route a partition.
type unresolved struct {
	missingNode int32
	code        protocol.ErrorCode
	nodeMissing bool
}

// TopicPartitionLeaders caches one lazy connection per partition leader.
// A miss refreshes metadata for the whole topic; concurrent misses on the
// same topic share one metadata request.
type TopicPartitionLeaders struct {
	cfg      *connection.Config
	logger   *slog.Logger
	metadata *client.MetadataClient
	fetches  singleflight.Group

	mu         sync.RWMutex
	leaders    map[topicPartition]*connection.LazyConn
	unresolved map[topicPartition]unresolved
}

// NewTopicPartitionLeaders returns an empty cache that bootstraps metadata
// from cfg.BrokerList. Leader connections reuse cfg for everything but the
// broker list.
func NewTopicPartitionLeaders(cfg *connection.Config) *TopicPartitionLeaders {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicPartitionLeaders{
		cfg:        cfg,
		logger:     logger,
		metadata:   client.NewMetadataClient(cfg),
		leaders:    make(map[topicPartition]*connection.LazyConn),
		unresolved: make(map[topicPartition]unresolved),
	}
}

// ConnectionToLeader returns the connection to the leader of topic/partition,
// fetching topic metadata on a cache miss.
func (l *TopicPartitionLeaders) ConnectionToLeader(ctx context.Context, topic string, partition int32) (*connection.LazyConn, error) {
	key := topicPartition{topic: topic, partition: partition}
	if conn := l.cached(key); conn != nil {
		l.cfg.Metrics.ObserveLeaderLookup(true)
		return conn, nil
	}
	l.cfg.Metrics.ObserveLeaderLookup(false)

	topicCode, err, _ := l.fetches.Do(topic, func() (any, error) {
		return l.refresh(ctx, topic)
	})
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if conn, ok := l.leaders[key]; ok {
		return conn, nil
	}
	why, ok := l.unresolved[key]
	switch {
	case ok && why.nodeMissing:
		return nil, &NodeNotFoundError{NodeID: why.missingNode, Topic: topic, Partition: partition}
	case ok:
		return nil, &LeaderNotFoundError{Topic: topic, Partition: partition, Code: why.code}
	}
	return nil, &LeaderNotFoundError{Topic: topic, Partition: partition, Code: topicCode.(protocol.ErrorCode)}
}

func (l *TopicPartitionLeaders) cached(key topicPartition) *connection.LazyConn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leaders[key]
}

// refresh fetches metadata for topic and records a connection for every
// partition whose leader is known. Partition errors only matter when they
// leave the leader unresolvable. The topic level error code is returned for
// partitions the broker did not list.
func (l *TopicPartitionLeaders) refresh(ctx context.Context, topic string) (protocol.ErrorCode, error) {
	l.cfg.Metrics.ObserveMetadataFetch()
	resp, err := l.metadata.GetMetadata(ctx, topic)
	if err != nil {
		return 0, fmt.Errorf("refresh leaders of %s: %w", topic, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// reasons recorded by an earlier fetch no longer apply
	for key := range l.unresolved {
		if key.topic == topic {
			delete(l.unresolved, key)
		}
	}
	meta, ok := resp.Topic(topic)
	if !ok {
		return protocol.ErrorCode(0), nil
	}

	conns := make(map[int32]*connection.LazyConn)
	// leaders already cached for other topics are shared, not redialed
	byAddr := make(map[connection.BrokerAddress]*connection.LazyConn, len(l.leaders))
	for _, conn := range l.leaders {
		byAddr[conn.Brokers()[0]] = conn
	}
	for _, p := range meta.Partitions {
		key := topicPartition{topic: topic, partition: p.PartitionIndex}
		if _, ok := l.leaders[key]; ok {
			continue
		}
		if p.LeaderID < 0 {
			l.unresolved[key] = unresolved{code: p.ErrorCode}
			continue
		}
		conn, ok := conns[p.LeaderID]
		if !ok {
			b, found := resp.Broker(p.LeaderID)
			if !found {
				l.unresolved[key] = unresolved{missingNode: p.LeaderID, nodeMissing: true, code: p.ErrorCode}
				continue
			}
			addr := brokerAddress(b)
			if conn, ok = byAddr[addr]; !ok {
				conn = connection.NewLazyConn(l.leaderConfig(addr))
				byAddr[addr] = conn
			}
			conns[p.LeaderID] = conn
		}
		l.leaders[key] = conn
	}
	l.logger.Debug("leader cache refreshed", "topic", topic, "partitions", len(meta.Partitions), "brokers", len(conns))
	return meta.ErrorCode, nil
}

func brokerAddress(b protocol.MetadataBroker) connection.BrokerAddress {
	return connection.BrokerAddress(net.JoinHostPort(b.Host, strconv.Itoa(int(b.Port))))
}

func (l *TopicPartitionLeaders) leaderConfig(addr connection.BrokerAddress) *connection.Config {
	cfg := *l.cfg
	cfg.BrokerList = connection.BrokerList{addr}
	return &cfg
}

// ResetCache forgets the leaders of the given topics so the next lookup
// fetches fresh metadata. Connections no longer referenced by any remaining
// entry are shut down.
func (l *TopicPartitionLeaders) ResetCache(topics ...string) error {
	reset := make(map[string]bool, len(topics))
	for _, t := range topics {
		reset[t] = true
	}

	l.mu.Lock()
	removed := make(map[*connection.LazyConn]bool)
	for key, conn := range l.leaders {
		if reset[key.topic] {
			removed[conn] = true
			delete(l.leaders, key)
		}
	}
	for key := range l.unresolved {
		if reset[key.topic] {
			delete(l.unresolved, key)
		}
	}
	for _, conn := range l.leaders {
		delete(removed, conn)
	}
	l.mu.Unlock()

	var errs error
	for conn := range removed {
		errs = multierr.Append(errs, conn.Shutdown())
	}
	return errs
}

// Shutdown closes the metadata connection and every cached leader
// connection, reporting all failures together.
func (l *TopicPartitionLeaders) Shutdown() error {
	l.mu.Lock()
	conns := make(map[*connection.LazyConn]bool)
	for _, conn := range l.leaders {
		conns[conn] = true
	}
	l.leaders = make(map[topicPartition]*connection.LazyConn)
	l.unresolved = make(map[topicPartition]unresolved)
	l.mu.Unlock()

	errs := l.metadata.Shutdown()
	for conn := range conns {
		errs = multierr.Append(errs, conn.Shutdown())
	}
	return errs
}
