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
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/twmb/franz-go/pkg/kerr"
	"go.uber.org/goleak"

	"github.com/novatechflow/kafclient/pkg/broker"
	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/metadata"
	"github.com/novatechflow/kafclient/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startCluster(t *testing.T, n int) (*metadata.InMemoryStore, []*broker.Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = "127.0.0.1:0"
	}
	store := metadata.NewInMemoryStore(metadata.ClusterMetadata{})
	nodes, err := broker.StartLocal(ctx, store, addrs, nil)
	if err != nil {
		cancel()
		if errors.Is(err, syscall.EPERM) {
			t.Skip("binding sockets not permitted in sandbox")
		}
		t.Fatalf("StartLocal: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		for _, n := range nodes {
			n.Server.Wait()
		}
	})
	return store, nodes
}

func createTopic(t *testing.T, store *metadata.InMemoryStore, name string, partitions int32) {
	t.Helper()
	spec := metadata.TopicSpec{Name: name, NumPartitions: partitions, ReplicationFactor: 1}
	if _, err := store.CreateTopic(context.Background(), spec); err != nil {
		t.Fatalf("CreateTopic %s: %v", name, err)
	}
}

func configFor(nodes ...*broker.Node) *connection.Config {
	cfg := &connection.Config{ClientID: "producer-test"}
	for _, n := range nodes {
		cfg.BrokerList = append(cfg.BrokerList, connection.BrokerAddress(n.Addr()))
	}
	return cfg
}

// metadataFetches sums the metadata requests every node has served.
func metadataFetches(nodes []*broker.Node) int {
	total := 0
	for _, n := range nodes {
		total += n.Handler.Requests(protocol.APIKeyMetadata)
	}
	return total
}

func TestLeadersOnePerBroker(t *testing.T) {
	store, nodes := startCluster(t, 2)
	createTopic(t, store, "T", 2)
	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()
	ctx := context.Background()

	p0, err := leaders.ConnectionToLeader(ctx, "T", 0)
	if err != nil {
		t.Fatalf("partition 0: %v", err)
	}
	p1, err := leaders.ConnectionToLeader(ctx, "T", 1)
	if err != nil {
		t.Fatalf("partition 1: %v", err)
	}
	if p0 == p1 {
		t.Fatalf("expected distinct connections for leaders 1 and 2")
	}
	if got := p0.Brokers(); len(got) != 1 || string(got[0]) != nodes[0].Addr() {
		t.Fatalf("partition 0 should target broker 1 at %s, got %v", nodes[0].Addr(), got)
	}
	if got := p1.Brokers(); len(got) != 1 || string(got[0]) != nodes[1].Addr() {
		t.Fatalf("partition 1 should target broker 2 at %s, got %v", nodes[1].Addr(), got)
	}
	if fetches := metadataFetches(nodes); fetches != 1 {
		t.Fatalf("expected one metadata fetch for both partitions, got %d", fetches)
	}

	again, err := leaders.ConnectionToLeader(ctx, "T", 0)
	if err != nil || again != p0 {
		t.Fatalf("expected cached connection, got %p err=%v", again, err)
	}
	if fetches := metadataFetches(nodes); fetches != 1 {
		t.Fatalf("cache hit issued a metadata fetch: %d", fetches)
	}
}

func TestLeadersResetRefetchesOnce(t *testing.T) {
	store, nodes := startCluster(t, 2)
	createTopic(t, store, "T", 2)
	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()
	ctx := context.Background()

	before, err := leaders.ConnectionToLeader(ctx, "T", 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := leaders.ResetCache("T"); err != nil {
		t.Fatalf("ResetCache: %v", err)
	}
	if err := before.Send(ctx, &protocol.ApiVersionsRequest{}, &protocol.ApiVersionsResponse{}); !errors.Is(err, connection.ErrClosed) {
		t.Fatalf("expected reset connection to be closed, got %v", err)
	}

	for _, partition := range []int32{0, 1, 0} {
		if _, err := leaders.ConnectionToLeader(ctx, "T", partition); err != nil {
			t.Fatalf("lookup %d after reset: %v", partition, err)
		}
	}
	if fetches := metadataFetches(nodes); fetches != 2 {
		t.Fatalf("expected exactly one fetch after reset, got %d total", fetches)
	}
}

func TestLeadersResetKeepsSharedConnection(t *testing.T) {
	store, nodes := startCluster(t, 2)
	createTopic(t, store, "a", 1)
	createTopic(t, store, "b", 1)
	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()
	ctx := context.Background()

	a, err := leaders.ConnectionToLeader(ctx, "a", 0)
	if err != nil {
		t.Fatalf("lookup a: %v", err)
	}
	b, err := leaders.ConnectionToLeader(ctx, "b", 0)
	if err != nil {
		t.Fatalf("lookup b: %v", err)
	}
	if a != b {
		t.Fatalf("expected topics led by the same broker to share a connection")
	}
	if err := leaders.ResetCache("a"); err != nil {
		t.Fatalf("ResetCache: %v", err)
	}
	if err := b.Send(ctx, &protocol.ApiVersionsRequest{}, &protocol.ApiVersionsResponse{}); err != nil {
		t.Fatalf("connection still used by b was closed: %v", err)
	}
	cached, err := leaders.ConnectionToLeader(ctx, "b", 0)
	if err != nil || cached != b {
		t.Fatalf("entry for b should survive the reset of a: %p %v", cached, err)
	}
	if fetches := metadataFetches(nodes); fetches != 2 {
		t.Fatalf("lookup of b should not refetch, got %d fetches", fetches)
	}
}

func TestLeadersUnknownNode(t *testing.T) {
	store, nodes := startCluster(t, 1)
	meta, err := store.Metadata(context.Background(), nil)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	meta.Topics = []protocol.MetadataTopic{{
		Name: "T",
		Partitions: []protocol.MetadataPartition{
			{PartitionIndex: 0, LeaderID: 1, ReplicaNodes: []int32{1}, ISRNodes: []int32{1}},
			{PartitionIndex: 1, LeaderID: 7, ReplicaNodes: []int32{7}, ISRNodes: []int32{7}},
			{ErrorCode: protocol.LEADER_NOT_AVAILABLE, PartitionIndex: 2, LeaderID: -1},
		},
	}}
	store.Update(*meta)

	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()
	ctx := context.Background()

	_, err = leaders.ConnectionToLeader(ctx, "T", 1)
	var nodeErr *NodeNotFoundError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != 7 || nodeErr.Partition != 1 {
		t.Fatalf("expected NodeNotFoundError for node 7, got %v", err)
	}
	// other partitions of the same response still resolve
	if _, err := leaders.ConnectionToLeader(ctx, "T", 0); err != nil {
		t.Fatalf("partition 0: %v", err)
	}

	_, err = leaders.ConnectionToLeader(ctx, "T", 2)
	var leaderErr *LeaderNotFoundError
	if !errors.As(err, &leaderErr) || leaderErr.Code != protocol.LEADER_NOT_AVAILABLE {
		t.Fatalf("expected LeaderNotFoundError with the partition code, got %v", err)
	}
	if !errors.Is(err, kerr.LeaderNotAvailable) {
		t.Fatalf("expected kerr match, got %v", err)
	}
}

func TestLeadersForgetStaleReasons(t *testing.T) {
	store, nodes := startCluster(t, 1)
	meta, err := store.Metadata(context.Background(), nil)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	base := *meta
	meta.Topics = []protocol.MetadataTopic{{
		Name: "T",
		Partitions: []protocol.MetadataPartition{
			{PartitionIndex: 0, LeaderID: 1, ReplicaNodes: []int32{1}, ISRNodes: []int32{1}},
			{PartitionIndex: 1, LeaderID: 7, ReplicaNodes: []int32{7}, ISRNodes: []int32{7}},
			{ErrorCode: protocol.LEADER_NOT_AVAILABLE, PartitionIndex: 2, LeaderID: -1},
		},
	}}
	store.Update(*meta)

	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()
	ctx := context.Background()

	var nodeErr *NodeNotFoundError
	if _, err := leaders.ConnectionToLeader(ctx, "T", 1); !errors.As(err, &nodeErr) {
		t.Fatalf("expected NodeNotFoundError, got %v", err)
	}

	// partitions 1 and 2 are no longer listed
	meta.Topics[0].Partitions = meta.Topics[0].Partitions[:1]
	store.Update(*meta)

	_, err = leaders.ConnectionToLeader(ctx, "T", 1)
	var leaderErr *LeaderNotFoundError
	if !errors.As(err, &leaderErr) || !leaderErr.Code.OK() {
		t.Fatalf("expected LeaderNotFoundError with the topic code, got %v", err)
	}
	_, err = leaders.ConnectionToLeader(ctx, "T", 2)
	if !errors.As(err, &leaderErr) || leaderErr.Code != protocol.NONE {
		t.Fatalf("stale LEADER_NOT_AVAILABLE survived the refresh: %v", err)
	}

	// the topic disappears altogether
	store.Update(base)
	_, err = leaders.ConnectionToLeader(ctx, "T", 2)
	if !errors.As(err, &leaderErr) || leaderErr.Code != protocol.UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatalf("expected unknown topic code, got %v", err)
	}
	if _, err := leaders.ConnectionToLeader(ctx, "T", 0); err != nil {
		t.Fatalf("cached partition 0: %v", err)
	}
}

func TestLeadersMissingPartition(t *testing.T) {
	store, nodes := startCluster(t, 1)
	createTopic(t, store, "T", 1)
	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()
	ctx := context.Background()

	_, err := leaders.ConnectionToLeader(ctx, "T", 5)
	var leaderErr *LeaderNotFoundError
	if !errors.As(err, &leaderErr) || leaderErr.Partition != 5 || !leaderErr.Code.OK() {
		t.Fatalf("expected LeaderNotFoundError, got %v", err)
	}

	_, err = leaders.ConnectionToLeader(ctx, "ghost", 0)
	if !errors.As(err, &leaderErr) || leaderErr.Code != protocol.UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatalf("expected unknown topic code, got %v", err)
	}
}

func TestLeadersConcurrentLookups(t *testing.T) {
	store, nodes := startCluster(t, 2)
	createTopic(t, store, "T", 4)
	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	defer leaders.Shutdown()

	const callers = 8
	got := make([]*connection.LazyConn, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = leaders.ConnectionToLeader(context.Background(), "T", 2)
		}(i)
	}
	wg.Wait()
	for i := range got {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if got[i] != got[0] {
			t.Fatalf("caller %d saw a different connection", i)
		}
	}
	if fetches := metadataFetches(nodes); fetches < 1 || fetches > callers {
		t.Fatalf("unexpected fetch count %d", fetches)
	}
}

func TestLeadersMetrics(t *testing.T) {
	store, nodes := startCluster(t, 1)
	createTopic(t, store, "T", 1)
	cfg := configFor(nodes...)
	reg := prometheus.NewRegistry()
	cfg.Metrics = connection.NewMetrics(reg)
	leaders := NewTopicPartitionLeaders(cfg)
	defer leaders.Shutdown()

	for i := 0; i < 3; i++ {
		if _, err := leaders.ConnectionToLeader(context.Background(), "T", 0); err != nil {
			t.Fatalf("lookup: %v", err)
		}
	}
	if n, err := testutil.GatherAndCount(reg, "kafclient_leader_cache_lookups_total"); err != nil || n != 2 {
		t.Fatalf("expected hit and miss series, got %d err=%v", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "kafclient_metadata_fetches_total"); err != nil || n != 1 {
		t.Fatalf("expected metadata fetch counter, got %d err=%v", n, err)
	}
}

func TestLeadersShutdown(t *testing.T) {
	store, nodes := startCluster(t, 2)
	createTopic(t, store, "T", 2)
	leaders := NewTopicPartitionLeaders(configFor(nodes...))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p0, err := leaders.ConnectionToLeader(ctx, "T", 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := p0.Send(ctx, &protocol.ApiVersionsRequest{}, &protocol.ApiVersionsResponse{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := leaders.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := p0.Send(ctx, &protocol.ApiVersionsRequest{}, &protocol.ApiVersionsResponse{}); !errors.Is(err, connection.ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}
