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

package client

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/novatechflow/kafclient/pkg/broker"
	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/metadata"
	"github.com/novatechflow/kafclient/pkg/protocol"
	"github.com/novatechflow/kafclient/pkg/record"
)

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

func configFor(nodes ...*broker.Node) *connection.Config {
	cfg := &connection.Config{ClientID: "client-test"}
	for _, n := range nodes {
		cfg.BrokerList = append(cfg.BrokerList, connection.BrokerAddress(n.Addr()))
	}
	return cfg
}

func TestMetadataClientAdminFlow(t *testing.T) {
	_, nodes := startCluster(t, 2)
	ctx := context.Background()
	mc := NewMetadataClient(configFor(nodes...))
	defer mc.Shutdown()

	versions, err := mc.ApiVersions(ctx)
	if err != nil {
		t.Fatalf("ApiVersions: %v", err)
	}
	if _, ok := versions.Version(protocol.APIKeyMetadata); !ok {
		t.Fatalf("metadata api missing from %+v", versions.APIKeys)
	}

	err = mc.CreateTopics(ctx, []protocol.CreatableTopic{
		{Name: "orders", NumPartitions: 2, ReplicationFactor: 1},
	}, time.Second)
	if err != nil {
		t.Fatalf("CreateTopics: %v", err)
	}

	meta, err := mc.GetMetadata(ctx, "orders")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	orders, ok := meta.Topic("orders")
	if !ok || len(orders.Partitions) != 2 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if orders.Partitions[0].LeaderID != 1 || orders.Partitions[1].LeaderID != 2 {
		t.Fatalf("expected leaders spread over both brokers: %+v", orders.Partitions)
	}

	err = mc.CreateTopics(ctx, []protocol.CreatableTopic{
		{Name: "orders", NumPartitions: 1, ReplicationFactor: 1},
		{Name: "audit", NumPartitions: 1, ReplicationFactor: 1},
		{Name: "broken", NumPartitions: 0, ReplicationFactor: 1},
	}, time.Second)
	var topicErrs *TopicErrors
	if !errors.As(err, &topicErrs) {
		t.Fatalf("expected *TopicErrors got %v", err)
	}
	if topicErrs.Operation != TopicCreation || len(topicErrs.Errors) != 2 {
		t.Fatalf("unexpected topic errors: %+v", topicErrs)
	}
	if topicErrs.Errors[0] != (TopicError{Topic: "orders", Code: protocol.TOPIC_ALREADY_EXISTS}) {
		t.Fatalf("unexpected first error: %+v", topicErrs.Errors[0])
	}
	if topicErrs.Errors[1].Topic != "broken" {
		t.Fatalf("unexpected second error: %+v", topicErrs.Errors[1])
	}
	if !errors.Is(err, kerr.TopicAlreadyExists) {
		t.Fatalf("expected errors.Is match on kerr.TopicAlreadyExists: %v", err)
	}

	err = mc.DeleteTopics(ctx, []string{"audit", "ghost"}, time.Second)
	if !errors.As(err, &topicErrs) || topicErrs.Operation != TopicDeletion {
		t.Fatalf("expected deletion errors got %v", err)
	}
	if len(topicErrs.Errors) != 1 || topicErrs.Errors[0].Topic != "ghost" || topicErrs.Errors[0].Code != protocol.UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatalf("unexpected deletion errors: %+v", topicErrs.Errors)
	}
	if err := mc.DeleteTopics(ctx, []string{"orders"}, time.Second); err != nil {
		t.Fatalf("DeleteTopics: %v", err)
	}
}

func TestMetadataClientUnreachable(t *testing.T) {
	mc := NewMetadataClient(&connection.Config{
		BrokerList:  connection.BrokerList{"127.0.0.1:1"},
		ClientID:    "client-test",
		DialTimeout: 500 * time.Millisecond,
	})
	defer mc.Shutdown()
	if _, err := mc.GetMetadata(context.Background()); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestProduceClientWritesBatches(t *testing.T) {
	store, nodes := startCluster(t, 2)
	ctx := context.Background()
	if _, err := store.CreateTopic(ctx, metadata.TopicSpec{Name: "orders", NumPartitions: 2, ReplicationFactor: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	conn := connection.NewLazyConn(configFor(nodes[0]))
	defer conn.Shutdown()
	pc := NewProduceClient(conn)
	fixed := time.UnixMilli(1_700_000_000_123)
	pc.now = func() time.Time { return fixed }

	resp, err := pc.Produce(ctx, "orders", 0, []byte("Hello"), 1, time.Second)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if p := resp.Topics[0].Partitions[0]; !p.ErrorCode.OK() || p.BaseOffset != 0 {
		t.Fatalf("unexpected produce result: %+v", p)
	}
	resp, err = pc.ProduceRecords(ctx, "orders", 0, []record.Record{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("v2"), Headers: []record.Header{{Key: "trace", Value: []byte("abc")}}},
	}, -1, time.Second)
	if err != nil {
		t.Fatalf("ProduceRecords: %v", err)
	}
	if p := resp.Topics[0].Partitions[0]; p.BaseOffset != 1 {
		t.Fatalf("expected base offset 1 got %d", p.BaseOffset)
	}

	appended := nodes[0].Handler.Appended("orders", 0)
	if len(appended) != 2 {
		t.Fatalf("expected 2 batches on the leader got %d", len(appended))
	}
	first, err := record.Decode(appended[0])
	if err != nil {
		t.Fatalf("decode appended batch: %v", err)
	}
	if first.BaseTimestamp != fixed.UnixMilli() || first.MaxTimestamp != fixed.UnixMilli() {
		t.Fatalf("expected millisecond timestamps, got %d/%d", first.BaseTimestamp, first.MaxTimestamp)
	}
	if first.ProducerID != -1 || first.ProducerEpoch != -1 || first.BaseSequence != -1 {
		t.Fatalf("expected no idempotence fields: %+v", first)
	}
	if len(first.Records) != 1 || string(first.Records[0].Value) != "Hello" || first.Records[0].Key != nil {
		t.Fatalf("unexpected records: %+v", first.Records)
	}
	second, err := record.Decode(appended[1])
	if err != nil {
		t.Fatalf("decode second batch: %v", err)
	}
	if second.LastOffsetDelta != 1 || second.Records[1].OffsetDelta != 1 || second.Records[1].Headers[0].Key != "trace" {
		t.Fatalf("unexpected second batch: %+v", second)
	}
}

func TestProduceClientReportsPartitionErrors(t *testing.T) {
	store, nodes := startCluster(t, 2)
	ctx := context.Background()
	if _, err := store.CreateTopic(ctx, metadata.TopicSpec{Name: "orders", NumPartitions: 2, ReplicationFactor: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	// partition 1 is led by node 2
	conn := connection.NewLazyConn(configFor(nodes[0]))
	defer conn.Shutdown()
	pc := NewProduceClient(conn)

	resp, err := pc.Produce(ctx, "orders", 1, []byte("misrouted"), 1, time.Second)
	var produceErrs *ProduceErrors
	if !errors.As(err, &produceErrs) {
		t.Fatalf("expected *ProduceErrors got %v", err)
	}
	if resp == nil {
		t.Fatalf("expected the response alongside partition errors")
	}
	want := PartitionError{Topic: "orders", Partition: 1, Code: protocol.NOT_LEADER_FOR_PARTITION}
	if len(produceErrs.Errors) != 1 || produceErrs.Errors[0] != want {
		t.Fatalf("unexpected produce errors: %+v", produceErrs.Errors)
	}
	if !produceErrs.Retriable() {
		t.Fatalf("NOT_LEADER_FOR_PARTITION should be retriable")
	}
	if !errors.Is(err, kerr.NotLeaderForPartition) {
		t.Fatalf("expected errors.Is match on kerr.NotLeaderForPartition")
	}
}

func TestProduceClientAcksZero(t *testing.T) {
	store, nodes := startCluster(t, 1)
	ctx := context.Background()
	if _, err := store.CreateTopic(ctx, metadata.TopicSpec{Name: "events", NumPartitions: 1, ReplicationFactor: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	conn := connection.NewLazyConn(configFor(nodes[0]))
	defer conn.Shutdown()
	pc := NewProduceClient(conn)

	resp, err := pc.Produce(ctx, "events", 0, []byte("fire and forget"), 0, time.Second)
	if err != nil || resp != nil {
		t.Fatalf("expected nil response and error, got %v %v", resp, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(nodes[0].Handler.Appended("events", 0)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("broker never received the acks=0 batch")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// the connection stays in step for acknowledged requests
	if _, err := pc.Produce(ctx, "events", 0, []byte("acked"), 1, time.Second); err != nil {
		t.Fatalf("Produce after acks=0: %v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	topicErrs := &TopicErrors{Operation: TopicDeletion, Errors: []TopicError{{Topic: "a", Code: protocol.UNKNOWN_TOPIC_OR_PARTITION}}}
	if got := topicErrs.Error(); got != "topic deletion failed for 1 topic(s): a: UNKNOWN_TOPIC_OR_PARTITION" {
		t.Fatalf("unexpected message %q", got)
	}
	produceErrs := &ProduceErrors{Errors: []PartitionError{
		{Topic: "a", Partition: 0, Code: protocol.NOT_LEADER_FOR_PARTITION},
		{Topic: "b", Partition: 3, Code: protocol.INVALID_REQUIRED_ACKS},
		{Topic: "a", Partition: 1, Code: protocol.NOT_LEADER_FOR_PARTITION},
	}}
	if got := produceErrs.Error(); got != "produce failed for 3 partition(s): a[0]: NOT_LEADER_FOR_PARTITION, b[3]: INVALID_REQUIRED_ACKS, a[1]: NOT_LEADER_FOR_PARTITION" {
		t.Fatalf("unexpected message %q", got)
	}
	if produceErrs.Retriable() {
		t.Fatalf("INVALID_REQUIRED_ACKS is not retriable")
	}
	if topics := produceErrs.Topics(); len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
		t.Fatalf("unexpected topics %v", topics)
	}
	if collectTopicErrors(TopicCreation, []protocol.TopicResult{{Name: "ok"}}) != nil {
		t.Fatalf("successful topics must not produce an error")
	}
}
