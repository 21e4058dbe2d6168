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

package broker

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/kafclient/pkg/metadata"
	"github.com/novatechflow/kafclient/pkg/protocol"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Supported version ranges. Only non-flexible versions are served so the
// response header stays a bare correlation id.
var supportedVersions = map[int16][2]int16{
	protocol.APIKeyProduce:      {3, 8},
	protocol.APIKeyMetadata:     {0, 8},
	protocol.APIKeyApiVersion:   {0, 2},
	protocol.APIKeyCreateTopics: {0, 4},
	protocol.APIKeyDeleteTopics: {0, 3},
}

// Cluster answers requests as broker NodeID of the cluster described by
// Store. Request bodies are decoded and responses encoded with kmsg.
type Cluster struct {
	NodeID int32
	Store  metadata.Store
	Logger *slog.Logger
	// OnAppend, when set, is called after each accepted batch.
	OnAppend func(topic string, partition int32, records int32)

	mu       sync.Mutex
	requests map[int16]int
	appended map[string][][]byte
}

// NewCluster returns a handler serving as nodeID.
func NewCluster(nodeID int32, store metadata.Store) *Cluster {
	return &Cluster{NodeID: nodeID, Store: store}
}

// Requests reports how many requests with apiKey this node has served.
func (c *Cluster) Requests(apiKey int16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[apiKey]
}

// Appended returns the raw record batches accepted for a partition in
// append order.
func (c *Cluster) Appended(topic string, partition int32) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.appended[appendKey(topic, partition)]...)
}

func appendKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}

func (c *Cluster) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Handle implements Handler.
func (c *Cluster) Handle(ctx context.Context, header *protocol.RequestHeader, body []byte) ([]byte, error) {
	c.mu.Lock()
	if c.requests == nil {
		c.requests = make(map[int16]int)
	}
	c.requests[header.APIKey]++
	c.mu.Unlock()

	versions, ok := supportedVersions[header.APIKey]
	if !ok {
		return nil, fmt.Errorf("unsupported api key %d", header.APIKey)
	}
	if header.APIVersion < versions[0] || header.APIVersion > versions[1] {
		if header.APIKey == protocol.APIKeyApiVersion {
			resp := c.apiVersions()
			resp.ErrorCode = int16(protocol.UNSUPPORTED_VERSION)
			return resp.AppendTo(nil), nil
		}
		return nil, fmt.Errorf("unsupported %s version %d", protocol.APIName(header.APIKey), header.APIVersion)
	}

	req := kmsg.RequestForKey(header.APIKey)
	req.SetVersion(header.APIVersion)
	if err := req.ReadFrom(body); err != nil {
		return nil, fmt.Errorf("decode %s v%d: %w", protocol.APIName(header.APIKey), header.APIVersion, err)
	}

	var resp kmsg.Response
	var err error
	switch r := req.(type) {
	case *kmsg.ApiVersionsRequest:
		resp = c.apiVersions()
	case *kmsg.MetadataRequest:
		resp, err = c.metadata(ctx, r)
	case *kmsg.CreateTopicsRequest:
		resp = c.createTopics(ctx, r)
	case *kmsg.DeleteTopicsRequest:
		resp = c.deleteTopics(ctx, r)
	case *kmsg.ProduceRequest:
		var produced *kmsg.ProduceResponse
		produced, err = c.produce(ctx, r)
		if produced == nil {
			return nil, err
		}
		resp = produced
	}
	if err != nil || resp == nil {
		return nil, err
	}
	resp.SetVersion(header.APIVersion)
	return resp.AppendTo(nil), nil
}

func (c *Cluster) apiVersions() *kmsg.ApiVersionsResponse {
	resp := kmsg.NewPtrApiVersionsResponse()
	for _, key := range []int16{protocol.APIKeyProduce, protocol.APIKeyMetadata, protocol.APIKeyApiVersion, protocol.APIKeyCreateTopics, protocol.APIKeyDeleteTopics} {
		v := kmsg.NewApiVersionsResponseApiKey()
		v.ApiKey = key
		v.MinVersion = supportedVersions[key][0]
		v.MaxVersion = supportedVersions[key][1]
		resp.ApiKeys = append(resp.ApiKeys, v)
	}
	return resp
}

func (c *Cluster) metadata(ctx context.Context, req *kmsg.MetadataRequest) (*kmsg.MetadataResponse, error) {
	var names []string
	for _, t := range req.Topics {
		if t.Topic != nil {
			names = append(names, *t.Topic)
		}
	}
	meta, err := c.Store.Metadata(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	resp := kmsg.NewPtrMetadataResponse()
	resp.ControllerID = meta.ControllerID
	for _, b := range meta.Brokers {
		broker := kmsg.NewMetadataResponseBroker()
		broker.NodeID = b.NodeID
		broker.Host = b.Host
		broker.Port = b.Port
		resp.Brokers = append(resp.Brokers, broker)
	}
	// v1+ sends an empty list to ask for no topics
	if len(names) == 0 && req.Version > 0 && req.Topics != nil {
		return resp, nil
	}
	for _, t := range meta.Topics {
		topic := kmsg.NewMetadataResponseTopic()
		topic.ErrorCode = int16(t.ErrorCode)
		topic.Topic = kmsg.StringPtr(t.Name)
		for _, p := range t.Partitions {
			part := kmsg.NewMetadataResponseTopicPartition()
			part.ErrorCode = int16(p.ErrorCode)
			part.Partition = p.PartitionIndex
			part.Leader = p.LeaderID
			part.Replicas = p.ReplicaNodes
			part.ISR = p.ISRNodes
			topic.Partitions = append(topic.Partitions, part)
		}
		resp.Topics = append(resp.Topics, topic)
	}
	return resp, nil
}

func (c *Cluster) createTopics(ctx context.Context, req *kmsg.CreateTopicsRequest) *kmsg.CreateTopicsResponse {
	resp := kmsg.NewPtrCreateTopicsResponse()
	for _, t := range req.Topics {
		_, err := c.Store.CreateTopic(ctx, metadata.TopicSpec{
			Name:              t.Topic,
			NumPartitions:     t.NumPartitions,
			ReplicationFactor: t.ReplicationFactor,
		})
		result := kmsg.NewCreateTopicsResponseTopic()
		result.Topic = t.Topic
		result.ErrorCode = int16(metadata.ErrorCode(err))
		if err != nil {
			c.logger().Debug("create topic failed", "topic", t.Topic, "error", err)
		}
		resp.Topics = append(resp.Topics, result)
	}
	return resp
}

func (c *Cluster) deleteTopics(ctx context.Context, req *kmsg.DeleteTopicsRequest) *kmsg.DeleteTopicsResponse {
	resp := kmsg.NewPtrDeleteTopicsResponse()
	for _, name := range req.TopicNames {
		err := c.Store.DeleteTopic(ctx, name)
		result := kmsg.NewDeleteTopicsResponseTopic()
		result.Topic = kmsg.StringPtr(name)
		result.ErrorCode = int16(metadata.ErrorCode(err))
		resp.Topics = append(resp.Topics, result)
	}
	return resp
}

func (c *Cluster) produce(ctx context.Context, req *kmsg.ProduceRequest) (*kmsg.ProduceResponse, error) {
	meta, err := c.Store.Metadata(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	validAcks := req.Acks == -1 || req.Acks == 0 || req.Acks == 1
	resp := kmsg.NewPtrProduceResponse()
	for _, t := range req.Topics {
		topic := kmsg.NewProduceResponseTopic()
		topic.Topic = t.Topic
		for _, p := range t.Partitions {
			part := kmsg.NewProduceResponseTopicPartition()
			part.Partition = p.Partition
			part.LogAppendTime = -1
			if !validAcks {
				part.ErrorCode = int16(protocol.INVALID_REQUIRED_ACKS)
			} else {
				part.BaseOffset, part.ErrorCode = c.append(ctx, meta, t.Topic, p.Partition, p.Records)
			}
			topic.Partitions = append(topic.Partitions, part)
		}
		resp.Topics = append(resp.Topics, topic)
	}
	if req.Acks == 0 {
		return nil, nil
	}
	return resp, nil
}

func (c *Cluster) append(ctx context.Context, meta *metadata.ClusterMetadata, topic string, partition int32, records []byte) (int64, int16) {
	switch leader := meta.Leader(topic, partition); {
	case leader == -1:
		return -1, int16(protocol.UNKNOWN_TOPIC_OR_PARTITION)
	case leader != c.NodeID:
		return -1, int16(protocol.NOT_LEADER_FOR_PARTITION)
	}
	count, err := validateBatch(records)
	if err != nil {
		c.logger().Debug("rejecting record batch", "topic", topic, "partition", partition, "error", err)
		return -1, int16(protocol.CORRUPT_MESSAGE)
	}
	base, err := c.Store.NextOffset(ctx, topic, partition)
	if err != nil {
		return -1, int16(metadata.ErrorCode(err))
	}
	if err := c.Store.UpdateOffsets(ctx, topic, partition, base+int64(count)-1); err != nil {
		return -1, int16(protocol.UNKNOWN_SERVER_ERROR)
	}
	c.mu.Lock()
	if c.appended == nil {
		c.appended = make(map[string][][]byte)
	}
	key := appendKey(topic, partition)
	c.appended[key] = append(c.appended[key], append([]byte(nil), records...))
	c.mu.Unlock()
	if c.OnAppend != nil {
		c.OnAppend(topic, partition, count)
	}
	return base, 0
}

// validateBatch checks a single v2 record batch and returns its record count.
func validateBatch(raw []byte) (int32, error) {
	if raw == nil {
		return 0, fmt.Errorf("null record set")
	}
	var batch kmsg.RecordBatch
	if err := batch.ReadFrom(raw); err != nil {
		return 0, err
	}
	if batch.Magic != 2 {
		return 0, fmt.Errorf("magic %d", batch.Magic)
	}
	if int(batch.Length)+12 != len(raw) {
		return 0, fmt.Errorf("batch length %d for %d bytes", batch.Length, len(raw))
	}
	if crc := crc32.Checksum(raw[21:], castagnoli); crc != uint32(batch.CRC) {
		return 0, fmt.Errorf("crc %08x, computed %08x", uint32(batch.CRC), crc)
	}
	if batch.NumRecords <= 0 {
		return 0, fmt.Errorf("batch with %d records", batch.NumRecords)
	}
	return batch.NumRecords, nil
}
