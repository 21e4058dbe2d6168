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

package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

// Store exposes the cluster state a Kafka protocol handler answers from.
type Store interface {
	// Metadata returns brokers and topics. When topics is non-empty, the
	// result is filtered to that subset and missing topics carry
	// UNKNOWN_TOPIC_OR_PARTITION.
	Metadata(ctx context.Context, topics []string) (*ClusterMetadata, error)
	// NextOffset returns the next offset to assign for a topic/partition.
	NextOffset(ctx context.Context, topic string, partition int32) (int64, error)
	// UpdateOffsets records the last appended offset so future appends continue from there.
	UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error
	// CreateTopic creates a new topic with the provided specification.
	CreateTopic(ctx context.Context, spec TopicSpec) (*protocol.MetadataTopic, error)
	// DeleteTopic removes a topic and associated offsets.
	DeleteTopic(ctx context.Context, name string) error
}

// TopicSpec describes a topic creation request.
type TopicSpec struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
}

var (
	// ErrTopicExists indicates the topic is already present.
	ErrTopicExists = errors.New("topic already exists")
	// ErrInvalidTopic indicates the topic specification is invalid.
	ErrInvalidTopic = errors.New("invalid topic configuration")
	// ErrUnknownTopic indicates the topic does not exist.
	ErrUnknownTopic = errors.New("unknown topic")
)

// ErrorCode maps a store error to the code reported on the wire.
func ErrorCode(err error) protocol.ErrorCode {
	switch {
	case err == nil:
		return protocol.NONE
	case errors.Is(err, ErrTopicExists):
		return protocol.TOPIC_ALREADY_EXISTS
	case errors.Is(err, ErrUnknownTopic):
		return protocol.UNKNOWN_TOPIC_OR_PARTITION
	case errors.Is(err, ErrInvalidTopic):
		return protocol.INVALID_PARTITIONS
	default:
		return protocol.UNKNOWN_SERVER_ERROR
	}
}

// ClusterMetadata describes the Kafka-visible cluster state.
type ClusterMetadata struct {
	Brokers      []protocol.MetadataBroker
	ControllerID int32
	Topics       []protocol.MetadataTopic
}

// Leader returns the leader id of a partition, or -1 when the partition is unknown.
func (m *ClusterMetadata) Leader(topic string, partition int32) int32 {
	for _, t := range m.Topics {
		if t.Name != topic {
			continue
		}
		for _, p := range t.Partitions {
			if p.PartitionIndex == partition {
				return p.LeaderID
			}
		}
	}
	return -1
}

// InMemoryStore is a Store backed by in-process state.
type InMemoryStore struct {
	mu      sync.RWMutex
	state   ClusterMetadata
	offsets map[string]int64
}

// NewInMemoryStore builds an in-memory metadata store with the provided state.
func NewInMemoryStore(state ClusterMetadata) *InMemoryStore {
	return &InMemoryStore{
		state:   cloneMetadata(state),
		offsets: make(map[string]int64),
	}
}

// Update swaps the cluster metadata atomically.
func (s *InMemoryStore) Update(state ClusterMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cloneMetadata(state)
}

// RegisterBrokers replaces the broker list. The controller defaults to the
// first broker when unset.
func (s *InMemoryStore) RegisterBrokers(ctx context.Context, brokers []protocol.MetadataBroker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Brokers = append([]protocol.MetadataBroker(nil), brokers...)
	if s.state.ControllerID == 0 && len(brokers) > 0 {
		s.state.ControllerID = brokers[0].NodeID
	}
	return nil
}

// Metadata implements Store.
func (s *InMemoryStore) Metadata(ctx context.Context, topics []string) (*ClusterMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := cloneMetadata(s.state)
	if len(topics) > 0 {
		state.Topics = filterTopics(state.Topics, topics)
	}
	return &state, nil
}

func filterTopics(all []protocol.MetadataTopic, requested []string) []protocol.MetadataTopic {
	index := make(map[string]protocol.MetadataTopic, len(all))
	for _, topic := range all {
		index[topic.Name] = topic
	}
	result := make([]protocol.MetadataTopic, 0, len(requested))
	for _, name := range requested {
		if topic, ok := index[name]; ok {
			result = append(result, topic)
			continue
		}
		result = append(result, protocol.MetadataTopic{
			ErrorCode: protocol.UNKNOWN_TOPIC_OR_PARTITION,
			Name:      name,
		})
	}
	return result
}

func cloneMetadata(src ClusterMetadata) ClusterMetadata {
	return ClusterMetadata{
		Brokers:      append([]protocol.MetadataBroker(nil), src.Brokers...),
		ControllerID: src.ControllerID,
		Topics:       cloneTopics(src.Topics),
	}
}

func cloneTopics(topics []protocol.MetadataTopic) []protocol.MetadataTopic {
	if topics == nil {
		return nil
	}
	out := make([]protocol.MetadataTopic, len(topics))
	for i, topic := range topics {
		out[i] = protocol.MetadataTopic{
			ErrorCode:  topic.ErrorCode,
			Name:       topic.Name,
			Partitions: clonePartitions(topic.Partitions),
		}
	}
	return out
}

func clonePartitions(parts []protocol.MetadataPartition) []protocol.MetadataPartition {
	if parts == nil {
		return nil
	}
	out := make([]protocol.MetadataPartition, len(parts))
	for i, part := range parts {
		out[i] = protocol.MetadataPartition{
			ErrorCode:      part.ErrorCode,
			PartitionIndex: part.PartitionIndex,
			LeaderID:       part.LeaderID,
			ReplicaNodes:   cloneInt32Slice(part.ReplicaNodes),
			ISRNodes:       cloneInt32Slice(part.ISRNodes),
		}
	}
	return out
}

func cloneInt32Slice(src []int32) []int32 {
	if len(src) == 0 {
		return nil
	}
	out := make([]int32, len(src))
	copy(out, src)
	return out
}

// NextOffset implements Store.NextOffset.
func (s *InMemoryStore) NextOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !topicHasPartition(s.state.Topics, topic, partition) {
		return 0, ErrUnknownTopic
	}
	return s.offsets[partitionKey(topic, partition)], nil
}

// UpdateOffsets implements Store.UpdateOffsets.
func (s *InMemoryStore) UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[partitionKey(topic, partition)] = lastOffset + 1
	return nil
}

func partitionKey(topic string, partition int32) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

// CreateTopic implements Store.CreateTopic. Partition leaders are spread
// round robin over the known brokers.
func (s *InMemoryStore) CreateTopic(ctx context.Context, spec TopicSpec) (*protocol.MetadataTopic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Name == "" || spec.NumPartitions <= 0 {
		return nil, ErrInvalidTopic
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, topic := range s.state.Topics {
		if topic.Name == spec.Name {
			return nil, ErrTopicExists
		}
	}
	if len(s.state.Brokers) == 0 || int(spec.ReplicationFactor) > len(s.state.Brokers) {
		return nil, ErrInvalidTopic
	}
	partitions := make([]protocol.MetadataPartition, spec.NumPartitions)
	for i := range partitions {
		replicas := make([]int32, spec.ReplicationFactor)
		for r := range replicas {
			replicas[r] = s.state.Brokers[(i+r)%len(s.state.Brokers)].NodeID
		}
		partitions[i] = protocol.MetadataPartition{
			PartitionIndex: int32(i),
			LeaderID:       replicas[0],
			ReplicaNodes:   replicas,
			ISRNodes:       cloneInt32Slice(replicas),
		}
	}
	newTopic := protocol.MetadataTopic{Name: spec.Name, Partitions: partitions}
	s.state.Topics = append(s.state.Topics, newTopic)
	created := cloneTopics([]protocol.MetadataTopic{newTopic})[0]
	return &created, nil
}

func topicHasPartition(topics []protocol.MetadataTopic, name string, partition int32) bool {
	for _, topic := range topics {
		if topic.Name != name {
			continue
		}
		for _, part := range topic.Partitions {
			if part.PartitionIndex == partition {
				return true
			}
		}
		return false
	}
	return false
}

// DeleteTopic implements Store.DeleteTopic.
func (s *InMemoryStore) DeleteTopic(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	index := -1
	for i, topic := range s.state.Topics {
		if topic.Name == name {
			index = i
			break
		}
	}
	if index == -1 {
		return ErrUnknownTopic
	}
	s.state.Topics = append(s.state.Topics[:index], s.state.Topics[index+1:]...)
	for key := range s.offsets {
		if strings.HasPrefix(key, name+":") {
			delete(s.offsets, key)
		}
	}
	return nil
}
