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

package protocol

// RequestHeader precedes every request body.
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      string
}

func (h *RequestHeader) Size() int {
	return 2 + 2 + 4 + StringSize(h.ClientID)
}

func (h *RequestHeader) Encode(w *Writer) {
	w.Int16(h.APIKey)
	w.Int16(h.APIVersion)
	w.Int32(h.CorrelationID)
	w.String(h.ClientID)
}

// Decode accepts a null client id as well, which other clients send.
func (h *RequestHeader) Decode(r *Reader) error {
	var err error
	if h.APIKey, err = r.Int16(); err != nil {
		return err
	}
	if h.APIVersion, err = r.Int16(); err != nil {
		return err
	}
	if h.CorrelationID, err = r.Int32(); err != nil {
		return err
	}
	h.ClientID, err = r.NullableString()
	return err
}

// Request is a request body with a fixed API key and version.
type Request interface {
	Encoder
	APIKey() int16
	APIVersion() int16
}

// Response is a response body decoded after the correlation id.
type Response interface {
	Decoder
}

// ApiVersionsRequest (v0) has an empty body.
type ApiVersionsRequest struct{}

func (ApiVersionsRequest) APIKey() int16         { return APIKeyApiVersion }
func (ApiVersionsRequest) APIVersion() int16     { return 0 }
func (ApiVersionsRequest) Size() int             { return 0 }
func (ApiVersionsRequest) Encode(*Writer)        {}
func (*ApiVersionsRequest) Decode(*Reader) error { return nil }

// MetadataRequest (v0) asks for the named topics; an empty list asks for
// every topic.
type MetadataRequest struct {
	Topics []string
}

func (*MetadataRequest) APIKey() int16     { return APIKeyMetadata }
func (*MetadataRequest) APIVersion() int16 { return 0 }

func (m *MetadataRequest) Size() int { return Strings(m.Topics).Size() }

func (m *MetadataRequest) Encode(w *Writer) { Strings(m.Topics).Encode(w) }

func (m *MetadataRequest) Decode(r *Reader) error {
	topics, err := ReadStrings(r)
	m.Topics = topics
	return err
}

// CreatableTopic is one topic in a CreateTopics request.
type CreatableTopic struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	Assignments       []ReplicaAssignment
	Configs           []TopicConfig
}

func (t CreatableTopic) Size() int {
	return StringSize(t.Name) + 4 + 2 + ArraySize(t.Assignments) + ArraySize(t.Configs)
}

func (t CreatableTopic) Encode(w *Writer) {
	w.String(t.Name)
	w.Int32(t.NumPartitions)
	w.Int16(t.ReplicationFactor)
	WriteArray(w, t.Assignments)
	WriteArray(w, t.Configs)
}

func readCreatableTopic(r *Reader) (CreatableTopic, error) {
	var t CreatableTopic
	var err error
	if t.Name, err = r.String(); err != nil {
		return t, err
	}
	if t.NumPartitions, err = r.Int32(); err != nil {
		return t, err
	}
	if t.ReplicationFactor, err = r.Int16(); err != nil {
		return t, err
	}
	if t.Assignments, err = ReadArray(r, readReplicaAssignment); err != nil {
		return t, err
	}
	t.Configs, err = ReadArray(r, readTopicConfig)
	return t, err
}

// ReplicaAssignment pins a partition to explicit brokers.
type ReplicaAssignment struct {
	PartitionIndex int32
	BrokerIDs      []int32
}

func (a ReplicaAssignment) Size() int { return 4 + Int32s(a.BrokerIDs).Size() }

func (a ReplicaAssignment) Encode(w *Writer) {
	w.Int32(a.PartitionIndex)
	Int32s(a.BrokerIDs).Encode(w)
}

func readReplicaAssignment(r *Reader) (ReplicaAssignment, error) {
	var a ReplicaAssignment
	var err error
	if a.PartitionIndex, err = r.Int32(); err != nil {
		return a, err
	}
	a.BrokerIDs, err = ReadInt32s(r)
	return a, err
}

// TopicConfig is a topic level config override. An empty Value is sent as
// null.
type TopicConfig struct {
	Name  string
	Value string
}

func (c TopicConfig) Size() int { return StringSize(c.Name) + NullableStringSize(c.Value) }

func (c TopicConfig) Encode(w *Writer) {
	w.String(c.Name)
	w.NullableString(c.Value)
}

func readTopicConfig(r *Reader) (TopicConfig, error) {
	var c TopicConfig
	var err error
	if c.Name, err = r.String(); err != nil {
		return c, err
	}
	c.Value, err = r.NullableString()
	return c, err
}

// CreateTopicsRequest (v0).
type CreateTopicsRequest struct {
	Topics        []CreatableTopic
	TimeoutMillis int32
}

func (*CreateTopicsRequest) APIKey() int16     { return APIKeyCreateTopics }
func (*CreateTopicsRequest) APIVersion() int16 { return 0 }

func (c *CreateTopicsRequest) Size() int { return ArraySize(c.Topics) + 4 }

func (c *CreateTopicsRequest) Encode(w *Writer) {
	WriteArray(w, c.Topics)
	w.Int32(c.TimeoutMillis)
}

func (c *CreateTopicsRequest) Decode(r *Reader) error {
	var err error
	if c.Topics, err = ReadArray(r, readCreatableTopic); err != nil {
		return err
	}
	c.TimeoutMillis, err = r.Int32()
	return err
}

// DeleteTopicsRequest (v0).
type DeleteTopicsRequest struct {
	TopicNames    []string
	TimeoutMillis int32
}

func (*DeleteTopicsRequest) APIKey() int16     { return APIKeyDeleteTopics }
func (*DeleteTopicsRequest) APIVersion() int16 { return 0 }

func (d *DeleteTopicsRequest) Size() int { return Strings(d.TopicNames).Size() + 4 }

func (d *DeleteTopicsRequest) Encode(w *Writer) {
	Strings(d.TopicNames).Encode(w)
	w.Int32(d.TimeoutMillis)
}

func (d *DeleteTopicsRequest) Decode(r *Reader) error {
	var err error
	if d.TopicNames, err = ReadStrings(r); err != nil {
		return err
	}
	d.TimeoutMillis, err = r.Int32()
	return err
}

// ProducePartition carries one encoded record batch for a partition.
// A nil Records is sent as null.
type ProducePartition struct {
	Partition int32
	Records   []byte
}

func (p ProducePartition) Size() int { return 4 + NullableBytesSize(p.Records) }

func (p ProducePartition) Encode(w *Writer) {
	w.Int32(p.Partition)
	w.NullableBytes(p.Records)
}

func readProducePartition(r *Reader) (ProducePartition, error) {
	var p ProducePartition
	var err error
	if p.Partition, err = r.Int32(); err != nil {
		return p, err
	}
	p.Records, err = r.NullableBytes()
	return p, err
}

// ProduceTopic groups partition data for one topic.
type ProduceTopic struct {
	Name       string
	Partitions []ProducePartition
}

func (t ProduceTopic) Size() int { return StringSize(t.Name) + ArraySize(t.Partitions) }

func (t ProduceTopic) Encode(w *Writer) {
	w.String(t.Name)
	WriteArray(w, t.Partitions)
}

func readProduceTopic(r *Reader) (ProduceTopic, error) {
	var t ProduceTopic
	var err error
	if t.Name, err = r.String(); err != nil {
		return t, err
	}
	t.Partitions, err = ReadArray(r, readProducePartition)
	return t, err
}

// ProduceRequest (v3). An empty TransactionalID is sent as null.
type ProduceRequest struct {
	TransactionalID string
	Acks            int16
	TimeoutMillis   int32
	Topics          []ProduceTopic
}

func (*ProduceRequest) APIKey() int16     { return APIKeyProduce }
func (*ProduceRequest) APIVersion() int16 { return 3 }

func (p *ProduceRequest) Size() int {
	return NullableStringSize(p.TransactionalID) + 2 + 4 + ArraySize(p.Topics)
}

func (p *ProduceRequest) Encode(w *Writer) {
	w.NullableString(p.TransactionalID)
	w.Int16(p.Acks)
	w.Int32(p.TimeoutMillis)
	WriteArray(w, p.Topics)
}

func (p *ProduceRequest) Decode(r *Reader) error {
	var err error
	if p.TransactionalID, err = r.NullableString(); err != nil {
		return err
	}
	if p.Acks, err = r.Int16(); err != nil {
		return err
	}
	if p.TimeoutMillis, err = r.Int32(); err != nil {
		return err
	}
	p.Topics, err = ReadArray(r, readProduceTopic)
	return err
}
