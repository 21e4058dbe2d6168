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

// ApiVersionsResponse (v0).
type ApiVersionsResponse struct {
	ErrorCode ErrorCode
	APIKeys   []ApiVersion
}

func (a *ApiVersionsResponse) Size() int { return 2 + ArraySize(a.APIKeys) }

func (a *ApiVersionsResponse) Encode(w *Writer) {
	w.Int16(int16(a.ErrorCode))
	WriteArray(w, a.APIKeys)
}

func (a *ApiVersionsResponse) Decode(r *Reader) error {
	code, err := r.Int16()
	if err != nil {
		return err
	}
	a.ErrorCode = ErrorCode(code)
	a.APIKeys, err = ReadArray(r, readApiVersion)
	return err
}

// Version returns the advertised range for key.
func (a *ApiVersionsResponse) Version(key int16) (ApiVersion, bool) {
	for _, v := range a.APIKeys {
		if v.APIKey == key {
			return v, true
		}
	}
	return ApiVersion{}, false
}

// MetadataBroker is a broker entry in a metadata response.
type MetadataBroker struct {
	NodeID int32
	Host   string
	Port   int32
}

func (b MetadataBroker) Size() int { return 4 + StringSize(b.Host) + 4 }

func (b MetadataBroker) Encode(w *Writer) {
	w.Int32(b.NodeID)
	w.String(b.Host)
	w.Int32(b.Port)
}

func readMetadataBroker(r *Reader) (MetadataBroker, error) {
	var b MetadataBroker
	var err error
	if b.NodeID, err = r.Int32(); err != nil {
		return b, err
	}
	if b.Host, err = r.String(); err != nil {
		return b, err
	}
	b.Port, err = r.Int32()
	return b, err
}

// MetadataPartition describes a partition's leader and replicas.
type MetadataPartition struct {
	ErrorCode      ErrorCode
	PartitionIndex int32
	LeaderID       int32
	ReplicaNodes   []int32
	ISRNodes       []int32
}

func (p MetadataPartition) Size() int {
	return 2 + 4 + 4 + Int32s(p.ReplicaNodes).Size() + Int32s(p.ISRNodes).Size()
}

func (p MetadataPartition) Encode(w *Writer) {
	w.Int16(int16(p.ErrorCode))
	w.Int32(p.PartitionIndex)
	w.Int32(p.LeaderID)
	Int32s(p.ReplicaNodes).Encode(w)
	Int32s(p.ISRNodes).Encode(w)
}

func readMetadataPartition(r *Reader) (MetadataPartition, error) {
	var p MetadataPartition
	code, err := r.Int16()
	if err != nil {
		return p, err
	}
	p.ErrorCode = ErrorCode(code)
	if p.PartitionIndex, err = r.Int32(); err != nil {
		return p, err
	}
	if p.LeaderID, err = r.Int32(); err != nil {
		return p, err
	}
	if p.ReplicaNodes, err = ReadInt32s(r); err != nil {
		return p, err
	}
	p.ISRNodes, err = ReadInt32s(r)
	return p, err
}

// MetadataTopic describes a topic and its partitions.
type MetadataTopic struct {
	ErrorCode  ErrorCode
	Name       string
	Partitions []MetadataPartition
}

func (t MetadataTopic) Size() int { return 2 + StringSize(t.Name) + ArraySize(t.Partitions) }

func (t MetadataTopic) Encode(w *Writer) {
	w.Int16(int16(t.ErrorCode))
	w.String(t.Name)
	WriteArray(w, t.Partitions)
}

func readMetadataTopic(r *Reader) (MetadataTopic, error) {
	var t MetadataTopic
	code, err := r.Int16()
	if err != nil {
		return t, err
	}
	t.ErrorCode = ErrorCode(code)
	if t.Name, err = r.String(); err != nil {
		return t, err
	}
	t.Partitions, err = ReadArray(r, readMetadataPartition)
	return t, err
}

// MetadataResponse (v0).
type MetadataResponse struct {
	Brokers []MetadataBroker
	Topics  []MetadataTopic
}

func (m *MetadataResponse) Size() int { return ArraySize(m.Brokers) + ArraySize(m.Topics) }

func (m *MetadataResponse) Encode(w *Writer) {
	WriteArray(w, m.Brokers)
	WriteArray(w, m.Topics)
}

func (m *MetadataResponse) Decode(r *Reader) error {
	var err error
	if m.Brokers, err = ReadArray(r, readMetadataBroker); err != nil {
		return err
	}
	m.Topics, err = ReadArray(r, readMetadataTopic)
	return err
}

// Broker returns the broker with the given node id.
func (m *MetadataResponse) Broker(nodeID int32) (MetadataBroker, bool) {
	for _, b := range m.Brokers {
		if b.NodeID == nodeID {
			return b, true
		}
	}
	return MetadataBroker{}, false
}

// Topic returns the named topic.
func (m *MetadataResponse) Topic(name string) (MetadataTopic, bool) {
	for _, t := range m.Topics {
		if t.Name == name {
			return t, true
		}
	}
	return MetadataTopic{}, false
}

// TopicResult is the per-topic outcome of CreateTopics and DeleteTopics.
type TopicResult struct {
	Name      string
	ErrorCode ErrorCode
}

func (t TopicResult) Size() int { return StringSize(t.Name) + 2 }

func (t TopicResult) Encode(w *Writer) {
	w.String(t.Name)
	w.Int16(int16(t.ErrorCode))
}

func readTopicResult(r *Reader) (TopicResult, error) {
	var t TopicResult
	var err error
	if t.Name, err = r.String(); err != nil {
		return t, err
	}
	code, err := r.Int16()
	t.ErrorCode = ErrorCode(code)
	return t, err
}

// CreateTopicsResponse (v0).
type CreateTopicsResponse struct {
	Topics []TopicResult
}

func (c *CreateTopicsResponse) Size() int        { return ArraySize(c.Topics) }
func (c *CreateTopicsResponse) Encode(w *Writer) { WriteArray(w, c.Topics) }

func (c *CreateTopicsResponse) Decode(r *Reader) error {
	var err error
	c.Topics, err = ReadArray(r, readTopicResult)
	return err
}

// DeleteTopicsResponse (v0).
type DeleteTopicsResponse struct {
	Topics []TopicResult
}

func (d *DeleteTopicsResponse) Size() int        { return ArraySize(d.Topics) }
func (d *DeleteTopicsResponse) Encode(w *Writer) { WriteArray(w, d.Topics) }

func (d *DeleteTopicsResponse) Decode(r *Reader) error {
	var err error
	d.Topics, err = ReadArray(r, readTopicResult)
	return err
}

// ProducePartitionResponse is the outcome of producing to one partition.
type ProducePartitionResponse struct {
	Partition           int32
	ErrorCode           ErrorCode
	BaseOffset          int64
	LogAppendTimeMillis int64
}

func (p ProducePartitionResponse) Size() int { return 4 + 2 + 8 + 8 }

func (p ProducePartitionResponse) Encode(w *Writer) {
	w.Int32(p.Partition)
	w.Int16(int16(p.ErrorCode))
	w.Int64(p.BaseOffset)
	w.Int64(p.LogAppendTimeMillis)
}

func readProducePartitionResponse(r *Reader) (ProducePartitionResponse, error) {
	var p ProducePartitionResponse
	var err error
	if p.Partition, err = r.Int32(); err != nil {
		return p, err
	}
	code, err := r.Int16()
	if err != nil {
		return p, err
	}
	p.ErrorCode = ErrorCode(code)
	if p.BaseOffset, err = r.Int64(); err != nil {
		return p, err
	}
	p.LogAppendTimeMillis, err = r.Int64()
	return p, err
}

// ProduceTopicResponse groups partition outcomes for one topic.
type ProduceTopicResponse struct {
	Name       string
	Partitions []ProducePartitionResponse
}

func (t ProduceTopicResponse) Size() int { return StringSize(t.Name) + ArraySize(t.Partitions) }

func (t ProduceTopicResponse) Encode(w *Writer) {
	w.String(t.Name)
	WriteArray(w, t.Partitions)
}

func readProduceTopicResponse(r *Reader) (ProduceTopicResponse, error) {
	var t ProduceTopicResponse
	var err error
	if t.Name, err = r.String(); err != nil {
		return t, err
	}
	t.Partitions, err = ReadArray(r, readProducePartitionResponse)
	return t, err
}

// ProduceResponse (v3).
type ProduceResponse struct {
	Topics         []ProduceTopicResponse
	ThrottleMillis int32
}

func (p *ProduceResponse) Size() int { return ArraySize(p.Topics) + 4 }

func (p *ProduceResponse) Encode(w *Writer) {
	WriteArray(w, p.Topics)
	w.Int32(p.ThrottleMillis)
}

func (p *ProduceResponse) Decode(r *Reader) error {
	var err error
	if p.Topics, err = ReadArray(r, readProduceTopicResponse); err != nil {
		return err
	}
	p.ThrottleMillis, err = r.Int32()
	return err
}
