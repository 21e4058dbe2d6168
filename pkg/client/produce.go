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
	"fmt"
	"time"

	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/protocol"
	"github.com/novatechflow/kafclient/pkg/record"
)

// ProduceClient sends record batches to one broker, normally the leader of
// the partitions being written.
type ProduceClient struct {
	conn *connection.LazyConn
	now  func() time.Time
}

// NewProduceClient wraps conn.
func NewProduceClient(conn *connection.LazyConn) *ProduceClient {
	return &ProduceClient{conn: conn, now: time.Now}
}

// Produce writes message as a single-record batch with no key and no
// headers.
func (c *ProduceClient) Produce(ctx context.Context, topic string, partition int32, message []byte, acks int16, timeout time.Duration) (*protocol.ProduceResponse, error) {
	return c.ProduceRecords(ctx, topic, partition, []record.Record{{Value: message}}, acks, timeout)
}

// ProduceRecords writes records as one uncompressed batch. With acks 0 the
// broker does not answer and the returned response is nil. Partitions the
// broker rejected are reported in a *ProduceErrors next to the response.
func (c *ProduceClient) ProduceRecords(ctx context.Context, topic string, partition int32, records []record.Record, acks int16, timeout time.Duration) (*protocol.ProduceResponse, error) {
	batch, err := record.NewProducerBatch(c.now().UnixMilli(), record.Attributes{}, records...)
	if err != nil {
		return nil, fmt.Errorf("build batch for %s[%d]: %w", topic, partition, err)
	}
	raw, err := protocol.Encode(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch for %s[%d]: %w", topic, partition, err)
	}
	req := &protocol.ProduceRequest{
		Acks:          acks,
		TimeoutMillis: int32(timeout.Milliseconds()),
		Topics: []protocol.ProduceTopic{{
			Name:       topic,
			Partitions: []protocol.ProducePartition{{Partition: partition, Records: raw}},
		}},
	}
	if acks == 0 {
		if err := c.conn.Write(ctx, req); err != nil {
			return nil, fmt.Errorf("produce: %w", err)
		}
		return nil, nil
	}
	var resp protocol.ProduceResponse
	if err := c.conn.Send(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("produce: %w", err)
	}
	return &resp, collectProduceErrors(&resp)
}

// Reset drops the current broker connection and reconnects.
func (c *ProduceClient) Reset(ctx context.Context) error {
	return c.conn.Reset(ctx)
}
