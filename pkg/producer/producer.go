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

// Package producer routes produce requests to partition leaders discovered
// through cluster metadata.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/novatechflow/kafclient/pkg/client"
	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/protocol"
	"github.com/novatechflow/kafclient/pkg/record"
)

// Producer writes records to the leader of each partition. It never retries:
// after a routing or produce failure the caller decides whether to call
// ResetCache and try again.
type Producer struct {
	leaders *TopicPartitionLeaders
}

// New returns a Producer that bootstraps from cfg.BrokerList.
func New(cfg *connection.Config) *Producer {
	return &Producer{leaders: NewTopicPartitionLeaders(cfg)}
}

// Leaders exposes the underlying leader cache.
func (p *Producer) Leaders() *TopicPartitionLeaders {
	return p.leaders
}

// Produce writes message to topic/partition as a single-record batch.
func (p *Producer) Produce(ctx context.Context, topic string, partition int32, message []byte, acks int16, timeout time.Duration) (*protocol.ProduceResponse, error) {
	return p.ProduceRecords(ctx, topic, partition, []record.Record{{Value: message}}, acks, timeout)
}

// ProduceRecords writes records to topic/partition as one batch. Broker
// rejections come back as *client.ProduceErrors alongside the response.
func (p *Producer) ProduceRecords(ctx context.Context, topic string, partition int32, records []record.Record, acks int16, timeout time.Duration) (*protocol.ProduceResponse, error) {
	conn, err := p.leaders.ConnectionToLeader(ctx, topic, partition)
	if err != nil {
		return nil, fmt.Errorf("route %s[%d]: %w", topic, partition, err)
	}
	return client.NewProduceClient(conn).ProduceRecords(ctx, topic, partition, records, acks, timeout)
}

// ResetCache forgets the leaders of topics.
func (p *Producer) ResetCache(topics ...string) error {
	return p.leaders.ResetCache(topics...)
}

// Shutdown closes every connection the producer opened.
func (p *Producer) Shutdown() error {
	return p.leaders.Shutdown()
}
