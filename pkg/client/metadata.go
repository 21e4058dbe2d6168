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

// Package client implements the admin and produce calls on top of a lazy
// broker connection.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/protocol"
)

// MetadataClient issues cluster-level requests to whichever broker of the
// bootstrap list answers first.
type MetadataClient struct {
	conn *connection.LazyConn
}

// NewMetadataClient returns a client over cfg.BrokerList. No connection is
// made until the first request.
func NewMetadataClient(cfg *connection.Config) *MetadataClient {
	return &MetadataClient{conn: connection.NewLazyConn(cfg)}
}

// NewMetadataClientConn wraps an existing lazy connection.
func NewMetadataClientConn(conn *connection.LazyConn) *MetadataClient {
	return &MetadataClient{conn: conn}
}

// ApiVersions asks the broker which versions of each API it serves.
func (c *MetadataClient) ApiVersions(ctx context.Context) (*protocol.ApiVersionsResponse, error) {
	var resp protocol.ApiVersionsResponse
	if err := c.conn.Send(ctx, protocol.ApiVersionsRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("api versions: %w", err)
	}
	if !resp.ErrorCode.OK() {
		return &resp, fmt.Errorf("api versions: %w", resp.ErrorCode.Err())
	}
	return &resp, nil
}

// GetMetadata fetches brokers and the given topics. No topics means every
// topic. Per-topic and per-partition error codes are left in the response.
func (c *MetadataClient) GetMetadata(ctx context.Context, topics ...string) (*protocol.MetadataResponse, error) {
	var resp protocol.MetadataResponse
	if err := c.conn.Send(ctx, &protocol.MetadataRequest{Topics: topics}, &resp); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &resp, nil
}

// CreateTopics creates topics, giving the broker timeout to finish. Topics
// the broker refused are reported together in a *TopicErrors.
func (c *MetadataClient) CreateTopics(ctx context.Context, topics []protocol.CreatableTopic, timeout time.Duration) error {
	req := &protocol.CreateTopicsRequest{Topics: topics, TimeoutMillis: int32(timeout.Milliseconds())}
	var resp protocol.CreateTopicsResponse
	if err := c.conn.Send(ctx, req, &resp); err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	return collectTopicErrors(TopicCreation, resp.Topics)
}

// DeleteTopics deletes topics by name. Topics the broker refused are reported
// together in a *TopicErrors.
func (c *MetadataClient) DeleteTopics(ctx context.Context, names []string, timeout time.Duration) error {
	req := &protocol.DeleteTopicsRequest{TopicNames: names, TimeoutMillis: int32(timeout.Milliseconds())}
	var resp protocol.DeleteTopicsResponse
	if err := c.conn.Send(ctx, req, &resp); err != nil {
		return fmt.Errorf("delete topics: %w", err)
	}
	return collectTopicErrors(TopicDeletion, resp.Topics)
}

// Reset drops the current broker connection and races the list again.
func (c *MetadataClient) Reset(ctx context.Context) error {
	return c.conn.Reset(ctx)
}

// Shutdown closes the underlying connection.
func (c *MetadataClient) Shutdown() error {
	return c.conn.Shutdown()
}
