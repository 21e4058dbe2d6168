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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

const (
	keyPrefix      = "/kafclient"
	requestTimeout = 3 * time.Second
)

// EtcdStoreConfig defines how the store connects to etcd.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// EtcdStore persists partition offsets in etcd and keeps the cluster snapshot
// there too, so several test brokers started against the same etcd agree on
// topics and leaders.
type EtcdStore struct {
	client   *clientv3.Client
	metadata *InMemoryStore
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEtcdStore connects to etcd. A snapshot already stored in etcd replaces
// the one passed in.
func NewEtcdStore(ctx context.Context, snapshot ClusterMetadata, cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	store := &EtcdStore{
		client:   cli,
		metadata: NewInMemoryStore(snapshot),
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}
	found, err := store.refreshSnapshot(ctx)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !found {
		if err := store.persistSnapshot(ctx); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("seed snapshot: %w", err)
		}
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	store.cancel = cancel
	go store.watchSnapshot(watchCtx)
	return store, nil
}

// Close stops the snapshot watch and closes the etcd client.
func (s *EtcdStore) Close() error {
	s.cancel()
	<-s.done
	return s.client.Close()
}

// Metadata serves from the snapshot, which the watch keeps current.
func (s *EtcdStore) Metadata(ctx context.Context, topics []string) (*ClusterMetadata, error) {
	return s.metadata.Metadata(ctx, topics)
}

// RegisterBrokers replaces the broker list and persists the snapshot.
func (s *EtcdStore) RegisterBrokers(ctx context.Context, brokers []protocol.MetadataBroker) error {
	if err := s.metadata.RegisterBrokers(ctx, brokers); err != nil {
		return err
	}
	return s.persistSnapshot(ctx)
}

// NextOffset reads the stored next offset for a partition.
func (s *EtcdStore) NextOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	if _, err := s.metadata.NextOffset(ctx, topic, partition); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	key := offsetKey(topic, partition)
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	val := strings.TrimSpace(string(resp.Kvs[0].Value))
	if val == "" {
		return 0, nil
	}
	offset, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse offset for %s: %w", key, err)
	}
	return offset, nil
}

// UpdateOffsets stores lastOffset+1 as the next offset.
func (s *EtcdStore) UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	_, err := s.client.Put(ctx, offsetKey(topic, partition), strconv.FormatInt(lastOffset+1, 10))
	return err
}

// CreateTopic adds the topic to the snapshot and persists it.
func (s *EtcdStore) CreateTopic(ctx context.Context, spec TopicSpec) (*protocol.MetadataTopic, error) {
	topic, err := s.metadata.CreateTopic(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := s.persistSnapshot(ctx); err != nil {
		return nil, err
	}
	return topic, nil
}

// DeleteTopic removes the topic from the snapshot along with its offsets.
func (s *EtcdStore) DeleteTopic(ctx context.Context, name string) error {
	if err := s.metadata.DeleteTopic(ctx, name); err != nil {
		return err
	}
	delCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if _, err := s.client.Delete(delCtx, topicPrefix(name), clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("delete offsets of %s: %w", name, err)
	}
	return s.persistSnapshot(ctx)
}

func (s *EtcdStore) watchSnapshot(ctx context.Context) {
	defer close(s.done)
	for resp := range s.client.Watch(ctx, snapshotKey()) {
		if err := resp.Err(); err != nil {
			s.logger.Warn("snapshot watch failed", "error", err)
			continue
		}
		if _, err := s.refreshSnapshot(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("snapshot refresh failed", "error", err)
		}
	}
}

func (s *EtcdStore) refreshSnapshot(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := s.client.Get(ctx, snapshotKey())
	if err != nil {
		return false, err
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}
	var snapshot ClusterMetadata
	if err := json.Unmarshal(resp.Kvs[0].Value, &snapshot); err != nil {
		return false, err
	}
	s.metadata.Update(snapshot)
	return true, nil
}

func (s *EtcdStore) persistSnapshot(ctx context.Context) error {
	state, err := s.metadata.Metadata(ctx, nil)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	putCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = s.client.Put(putCtx, snapshotKey(), string(payload))
	return err
}

func snapshotKey() string {
	return keyPrefix + "/metadata/snapshot"
}

func topicPrefix(topic string) string {
	return fmt.Sprintf("%s/topics/%s/", keyPrefix, topic)
}

func offsetKey(topic string, partition int32) string {
	return fmt.Sprintf("%spartitions/%d/next_offset", topicPrefix(topic), partition)
}
