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
	"log/slog"
	"net"
	"strconv"

	"github.com/novatechflow/kafclient/pkg/metadata"
	"github.com/novatechflow/kafclient/pkg/protocol"
)

// Node is one broker of a local cluster.
type Node struct {
	ID      int32
	Server  *Server
	Handler *Cluster
}

// Addr returns the node's listen address.
func (n *Node) Addr() string {
	return n.Server.ListenAddress()
}

// Registry is a Store whose broker list can be replaced.
type Registry interface {
	metadata.Store
	RegisterBrokers(ctx context.Context, brokers []protocol.MetadataBroker) error
}

// StartLocal starts one node per address, all sharing store, and registers
// them in the store as brokers 1..n with their bound host and port. Port 0
// picks a free port. Each option is applied to every node's handler before
// it starts serving.
func StartLocal(ctx context.Context, store Registry, addrs []string, logger *slog.Logger, opts ...func(*Cluster)) ([]*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nodeCtx, cancel := context.WithCancel(ctx)
	nodes := make([]*Node, 0, len(addrs))
	brokers := make([]protocol.MetadataBroker, 0, len(addrs))
	for i, addr := range addrs {
		id := int32(i + 1)
		handler := NewCluster(id, store)
		handler.Logger = logger.With("node", id)
		for _, opt := range opts {
			opt(handler)
		}
		srv, err := Start(nodeCtx, addr, handler, handler.Logger)
		if err != nil {
			cancel()
			for _, n := range nodes {
				n.Server.Wait()
			}
			return nil, fmt.Errorf("start node %d on %s: %w", id, addr, err)
		}
		nodes = append(nodes, &Node{ID: id, Server: srv, Handler: handler})
		host, portStr, err := net.SplitHostPort(srv.ListenAddress())
		if err != nil {
			cancel()
			return nil, err
		}
		port, _ := strconv.Atoi(portStr)
		brokers = append(brokers, protocol.MetadataBroker{NodeID: id, Host: host, Port: int32(port)})
	}
	if err := store.RegisterBrokers(ctx, brokers); err != nil {
		cancel()
		return nil, fmt.Errorf("register brokers: %w", err)
	}
	context.AfterFunc(ctx, cancel)
	return nodes, nil
}
