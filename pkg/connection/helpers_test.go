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

package connection

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/novatechflow/kafclient/pkg/broker"
	"github.com/novatechflow/kafclient/pkg/metadata"
)

// startBrokers runs n local brokers until the test ends.
func startBrokers(t *testing.T, n int) []*broker.Node {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = "127.0.0.1:0"
	}
	nodes, err := broker.StartLocal(ctx, metadata.NewInMemoryStore(metadata.ClusterMetadata{}), addrs, nil)
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
	return nodes
}

// refusedAddr returns a loopback address nothing listens on.
func refusedAddr(t *testing.T) BrokerAddress {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return BrokerAddress(addr)
}

// scriptedServer accepts one connection and hands it to serve.
func scriptedServer(t *testing.T, serve func(net.Conn)) BrokerAddress {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return BrokerAddress(ln.Addr().String())
}
