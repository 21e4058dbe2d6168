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
	"fmt"

	"go.uber.org/multierr"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

// LazyConn is one logical connection backed by whichever broker of the
// configured list answers first. The physical connection is created on first
// use and held until Reset or Shutdown. Every exchange holds the connection
// exclusively for its whole round trip.
type LazyConn struct {
	cfg *Config

	// sem is a context aware mutex guarding conn and closed.
	sem    chan struct{}
	conn   *Conn
	closed bool
}

// NewLazyConn returns an unconnected LazyConn over cfg.BrokerList.
func NewLazyConn(cfg *Config) *LazyConn {
	return &LazyConn{cfg: cfg, sem: make(chan struct{}, 1)}
}

// Brokers returns the candidate list this connection races.
func (l *LazyConn) Brokers() BrokerList {
	return l.cfg.BrokerList
}

func (l *LazyConn) lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *LazyConn) unlock() {
	<-l.sem
}

// Connection returns the held connection, racing the broker list first if
// there is none. The caller has exclusive use of the connection until it
// calls release.
func (l *LazyConn) Connection(ctx context.Context) (conn *Conn, release func(), err error) {
	if err := l.lock(ctx); err != nil {
		return nil, nil, err
	}
	if err := l.ensure(ctx); err != nil {
		l.unlock()
		return nil, nil, err
	}
	return l.conn, l.unlock, nil
}

// WithConn runs fn with exclusive use of the held connection.
func (l *LazyConn) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, release, err := l.Connection(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(conn)
}

// Send delegates to the held connection.
func (l *LazyConn) Send(ctx context.Context, req protocol.Request, resp protocol.Response) error {
	return l.WithConn(ctx, func(c *Conn) error {
		return c.Send(ctx, req, resp)
	})
}

// SendMany delegates to the held connection.
func (l *LazyConn) SendMany(ctx context.Context, reqs []protocol.Request, resps []protocol.Response) error {
	return l.WithConn(ctx, func(c *Conn) error {
		return c.SendMany(ctx, reqs, resps)
	})
}

// Write delegates to the held connection.
func (l *LazyConn) Write(ctx context.Context, reqs ...protocol.Request) error {
	return l.WithConn(ctx, func(c *Conn) error {
		return c.Write(ctx, reqs...)
	})
}

// Reset shuts down the held connection, healthy or not, and races the broker
// list again.
func (l *LazyConn) Reset(ctx context.Context) error {
	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()
	if l.closed {
		return ErrClosed
	}
	l.cfg.Metrics.observeReset()
	l.release()
	conn, err := l.race(ctx)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

// Shutdown releases the held connection. The LazyConn is unusable
// afterwards.
func (l *LazyConn) Shutdown() error {
	l.sem <- struct{}{}
	defer l.unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.conn == nil {
		return nil
	}
	err := l.conn.Shutdown()
	l.conn = nil
	return err
}

// ConnectedAddr reports the broker currently held, or "" when unconnected.
func (l *LazyConn) ConnectedAddr() BrokerAddress {
	l.sem <- struct{}{}
	defer l.unlock()
	if l.conn == nil {
		return ""
	}
	return l.conn.Addr()
}

func (l *LazyConn) ensure(ctx context.Context) error {
	if l.closed {
		return ErrClosed
	}
	if l.conn != nil {
		return nil
	}
	conn, err := l.race(ctx)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

func (l *LazyConn) release() {
	if l.conn == nil {
		return
	}
	if err := l.conn.Shutdown(); err != nil {
		l.cfg.logger().Debug("shutdown of replaced connection failed", "broker", l.conn.Addr(), "error", err)
	}
	l.conn = nil
}

type dialResult struct {
	conn *Conn
	err  error
}

// race dials every broker at once and keeps the first to succeed. Pending
// dials are cancelled and late winners are closed in the background.
func (l *LazyConn) race(ctx context.Context) (*Conn, error) {
	brokers := l.cfg.BrokerList
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	raceCtx, cancel := context.WithCancel(ctx)
	results := make(chan dialResult, len(brokers))
	for _, addr := range brokers {
		go func(addr BrokerAddress) {
			conn, err := DialConfig(raceCtx, l.cfg, addr)
			results <- dialResult{conn: conn, err: err}
		}(addr)
	}

	var errs error
	for i := range brokers {
		res := <-results
		if res.err != nil {
			errs = multierr.Append(errs, res.err)
			continue
		}
		cancel()
		l.cfg.logger().Debug("broker connection established", "broker", res.conn.Addr())
		go l.drain(results, len(brokers)-i-1)
		return res.conn, nil
	}
	cancel()
	return nil, fmt.Errorf("connect to any of %d brokers: %w", len(brokers), errs)
}

func (l *LazyConn) drain(results <-chan dialResult, pending int) {
	for range pending {
		res := <-results
		if res.err != nil {
			continue
		}
		if err := res.conn.Shutdown(); err != nil {
			l.cfg.logger().Warn("closing losing connection failed", "broker", res.conn.Addr(), "error", err)
		}
	}
}
