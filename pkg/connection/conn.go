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
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

var (
	// ErrClosed is returned when using a connection after Shutdown.
	ErrClosed = errors.New("connection closed")
	// ErrCorrelationMismatch means a response did not carry the correlation
	// id of the request it was read for; the stream is out of sync.
	ErrCorrelationMismatch = errors.New("correlation id mismatch")
	// ErrBroken is returned by a connection whose previous exchange failed.
	ErrBroken = errors.New("connection broken by earlier failure")
)

// Conn is a single TCP connection to a broker. Requests and responses are
// strictly ordered. A Conn is not safe for concurrent use; LazyConn
// serializes access to one.
type Conn struct {
	addr     BrokerAddress
	clientID string
	netConn  net.Conn
	rw       *bufio.ReadWriter

	nextCorrelationID int32
	requestTimeout    time.Duration
	maxFrameSize      int32
	broken            error
	closed            bool

	logger  *slog.Logger
	metrics *Metrics
}

// Dial connects to addr with default settings.
func Dial(ctx context.Context, clientID string, addr BrokerAddress) (*Conn, error) {
	return DialConfig(ctx, &Config{ClientID: clientID}, addr)
}

// DialConfig connects to addr using the client id and tuning from cfg.
func DialConfig(ctx context.Context, cfg *Config, addr BrokerAddress) (*Conn, error) {
	dialer := net.Dialer{Timeout: cfg.dialTimeout()}
	netConn, err := dialer.DialContext(ctx, "tcp", string(addr))
	cfg.Metrics.observeDial(err)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	size := cfg.bufferSize()
	return &Conn{
		addr:           addr,
		clientID:       cfg.ClientID,
		netConn:        netConn,
		rw:             bufio.NewReadWriter(bufio.NewReaderSize(netConn, size), bufio.NewWriterSize(netConn, size)),
		requestTimeout: cfg.RequestTimeout,
		maxFrameSize:   cfg.MaxFrameSize,
		logger:         cfg.logger(),
		metrics:        cfg.Metrics,
	}, nil
}

// Addr returns the broker this connection is attached to.
func (c *Conn) Addr() BrokerAddress {
	return c.addr
}

// Send writes req and decodes the matching response into resp.
func (c *Conn) Send(ctx context.Context, req protocol.Request, resp protocol.Response) error {
	return c.SendMany(ctx, []protocol.Request{req}, []protocol.Response{resp})
}

// SendMany writes every request before reading any response, then reads the
// responses in request order into resps.
func (c *Conn) SendMany(ctx context.Context, reqs []protocol.Request, resps []protocol.Response) error {
	if len(reqs) != len(resps) {
		return fmt.Errorf("send to %s: %d requests but %d responses", c.addr, len(reqs), len(resps))
	}
	if len(reqs) == 0 {
		return nil
	}
	if err := c.usable(); err != nil {
		return err
	}
	start := time.Now()
	err := c.exchange(ctx, reqs, resps)
	for _, req := range reqs {
		c.metrics.observeRequest(req.APIKey(), time.Since(start), err)
	}
	if err != nil {
		c.broken = err
		c.logger.Debug("broker exchange failed", "broker", c.addr, "error", err)
	}
	return err
}

func (c *Conn) usable() error {
	if c.closed {
		return ErrClosed
	}
	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrBroken, c.broken)
	}
	return nil
}

// Write sends reqs without reading responses. It is for requests the broker
// never answers, such as produce with acks 0.
func (c *Conn) Write(ctx context.Context, reqs ...protocol.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	if err := c.usable(); err != nil {
		return err
	}
	start := time.Now()
	err := c.exchange(ctx, reqs, nil)
	for _, req := range reqs {
		c.metrics.observeRequest(req.APIKey(), time.Since(start), err)
	}
	if err != nil {
		c.broken = err
	}
	return err
}

// exchange writes reqs, then reads one response per element of resps.
func (c *Conn) exchange(ctx context.Context, reqs []protocol.Request, resps []protocol.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if c.requestTimeout > 0 {
		local := time.Now().Add(c.requestTimeout)
		if !hasDeadline || local.Before(deadline) {
			deadline, hasDeadline = local, true
		}
	}
	if hasDeadline {
		if err := c.netConn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline on %s: %w", c.addr, err)
		}
		defer c.netConn.SetDeadline(time.Time{})
	}
	defer interruptOnDone(ctx, c.netConn)()

	first := c.nextCorrelationID
	for _, req := range reqs {
		header := &protocol.RequestHeader{
			APIKey:        req.APIKey(),
			APIVersion:    req.APIVersion(),
			CorrelationID: c.nextCorrelationID,
			ClientID:      c.clientID,
		}
		c.nextCorrelationID++
		frame, err := protocol.AppendRequest(header, req)
		if err != nil {
			return err
		}
		if _, err := c.rw.Write(frame); err != nil {
			return c.ioError(ctx, "write request", err)
		}
	}
	if err := c.rw.Flush(); err != nil {
		return c.ioError(ctx, "flush", err)
	}

	for i, resp := range resps {
		frame, err := protocol.ReadFrameLimit(c.rw, c.maxFrameSize)
		if err != nil {
			return c.ioError(ctx, "read response", err)
		}
		correlationID, err := protocol.ParseResponse(frame.Payload, resp)
		if err != nil {
			return fmt.Errorf("response from %s (api key %d): %w", c.addr, reqs[i].APIKey(), err)
		}
		if want := first + int32(i); correlationID != want {
			return fmt.Errorf("%w: sent %d, got %d from %s", ErrCorrelationMismatch, want, correlationID, c.addr)
		}
	}
	return nil
}

// interruptOnDone unblocks reads and writes on conn once ctx is done. The
// returned stop waits for a cancellation already in flight and clears the
// deadline it set.
func interruptOnDone(ctx context.Context, conn net.Conn) (stop func()) {
	fired := make(chan struct{})
	stopWatch := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		if stopWatch() {
			return
		}
		<-fired
		_ = conn.SetDeadline(time.Time{})
	}
}

func (c *Conn) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, c.addr, ctxErr)
	}
	// the socket deadline can fire just before the context timer does
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%s %s: %w", op, c.addr, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s %s: %w", op, c.addr, err)
}

// Shutdown flushes pending output and closes the connection. Later calls
// are no-ops.
func (c *Conn) Shutdown() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var flushErr error
	if c.broken == nil {
		flushErr = c.rw.Flush()
	}
	if err := c.netConn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.addr, err)
	}
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", c.addr, flushErr)
	}
	return nil
}
