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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

// Handler answers one request. The returned body is framed with the
// request's correlation id; a nil body sends no response.
type Handler interface {
	Handle(ctx context.Context, header *protocol.RequestHeader, body []byte) ([]byte, error)
}

// Server accepts Kafka protocol connections and hands each request to Handler.
type Server struct {
	Addr    string
	Handler Handler
	Logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// Start binds addr and serves in the background until ctx is cancelled.
// Wait returns once the server and all of its connections have stopped.
func Start(ctx context.Context, addr string, handler Handler, logger *slog.Logger) (*Server, error) {
	s := &Server{Addr: addr, Handler: handler, Logger: logger}
	if err := s.Listen(); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(ctx); err != nil {
			s.logger().Error("broker stopped", "error", err)
		}
	}()
	return s, nil
}

// ListenAndServe binds Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Listen binds Addr without accepting connections yet.
func (s *Server) Listen() error {
	if s.Handler == nil {
		return errors.New("broker.Server requires a Handler")
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger().Info("broker listening", "addr", ln.Addr().String())
	return nil
}

// Serve accepts connections on the bound listener until ctx is cancelled.
// Open connections are closed on the way out.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("broker.Server: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeConns()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeConns()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer s.untrack(c)
			s.handleConnection(ctx, c)
		}(conn)
	}
}

// Wait blocks until all connection goroutines exit.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ListenAddress returns the actual listener address if the server has started.
func (s *Server) ListenAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Addr
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.logger().With("remote", conn.RemoteAddr().String())
	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("read frame", "error", err)
			}
			return
		}
		header, body, err := protocol.ParseRequestHeader(frame.Payload)
		if err != nil {
			log.Warn("parse request", "error", err, "bytes", len(frame.Payload))
			return
		}
		resp, err := s.Handler.Handle(ctx, header, body.Rest())
		if err != nil {
			log.Warn("handle request", "api_key", header.APIKey, "correlation_id", header.CorrelationID, "error", err)
			return
		}
		if resp == nil {
			continue
		}
		if _, err := conn.Write(protocol.AppendResponse(header.CorrelationID, resp)); err != nil {
			log.Debug("write frame", "error", err)
			return
		}
	}
}
