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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	// DefaultBufferSize is the read and write buffer size of a connection.
	DefaultBufferSize = 8 * 1024
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second
)

// BrokerAddress is a host:port endpoint.
type BrokerAddress string

func (a BrokerAddress) String() string {
	return string(a)
}

// BrokerList is an ordered set of candidate brokers. The order is a hint
// only; any member may end up serving a connection.
type BrokerList []BrokerAddress

// ErrNoBrokers is returned when a broker list is empty.
var ErrNoBrokers = errors.New("broker list is empty")

// BrokerListFromCSV parses "host:port,host:port".
func BrokerListFromCSV(raw string) (BrokerList, error) {
	var list BrokerList
	for _, part := range strings.Split(raw, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid broker address %q: %w", addr, err)
		}
		list = append(list, BrokerAddress(addr))
	}
	if len(list) == 0 {
		return nil, ErrNoBrokers
	}
	return list, nil
}

// Config is shared by every connection derived from it and must not be
// modified once in use.
type Config struct {
	BrokerList BrokerList
	ClientID   string

	// DialTimeout bounds each connection attempt. Zero means DefaultDialTimeout.
	DialTimeout time.Duration
	// RequestTimeout bounds each request/response exchange. Zero disables
	// the local timeout; the caller's context still applies.
	RequestTimeout time.Duration
	// BufferSize sets the read and write buffer sizes. Zero means DefaultBufferSize.
	BufferSize int
	// MaxFrameSize caps the size of a response frame read from a broker.
	// Zero means protocol.DefaultMaxFrameSize.
	MaxFrameSize int32

	Logger  *slog.Logger
	Metrics *Metrics
}

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return DefaultDialTimeout
}

func (c *Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return DefaultBufferSize
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
