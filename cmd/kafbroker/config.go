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

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novatechflow/kafclient/pkg/metadata"
)

// Config is the kafbroker configuration file schema.
type Config struct {
	Listeners   []string      `yaml:"listeners"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogLevel    string        `yaml:"log_level"`
	Etcd        EtcdConfig    `yaml:"etcd"`
	Topics      []TopicConfig `yaml:"topics"`
	// ThroughputWindowSeconds is the window the produce rate gauge averages over.
	ThroughputWindowSeconds int `yaml:"throughput_window_seconds"`
}

type EtcdConfig struct {
	Endpoints      []string `yaml:"endpoints"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	DialTimeoutSec int      `yaml:"dial_timeout_seconds"`
}

// TopicConfig is a topic created at startup when it does not exist yet.
type TopicConfig struct {
	Name              string `yaml:"name"`
	Partitions        int32  `yaml:"partitions"`
	ReplicationFactor int16  `yaml:"replication_factor"`
}

const (
	defaultListener    = "127.0.0.1:9092"
	defaultMetricsAddr = "127.0.0.1:9093"
	defaultWindowSec   = 60
)

// Load reads path when it is non-empty, applies KAFBROKER_* overrides and
// fills defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if listeners := splitCSV(os.Getenv("KAFBROKER_LISTENERS")); len(listeners) > 0 {
		cfg.Listeners = listeners
	}
	if endpoints := splitCSV(os.Getenv("KAFBROKER_ETCD_ENDPOINTS")); len(endpoints) > 0 {
		cfg.Etcd.Endpoints = endpoints
	}
	cfg.Etcd.Username = envOrDefault("KAFBROKER_ETCD_USERNAME", cfg.Etcd.Username)
	cfg.Etcd.Password = envOrDefault("KAFBROKER_ETCD_PASSWORD", cfg.Etcd.Password)
	cfg.MetricsAddr = envOrDefault("KAFBROKER_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envOrDefault("KAFBROKER_LOG_LEVEL", cfg.LogLevel)
	cfg.ThroughputWindowSeconds = envInt("KAFBROKER_THROUGHPUT_WINDOW_SEC", cfg.ThroughputWindowSeconds)

	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{defaultListener}
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ThroughputWindowSeconds <= 0 {
		cfg.ThroughputWindowSeconds = defaultWindowSec
	}
	return cfg, nil
}

// Validate checks listener addresses and seed topics.
func (c Config) Validate() error {
	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}
	for _, l := range c.Listeners {
		if _, _, err := net.SplitHostPort(l); err != nil {
			return fmt.Errorf("invalid listener %q: %w", l, err)
		}
	}
	for _, t := range c.Topics {
		if t.Name == "" {
			return errors.New("topics: name is required")
		}
		if t.Partitions <= 0 {
			return fmt.Errorf("topic %s: partitions must be > 0", t.Name)
		}
		if int(t.ReplicationFactor) > len(c.Listeners) {
			return fmt.Errorf("topic %s: replication factor %d exceeds %d brokers", t.Name, t.ReplicationFactor, len(c.Listeners))
		}
	}
	return nil
}

// StoreConfig returns the etcd settings, or false when the in-memory store
// should be used.
func (c Config) StoreConfig() (metadata.EtcdStoreConfig, bool) {
	if len(c.Etcd.Endpoints) == 0 {
		return metadata.EtcdStoreConfig{}, false
	}
	return metadata.EtcdStoreConfig{
		Endpoints:   c.Etcd.Endpoints,
		Username:    c.Etcd.Username,
		Password:    c.Etcd.Password,
		DialTimeout: time.Duration(c.Etcd.DialTimeoutSec) * time.Second,
	}, true
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			out = append(out, val)
		}
	}
	return out
}
