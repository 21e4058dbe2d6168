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
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novatechflow/kafclient/pkg/connection"
)

// Config is the kafclient configuration file schema.
type Config struct {
	Brokers          []string      `yaml:"brokers"`
	ClientID         string        `yaml:"client_id"`
	DialTimeoutMS    int           `yaml:"dial_timeout_ms"`
	RequestTimeoutMS int           `yaml:"request_timeout_ms"`
	LogLevel         string        `yaml:"log_level"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	Produce          ProduceConfig `yaml:"produce"`
}

type ProduceConfig struct {
	Acks           int `yaml:"acks"`
	TimeoutMS      int `yaml:"timeout_ms"`
	RetryMaxMS     int `yaml:"retry_max_elapsed_ms"`
	RetryInitialMS int `yaml:"retry_initial_interval_ms"`
}

const (
	defaultClientID         = "kafclient"
	defaultDialTimeoutMS    = 5000
	defaultRequestTimeoutMS = 30000
	defaultProduceTimeoutMS = 5000
	defaultRetryMaxMS       = 10000
	defaultRetryInitialMS   = 100
)

// Load reads path when it is non-empty, fills defaults and applies
// KAFCLIENT_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{Produce: ProduceConfig{Acks: 1}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if brokers := splitCSV(os.Getenv("KAFCLIENT_BROKERS")); len(brokers) > 0 {
		c.Brokers = brokers
	}
	c.ClientID = envOrDefault("KAFCLIENT_CLIENT_ID", c.ClientID)
	c.DialTimeoutMS = envInt("KAFCLIENT_DIAL_TIMEOUT_MS", c.DialTimeoutMS)
	c.RequestTimeoutMS = envInt("KAFCLIENT_REQUEST_TIMEOUT_MS", c.RequestTimeoutMS)
	c.LogLevel = envOrDefault("KAFCLIENT_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = envOrDefault("KAFCLIENT_METRICS_ADDR", c.MetricsAddr)
	c.Produce.Acks = envInt("KAFCLIENT_PRODUCE_ACKS", c.Produce.Acks)
	c.Produce.TimeoutMS = envInt("KAFCLIENT_PRODUCE_TIMEOUT_MS", c.Produce.TimeoutMS)
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = defaultClientID
	}
	if c.DialTimeoutMS == 0 {
		c.DialTimeoutMS = defaultDialTimeoutMS
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = defaultRequestTimeoutMS
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Produce.TimeoutMS == 0 {
		c.Produce.TimeoutMS = defaultProduceTimeoutMS
	}
	if c.Produce.RetryMaxMS == 0 {
		c.Produce.RetryMaxMS = defaultRetryMaxMS
	}
	if c.Produce.RetryInitialMS == 0 {
		c.Produce.RetryInitialMS = defaultRetryInitialMS
	}
}

// Validate checks the settings every subcommand needs.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("brokers is required")
	}
	if c.DialTimeoutMS < 0 || c.RequestTimeoutMS < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch c.Produce.Acks {
	case -1, 0, 1:
	default:
		return fmt.Errorf("produce.acks must be -1, 0 or 1, got %d", c.Produce.Acks)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Connection builds the library configuration.
func (c Config) Connection(logger *slog.Logger, metrics *connection.Metrics) (*connection.Config, error) {
	brokers, err := connection.BrokerListFromCSV(strings.Join(c.Brokers, ","))
	if err != nil {
		return nil, err
	}
	return &connection.Config{
		BrokerList:     brokers,
		ClientID:       c.ClientID,
		DialTimeout:    time.Duration(c.DialTimeoutMS) * time.Millisecond,
		RequestTimeout: time.Duration(c.RequestTimeoutMS) * time.Millisecond,
		Logger:         logger,
		Metrics:        metrics,
	}, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
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
