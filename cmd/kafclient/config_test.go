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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kafclient.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientID != defaultClientID || cfg.DialTimeoutMS != defaultDialTimeoutMS || cfg.Produce.Acks != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing brokers to fail validation")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
brokers: ["a:9092", "b:9092"]
client_id: orders
request_timeout_ms: 1500
log_level: debug
produce:
  acks: -1
  timeout_ms: 2000
`)
	t.Setenv("KAFCLIENT_CLIENT_ID", "from-env")
	t.Setenv("KAFCLIENT_DIAL_TIMEOUT_MS", "250")
	t.Setenv("KAFCLIENT_PRODUCE_ACKS", "bad")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.ClientID != "from-env" || cfg.DialTimeoutMS != 250 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Produce.Acks != -1 || cfg.Produce.TimeoutMS != 2000 {
		t.Fatalf("unparseable env should keep the file value: %+v", cfg.Produce)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	conn, err := cfg.Connection(nil, nil)
	if err != nil {
		t.Fatalf("Connection: %v", err)
	}
	if len(conn.BrokerList) != 2 || conn.RequestTimeout != 1500*time.Millisecond || conn.DialTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected connection config: %+v", conn)
	}
}

func TestBrokersFromEnv(t *testing.T) {
	t.Setenv("KAFCLIENT_BROKERS", " x:1, ,y:2 ")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[0] != "x:1" || cfg.Brokers[1] != "y:2" {
		t.Fatalf("unexpected brokers: %v", cfg.Brokers)
	}
}

func TestValidate(t *testing.T) {
	base := Config{Brokers: []string{"a:1"}, LogLevel: "info", Produce: ProduceConfig{Acks: 1}}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := base
	bad.Produce.Acks = 2
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected acks 2 to fail")
	}
	bad = base
	bad.LogLevel = "loud"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected bad log level to fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := Load(writeConfig(t, "brokers: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}
