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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/novatechflow/kafclient/pkg/broker"
	"github.com/novatechflow/kafclient/pkg/metadata"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := pflag.NewFlagSet("kafbroker", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", envOrDefault("KAFBROKER_CONFIG", ""), "path to a YAML config file")
	listeners := flags.StringSliceP("listen", "l", nil, "listener address per broker node")
	metricsAddr := flags.String("metrics-addr", "", "Prometheus metrics address")
	_ = flags.Parse(os.Args[1:])

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kafbroker:", err)
		os.Exit(1)
	}
	if len(*listeners) > 0 {
		cfg.Listeners = *listeners
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("broker stopped", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is done. ready, when non-nil, receives the started
// nodes and the bound metrics address.
func run(ctx context.Context, cfg Config, logger *slog.Logger, ready func([]*broker.Node, string)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close metadata store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := newBrokerMetrics(reg, time.Duration(cfg.ThroughputWindowSeconds)*time.Second)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	fail := func(err error) error {
		cancel()
		_ = group.Wait()
		return err
	}
	nodes, err := broker.StartLocal(ctx, store, cfg.Listeners, logger, func(c *broker.Cluster) {
		c.OnAppend = metrics.observe
	})
	if err != nil {
		return err
	}
	reg.MustRegister(newNodeCollector(nodes))
	for _, n := range nodes {
		logger.Info("broker node listening", "node", n.ID, "addr", n.Addr())
		group.Go(func() error {
			n.Server.Wait()
			return nil
		})
	}
	if err := createTopics(ctx, store, cfg.Topics, logger); err != nil {
		return fail(err)
	}

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return fail(fmt.Errorf("metrics listener: %w", err))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	group.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	logger.Info("metrics listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(nodes, ln.Addr().String())
	}
	return group.Wait()
}

func buildStore(ctx context.Context, cfg Config, logger *slog.Logger) (broker.Registry, func() error, error) {
	etcdCfg, ok := cfg.StoreConfig()
	if !ok {
		logger.Info("using in-memory metadata store")
		return metadata.NewInMemoryStore(metadata.ClusterMetadata{}), func() error { return nil }, nil
	}
	etcdCfg.Logger = logger
	store, err := metadata.NewEtcdStore(ctx, metadata.ClusterMetadata{}, etcdCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata store init: %w", err)
	}
	logger.Info("using etcd metadata store", "endpoints", etcdCfg.Endpoints)
	return store, store.Close, nil
}

func createTopics(ctx context.Context, store metadata.Store, topics []TopicConfig, logger *slog.Logger) error {
	for _, t := range topics {
		_, err := store.CreateTopic(ctx, metadata.TopicSpec{
			Name:              t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		})
		switch {
		case errors.Is(err, metadata.ErrTopicExists):
			logger.Info("topic already exists", "topic", t.Name)
		case err != nil:
			return fmt.Errorf("create topic %s: %w", t.Name, err)
		default:
			logger.Info("topic created", "topic", t.Name, "partitions", t.Partitions)
		}
	}
	return nil
}
