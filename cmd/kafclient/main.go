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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/novatechflow/kafclient/pkg/client"
	"github.com/novatechflow/kafclient/pkg/connection"
	"github.com/novatechflow/kafclient/pkg/producer"
	"github.com/novatechflow/kafclient/pkg/protocol"
	"github.com/novatechflow/kafclient/pkg/record"
)

const usage = `usage: kafclient [flags] <command> [args]

commands:
  versions                         list the API versions the broker supports
  metadata [topic...]              show brokers and partition leaders
  create-topics [flags] topic...   create topics
  delete-topics topic...           delete topics
  produce [flags] [message...]     produce messages (stdin lines when none given)
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "kafclient:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	cfg    Config
	conn   *connection.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	flags := pflag.NewFlagSet("kafclient", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flags.StringP("config", "c", envOrDefault("KAFCLIENT_CONFIG", ""), "path to a YAML config file")
	brokers := flags.StringSliceP("brokers", "b", nil, "bootstrap brokers (host:port)")
	clientID := flags.String("client-id", "", "client id sent with every request")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("missing command")
	}

	cfg, err := Load(*configPath)
	if err != nil {
		return err
	}
	if len(*brokers) > 0 {
		cfg.Brokers = *brokers
	}
	if *clientID != "" {
		cfg.ClientID = *clientID
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var metrics *connection.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = connection.NewMetrics(reg)
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}
	conn, err := cfg.Connection(logger, metrics)
	if err != nil {
		return err
	}

	a := &app{cfg: cfg, conn: conn, logger: logger, stdin: stdin, stdout: stdout}
	cmd, rest := flags.Arg(0), flags.Args()[1:]
	switch cmd {
	case "versions":
		return a.versions(ctx)
	case "metadata":
		return a.metadata(ctx, rest)
	case "create-topics":
		return a.createTopics(ctx, rest)
	case "delete-topics":
		return a.deleteTopics(ctx, rest)
	case "produce":
		return a.produce(ctx, rest)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) versions(ctx context.Context) error {
	mc := client.NewMetadataClient(a.conn)
	defer a.shutdown(mc)
	resp, err := mc.ApiVersions(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "API\tKEY\tMIN\tMAX")
	for _, v := range resp.APIKeys {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", protocol.APIName(v.APIKey), v.APIKey, v.MinVersion, v.MaxVersion)
	}
	return tw.Flush()
}

func (a *app) metadata(ctx context.Context, topics []string) error {
	mc := client.NewMetadataClient(a.conn)
	defer a.shutdown(mc)
	resp, err := mc.GetMetadata(ctx, topics...)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BROKER\tHOST\tPORT")
	for _, b := range resp.Brokers {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", b.NodeID, b.Host, b.Port)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TOPIC\tPARTITION\tLEADER\tREPLICAS\tISR\tERROR")
	for _, t := range resp.Topics {
		if !t.ErrorCode.OK() {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%s\n", t.Name, t.ErrorCode)
			continue
		}
		for _, p := range t.Partitions {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%v\t%s\n", t.Name, p.PartitionIndex, p.LeaderID, p.ReplicaNodes, p.ISRNodes, p.ErrorCode)
		}
	}
	return tw.Flush()
}

func (a *app) createTopics(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("create-topics", pflag.ContinueOnError)
	partitions := flags.Int32P("partitions", "p", 1, "partitions per topic")
	replication := flags.Int16P("replication-factor", "r", 1, "replicas per partition")
	timeout := flags.Duration("timeout", 5*time.Second, "broker side timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("create-topics: no topics given")
	}
	specs := make([]protocol.CreatableTopic, 0, flags.NArg())
	for _, name := range flags.Args() {
		specs = append(specs, protocol.CreatableTopic{
			Name:              name,
			NumPartitions:     *partitions,
			ReplicationFactor: *replication,
		})
	}
	mc := client.NewMetadataClient(a.conn)
	defer a.shutdown(mc)
	if err := mc.CreateTopics(ctx, specs, *timeout); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "created %s\n", strings.Join(flags.Args(), ", "))
	return nil
}

func (a *app) deleteTopics(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("delete-topics", pflag.ContinueOnError)
	timeout := flags.Duration("timeout", 5*time.Second, "broker side timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("delete-topics: no topics given")
	}
	mc := client.NewMetadataClient(a.conn)
	defer a.shutdown(mc)
	if err := mc.DeleteTopics(ctx, flags.Args(), *timeout); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "deleted %s\n", strings.Join(flags.Args(), ", "))
	return nil
}

func (a *app) produce(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("produce", pflag.ContinueOnError)
	topic := flags.StringP("topic", "t", "", "topic to write to")
	partition := flags.Int32P("partition", "p", 0, "partition to write to")
	key := flags.StringP("key", "k", "", "record key")
	acks := flags.Int16("acks", int16(a.cfg.Produce.Acks), "required acks (-1, 0, 1)")
	timeout := flags.Duration("timeout", time.Duration(a.cfg.Produce.TimeoutMS)*time.Millisecond, "broker side timeout")
	maxElapsed := flags.Duration("retry-max-elapsed", time.Duration(a.cfg.Produce.RetryMaxMS)*time.Millisecond, "give up retrying after this long (0 disables retries)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *topic == "" {
		return errors.New("produce: --topic is required")
	}
	messages := flags.Args()
	if len(messages) == 0 {
		var err error
		if messages, err = readLines(a.stdin); err != nil {
			return fmt.Errorf("read messages: %w", err)
		}
	}
	if len(messages) == 0 {
		return errors.New("produce: no messages")
	}
	records := make([]record.Record, 0, len(messages))
	for _, m := range messages {
		rec := record.Record{Value: []byte(m)}
		if *key != "" {
			rec.Key = []byte(*key)
		}
		records = append(records, rec)
	}

	p := producer.New(a.conn)
	defer func() {
		if err := p.Shutdown(); err != nil {
			a.logger.Warn("producer shutdown", "error", err)
		}
	}()
	policy := a.retryPolicy(*maxElapsed)
	resp, err := produceWithRetry(ctx, p, policy, a.logger, *topic, *partition, records, *acks, *timeout)
	if err != nil {
		return err
	}
	if resp == nil {
		fmt.Fprintf(a.stdout, "sent %d records to %s[%d] without acknowledgement\n", len(records), *topic, *partition)
		return nil
	}
	for _, t := range resp.Topics {
		for _, part := range t.Partitions {
			fmt.Fprintf(a.stdout, "wrote %d records to %s[%d] at offset %d\n", len(records), t.Name, part.Partition, part.BaseOffset)
		}
	}
	return nil
}

func (a *app) retryPolicy(maxElapsed time.Duration) backoff.BackOff {
	if maxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(a.cfg.Produce.RetryInitialMS) * time.Millisecond
	policy.MaxElapsedTime = maxElapsed
	return policy
}

// recordProducer is the part of *producer.Producer the retry loop needs.
type recordProducer interface {
	ProduceRecords(ctx context.Context, topic string, partition int32, records []record.Record, acks int16, timeout time.Duration) (*protocol.ProduceResponse, error)
	ResetCache(topics ...string) error
}

// produceWithRetry retries retriable broker errors and routing failures.
// The leader cache is reset before each retry so the next attempt sees fresh
// metadata.
func produceWithRetry(ctx context.Context, p recordProducer, policy backoff.BackOff, logger *slog.Logger, topic string, partition int32, records []record.Record, acks int16, timeout time.Duration) (*protocol.ProduceResponse, error) {
	op := func() (*protocol.ProduceResponse, error) {
		resp, err := p.ProduceRecords(ctx, topic, partition, records, acks, timeout)
		if err == nil {
			return resp, nil
		}
		if !retriable(err) {
			return resp, backoff.Permanent(err)
		}
		if resetErr := p.ResetCache(topic); resetErr != nil {
			logger.Warn("leader cache reset", "topic", topic, "error", resetErr)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Info("retrying produce", "topic", topic, "partition", partition, "wait", wait, "error", err)
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(policy, ctx), notify)
}

func retriable(err error) bool {
	var produceErrs *client.ProduceErrors
	if errors.As(err, &produceErrs) {
		return produceErrs.Retriable()
	}
	var leaderErr *producer.LeaderNotFoundError
	var nodeErr *producer.NodeNotFoundError
	if errors.As(err, &leaderErr) || errors.As(err, &nodeErr) {
		return true
	}
	// broken or refused connections are worth a fresh leader lookup
	var netErr interface{ Timeout() bool }
	return errors.Is(err, connection.ErrBroken) || errors.As(err, &netErr) || errors.Is(err, syscall.ECONNREFUSED)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (a *app) shutdown(mc *client.MetadataClient) {
	if err := mc.Shutdown(); err != nil {
		a.logger.Warn("metadata client shutdown", "error", err)
	}
}
