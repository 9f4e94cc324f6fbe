package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cli "github.com/jawher/mow.cli"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uw-labs/kconsume/pkg/backend"
	"github.com/uw-labs/kconsume/pkg/consumer"
	"github.com/uw-labs/kconsume/pkg/logging"
	"github.com/uw-labs/kconsume/pkg/metrics"
	"github.com/uw-labs/kconsume/pkg/rungroup"
)

const appName = "kconsume"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var version = "dev"

// errUsage is returned after the command line parser already reported the problem.
var errUsage = errors.New("incorrect usage")

func main() {
	os.Exit(realMain(os.Args, os.Stdout, zapcore.Lock(os.Stderr)))
}

func realMain(args []string, stdout io.Writer, stderr zapcore.WriteSyncer) int {
	conf, err := parseArgs(args)
	if errors.Is(err, errUsage) {
		return exitUsage
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\nRun '%s --help' for usage.\n", err, appName)
		return exitUsage
	}
	if conf == nil {
		// help or version was printed
		return exitOK
	}

	logger := logging.New(conf.log, stderr)
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), conf, newSourceFactory(conf, logger), logger, stdout); err != nil {
		logger.Error("consumer failed", zap.Error(err))
		return exitError
	}
	return exitOK
}

// parseArgs returns the run configuration, or nil without error when help or the version was requested.
func parseArgs(args []string) (*runConfig, error) {
	app := cli.App(appName, "Print the messages of Kafka topics to standard output")
	app.ErrorHandling = flag.ContinueOnError
	app.Spec = "[OPTIONS] [TOPIC...]"
	app.Version("v version", version)

	brokers := app.String(cli.StringOpt{
		Name:   "b brokers",
		Value:  "localhost:9092",
		Desc:   "Broker addresses e.g., \"server1:9092,server2:9092\"",
		EnvVar: "KCONSUME_BROKERS",
	})
	groupID := app.String(cli.StringOpt{
		Name:   "g group-id",
		Value:  defaultGroupID,
		Desc:   "Consumer group id",
		EnvVar: "KCONSUME_GROUP_ID",
	})
	topics := app.Strings(cli.StringsOpt{
		Name:   "t topics",
		Desc:   "Topics to consume, comma-separated or repeated",
		EnvVar: "KCONSUME_TOPICS",
	})
	extraTopics := app.Strings(cli.StringsArg{
		Name: "TOPIC",
		Desc: "More topics to consume",
	})
	logConf := app.String(cli.StringOpt{
		Name:   "log-conf",
		Value:  "info",
		Desc:   "Log filter e.g. \"info,librdkafka=debug\"",
		EnvVar: "KCONSUME_LOG",
	})
	client := app.String(cli.StringOpt{
		Name:   "c client",
		Value:  clientLibrdkafka,
		Desc:   "Kafka client library (librdkafka, sarama, franz, segmentio)",
		EnvVar: "KCONSUME_CLIENT",
	})
	clientConf := app.String(cli.StringOpt{
		Name:   "client-conf",
		Desc:   "YAML file with extra librdkafka properties",
		EnvVar: "KCONSUME_CLIENT_CONF",
	})
	kafkaVersion := app.String(cli.StringOpt{
		Name:   "kafka-version",
		Desc:   "Kafka version used by the sarama client e.g. 2.8.0",
		EnvVar: "KCONSUME_KAFKA_VERSION",
	})
	strict := app.Bool(cli.BoolOpt{
		Name:   "strict",
		Desc:   "Stop on payloads that aren't valid UTF-8 and on failed acknowledgements",
		EnvVar: "KCONSUME_STRICT",
	})
	metricsAddr := app.String(cli.StringOpt{
		Name:   "metrics-addr",
		Desc:   "Address to serve /metrics and /healthz on e.g. :8080",
		EnvVar: "KCONSUME_METRICS_ADDR",
	})

	var (
		conf   *runConfig
		errCfg error
	)
	app.Action = func() {
		logFilter, err := logging.ParseFilter(*logConf)
		if err != nil {
			errCfg = err
			return
		}
		props, err := loadProperties(*clientConf)
		if err != nil {
			errCfg = err
			return
		}

		conf = &runConfig{
			brokers:      splitList(*brokers),
			groupID:      *groupID,
			topics:       splitList(append(*topics, *extraTopics...)...),
			client:       *client,
			kafkaVersion: *kafkaVersion,
			log:          logFilter,
			strict:       *strict,
			metricsAddr:  *metricsAddr,
			properties:   props,
		}
	}

	if err := app.Run(hoistOptions(args)); err != nil {
		return nil, errUsage
	}
	if errCfg != nil {
		return nil, errCfg
	}
	if conf == nil {
		return nil, nil
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// optionsWithoutValue are the options that never consume the following argument.
var optionsWithoutValue = map[string]bool{
	"--strict":  true,
	"-v":        true,
	"--version": true,
	"-h":        true,
	"--help":    true,
}

// hoistOptions moves every option in front of the topic arguments, so options may also follow
// them: "-t t1 t2 -b host:9092" parses like "-t t1 -b host:9092 t2". Everything after "--" stays
// positional.
func hoistOptions(args []string) []string {
	if len(args) == 0 {
		return args
	}

	options := []string{args[0]}
	var positional []string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		switch {
		case arg == "--":
			positional = append(positional, rest[i:]...)
			i = len(rest)
		case len(arg) > 1 && arg[0] == '-':
			options = append(options, arg)
			if takesValue(arg) && i+1 < len(rest) {
				i++
				options = append(options, rest[i])
			}
		default:
			positional = append(positional, arg)
		}
	}
	return append(options, positional...)
}

func takesValue(option string) bool {
	if strings.Contains(option, "=") {
		return false
	}
	if !strings.HasPrefix(option, "--") && len(option) > 2 {
		// -bhost:9092
		return false
	}
	return !optionsWithoutValue[option]
}

func run(ctx context.Context, conf *runConfig, factory backend.SourceFactory, logger *zap.Logger, out io.Writer) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	counters := metrics.NewCounters(registry)

	printer := consumer.NewPrinter(out,
		consumer.WithLogger(logger),
		consumer.WithStrict(conf.strict),
		consumer.WithCounters(counters),
	)

	src, err := factory.NewAsyncSource(ctx, conf.backendConfig(logger, printer.Hooks()))
	if err != nil {
		return err
	}
	source := &backend.CallbackSource{
		Delegate: src,
		BeforeConsume: func(msg substrate.Message) {
			counters.MessageConsumed(backend.PositionOf(msg).Topic)
		},
		BeforeAck: func(ack substrate.Message) {
			counters.MessageAcked(backend.PositionOf(ack).Topic)
		},
		OnConsumeError: func(error) {
			counters.Error(metrics.KindConsume)
		},
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("failed to close client", zap.Error(err))
		}
	}()

	logger.Info("consuming",
		zap.String("client", conf.client),
		zap.Strings("brokers", conf.brokers),
		zap.String("group", conf.groupID),
		zap.Strings("topics", conf.topics),
	)

	g, ctx := rungroup.New(ctx, rungroup.WithLogger(logger))
	g.Go("consumer", func() error {
		return printer.Run(ctx, source)
	})
	if conf.metricsAddr != "" {
		g.Go("metrics", func() error {
			return metrics.Serve(ctx, conf.metricsAddr, metrics.NewRouter(registry, source.Status), logger)
		})
	}
	g.GoAsync("signals", func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.Stringer("signal", sig))
		case <-ctx.Done():
		}
		return nil
	})

	err = g.Wait()
	logger.Debug("stopped", zap.String("first", g.FirstStopped()))
	return err
}
