package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/uw-labs/kconsume/internal/id"
	"github.com/uw-labs/kconsume/pkg/backend"
	"github.com/uw-labs/kconsume/pkg/backend/franz"
	"github.com/uw-labs/kconsume/pkg/backend/kafka"
	"github.com/uw-labs/kconsume/pkg/backend/sarama"
	"github.com/uw-labs/kconsume/pkg/backend/segmentio"
	"github.com/uw-labs/kconsume/pkg/logging"
)

const (
	clientLibrdkafka = "librdkafka"
	clientSarama     = "sarama"
	clientFranz      = "franz"
	clientSegmentio  = "segmentio"

	defaultGroupID = "example_consumer_group_id"
)

var errUnknownClient = errors.New("unknown client")

// clients maps every --client value onto the factory of its sources.
var clients = map[string]func(conf *runConfig, logger *zap.Logger) backend.SourceFactory{
	clientLibrdkafka: func(_ *runConfig, logger *zap.Logger) backend.SourceFactory {
		v, s := kafka.LibraryVersion()
		logger.Debug("using librdkafka", zap.String("version", s), zap.String("hex", fmt.Sprintf("0x%08x", v)))
		return kafka.AsyncSourceFactory{}
	},
	clientSarama: func(conf *runConfig, _ *zap.Logger) backend.SourceFactory {
		return sarama.AsyncSourceFactory{Version: conf.kafkaVersion}
	},
	clientFranz: func(*runConfig, *zap.Logger) backend.SourceFactory {
		return franz.AsyncSourceFactory{}
	},
	clientSegmentio: func(*runConfig, *zap.Logger) backend.SourceFactory {
		return segmentio.AsyncSourceFactory{}
	},
}

// runConfig is everything the command line decides about a run.
type runConfig struct {
	brokers      []string
	groupID      string
	topics       []string
	client       string
	kafkaVersion string
	log          logging.Config
	strict       bool
	metricsAddr  string
	properties   map[string]string
}

func (c *runConfig) validate() error {
	if len(c.brokers) == 0 {
		return backend.ErrNoBrokers
	}
	if len(c.topics) == 0 {
		return backend.ErrNoTopics
	}
	if _, ok := clients[c.client]; !ok {
		return errors.Wrapf(errUnknownClient, "%q", c.client)
	}
	if len(c.properties) > 0 && c.client != clientLibrdkafka {
		return backend.ErrPropertiesUnsupported
	}
	return nil
}

func (c *runConfig) backendConfig(logger *zap.Logger, hooks backend.Hooks) backend.Config {
	conf := backend.NewConfig(c.brokers, c.groupID, c.topics)
	conf.ClientID = id.New(appName)
	conf.Properties = c.properties
	conf.Logger = logger
	conf.Hooks = hooks
	return conf
}

// newSourceFactory returns the factory for a validated configuration.
func newSourceFactory(conf *runConfig, logger *zap.Logger) backend.SourceFactory {
	return clients[conf.client](conf, logger)
}

// splitList splits every value on commas and drops blanks and duplicates, keeping the first occurrence.
func splitList(values ...string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

// loadProperties reads a YAML map of extra client properties.
func loadProperties(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read client configuration")
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(dat, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse client configuration %s", path)
	}

	props := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[interface{}]interface{}, []interface{}:
			return nil, errors.Errorf("client property %q must be a scalar", k)
		case nil:
			props[k] = ""
		default:
			props[k] = fmt.Sprint(v)
		}
	}
	return props, nil
}
