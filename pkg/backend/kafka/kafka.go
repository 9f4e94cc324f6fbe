// Package kafka implements the consumer client on top of librdkafka.
package kafka

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uw-labs/kconsume/pkg/backend"
)

// LoggerName is the name of the logger receiving librdkafka's own logs.
const LoggerName = "librdkafka"

// syslog level used by librdkafka for debug output
const logLevelDebug = 7

// reserved properties are always set from backend.Config.
var reserved = map[string]bool{
	"bootstrap.servers":        true,
	"metadata.broker.list":     true,
	"group.id":                 true,
	"client.id":                true,
	"enable.partition.eof":     true,
	"session.timeout.ms":       true,
	"enable.auto.commit":       true,
	"enable.auto.offset.store": true,
	"auto.offset.reset":        true,
	"go.logs.channel.enable":   true,
	"go.events.channel.enable": true,
}

// LibraryVersion returns the librdkafka version as a number and as a string.
func LibraryVersion() (int, string) {
	return kafka.LibraryVersion()
}

// ConfigMap returns the librdkafka configuration for conf. Offsets are stored explicitly when a
// record is acknowledged and committed in the background by librdkafka.
func ConfigMap(conf backend.Config) (kafka.ConfigMap, error) {
	cm := kafka.ConfigMap{}
	for k, v := range conf.Properties {
		if reserved[k] {
			return nil, errors.Errorf("property %q can't be overridden", k)
		}
		cm[k] = v
	}

	cm["bootstrap.servers"] = strings.Join(conf.Brokers, ",")
	cm["group.id"] = conf.GroupID
	if conf.ClientID != "" {
		cm["client.id"] = conf.ClientID
	}
	cm["enable.partition.eof"] = conf.PartitionEOF
	cm["session.timeout.ms"] = int(conf.SessionTimeout / time.Millisecond)
	cm["enable.auto.commit"] = conf.AutoCommit
	cm["enable.auto.offset.store"] = false
	cm["auto.offset.reset"] = conf.OffsetReset
	if conf.Debug {
		cm["log_level"] = logLevelDebug
		cm["go.logs.channel.enable"] = true
	}

	return cm, nil
}

// AsyncSourceFactory creates librdkafka backed sources.
type AsyncSourceFactory struct{}

func (AsyncSourceFactory) NewAsyncSource(ctx context.Context, conf backend.Config) (substrate.AsyncMessageSource, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	cm, err := ConfigMap(conf)
	if err != nil {
		return nil, err
	}

	c, err := kafka.NewConsumer(&cm)
	if err != nil {
		return nil, errors.Wrap(err, "consumer creation failed")
	}

	s := &source{
		consumer: c,
		conf:     conf,
		log:      conf.Log().Named(LoggerName),
		stop:     make(chan struct{}),
	}
	if conf.Debug {
		go s.forwardLogs()
	}

	if err := c.SubscribeTopics(conf.Topics, nil); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "can't subscribe to specified topics")
	}

	return s, nil
}

type message struct {
	backend.Record
	raw *kafka.Message
}

func newMessage(m *kafka.Message) *message {
	var topic string
	if m.TopicPartition.Topic != nil {
		topic = *m.TopicPartition.Topic
	}
	return &message{
		Record: backend.Record{
			Key:   m.Key,
			Value: m.Value,
			Pos: backend.Position{
				Topic:     topic,
				Partition: m.TopicPartition.Partition,
				Offset:    int64(m.TopicPartition.Offset),
			},
		},
		raw: m,
	}
}

type source struct {
	consumer *kafka.Consumer
	conf     backend.Config
	log      *zap.Logger

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *source) ConsumeMessages(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message) error {
	return backend.Consume(ctx, messages, acks, s.conf.Hooks, s.fetch, s.commit)
}

func (s *source) fetch(ctx context.Context, deliver func(substrate.Message) error) error {
	timeoutMs := int(backend.PollInterval / time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.handle(s.consumer.Poll(timeoutMs), deliver); err != nil {
			return nil
		}
	}
}

// handle dispatches a single polled event. It only fails when deliver does.
func (s *source) handle(ev kafka.Event, deliver func(substrate.Message) error) error {
	switch ev := ev.(type) {
	case nil:
		// no message available yet
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			s.conf.Hooks.DeliveryError(ev.TopicPartition.Error)
			return nil
		}
		return deliver(newMessage(ev))
	case kafka.Error:
		s.conf.Hooks.DeliveryError(ev)
	default:
		s.log.Debug("ignored event", zap.String("event", ev.String()))
	}
	return nil
}

func (s *source) commit(msg substrate.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return backend.ErrInvalidAck
	}
	_, err := s.consumer.StoreMessage(m.raw)
	return err
}

func (s *source) forwardLogs() {
	logs := s.consumer.Logs()
	for {
		select {
		case ev, ok := <-logs:
			if !ok {
				return
			}
			if ce := s.log.Check(syslogLevel(ev.Level), ev.Message); ce != nil {
				ce.Write(zap.String("facility", ev.Tag), zap.String("client", ev.Name))
			}
		case <-s.stop:
			return
		}
	}
}

func syslogLevel(level int) zapcore.Level {
	switch {
	case level <= 3:
		return zapcore.ErrorLevel
	case level == 4:
		return zapcore.WarnLevel
	case level <= 6:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.consumer.Close()
		close(s.stop)
	})
	return s.closeErr
}

func (s *source) Status() (*substrate.Status, error) {
	if s.consumer.IsClosed() {
		return &substrate.Status{Problems: []string{"consumer is closed"}}, nil
	}
	return &substrate.Status{Working: true}, nil
}
