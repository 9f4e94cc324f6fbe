// Package sarama implements the consumer client on top of IBM/sarama consumer groups.
package sarama

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uw-labs/kconsume/pkg/backend"
)

// LoggerName is the name of the logger receiving sarama's own logs.
const LoggerName = "sarama"

var setLoggerOnce sync.Once

// NewConfig maps conf onto a sarama configuration. An empty version keeps sarama's default.
func NewConfig(conf backend.Config, version string) (*sarama.Config, error) {
	if len(conf.Properties) > 0 {
		return nil, backend.ErrPropertiesUnsupported
	}

	c := sarama.NewConfig()
	if conf.ClientID != "" {
		c.ClientID = conf.ClientID
	}
	c.Consumer.Return.Errors = true
	c.Consumer.Group.Session.Timeout = conf.SessionTimeout
	c.Consumer.Offsets.AutoCommit.Enable = conf.AutoCommit
	switch conf.OffsetReset {
	case backend.OffsetResetEarliest:
		c.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		c.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if version != "" {
		kv, err := sarama.ParseKafkaVersion(version)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse kafka version")
		}
		c.Version = kv
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sarama configuration")
	}
	return c, nil
}

// AsyncSourceFactory creates sarama backed sources.
type AsyncSourceFactory struct {
	// Version is the Kafka version of the cluster e.g. 2.8.0
	Version string
}

func (f AsyncSourceFactory) NewAsyncSource(ctx context.Context, conf backend.Config) (substrate.AsyncMessageSource, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	sc, err := NewConfig(conf, f.Version)
	if err != nil {
		return nil, err
	}

	if conf.Debug {
		// sarama only offers a package level logger
		setLoggerOnce.Do(func() {
			if l, err := zap.NewStdLogAt(conf.Log().Named(LoggerName), zapcore.DebugLevel); err == nil {
				sarama.Logger = l
			}
		})
	}

	group, err := sarama.NewConsumerGroup(conf.Brokers, conf.GroupID, sc)
	if err != nil {
		return nil, errors.Wrap(err, "consumer creation failed")
	}

	return &source{group: group, conf: conf}, nil
}

type message struct {
	backend.Record
	raw     *sarama.ConsumerMessage
	session sarama.ConsumerGroupSession
}

type source struct {
	group sarama.ConsumerGroup
	conf  backend.Config

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

func (s *source) ConsumeMessages(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message) error {
	return backend.Consume(ctx, messages, acks, s.conf.Hooks, s.fetch, s.commit)
}

func (s *source) fetch(ctx context.Context, deliver func(substrate.Message) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			select {
			case err, ok := <-s.group.Errors():
				if !ok {
					return
				}
				s.conf.Hooks.DeliveryError(err)
			case <-ctx.Done():
				return
			}
		}
	}()

	h := &handler{deliver: deliver}
	for {
		// Consume returns on every rebalance, so it has to be called in a loop.
		if err := s.group.Consume(ctx, s.conf.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			s.conf.Hooks.DeliveryError(err)
			select {
			case <-ctx.Done():
			case <-time.After(backend.PollInterval):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *source) commit(msg substrate.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return backend.ErrInvalidAck
	}
	m.session.MarkMessage(m.raw, "")
	return nil
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.group.Close()
	})
	return s.closeErr
}

func (s *source) Status() (*substrate.Status, error) {
	if s.closed.Load() {
		return &substrate.Status{Problems: []string{"consumer group is closed"}}, nil
	}
	return &substrate.Status{Working: true}, nil
}

type handler struct {
	deliver func(substrate.Message) error
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim runs once per claimed partition, concurrently with the other claims.
func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			err := h.deliver(&message{
				Record: backend.Record{
					Key:   msg.Key,
					Value: msg.Value,
					Pos: backend.Position{
						Topic:     msg.Topic,
						Partition: msg.Partition,
						Offset:    msg.Offset,
					},
				},
				raw:     msg,
				session: sess,
			})
			if err != nil {
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}
