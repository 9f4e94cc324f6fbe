// Package segmentio implements the consumer client on top of segmentio/kafka-go readers.
package segmentio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/uw-labs/substrate"

	"github.com/uw-labs/kconsume/pkg/backend"
)

// LoggerName is the name of the logger receiving kafka-go's own logs.
const LoggerName = "segmentio"

// ReaderConfig maps conf onto a kafka-go reader configuration.
func ReaderConfig(conf backend.Config) (kafka.ReaderConfig, error) {
	if len(conf.Properties) > 0 {
		return kafka.ReaderConfig{}, backend.ErrPropertiesUnsupported
	}

	rc := kafka.ReaderConfig{
		Brokers:        conf.Brokers,
		GroupID:        conf.GroupID,
		GroupTopics:    conf.Topics,
		SessionTimeout: conf.SessionTimeout,
		StartOffset:    kafka.LastOffset,
	}
	if conf.ClientID != "" {
		rc.Dialer = &kafka.Dialer{
			ClientID:  conf.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		}
	}
	if conf.OffsetReset == backend.OffsetResetEarliest {
		rc.StartOffset = kafka.FirstOffset
	}
	if conf.AutoCommit {
		// commits are flushed periodically instead of on every CommitMessages call
		rc.CommitInterval = time.Second
	}
	if conf.Debug {
		sugar := conf.Log().Named(LoggerName).Sugar()
		rc.Logger = kafka.LoggerFunc(sugar.Debugf)
		rc.ErrorLogger = kafka.LoggerFunc(sugar.Warnf)
	}

	if err := rc.Validate(); err != nil {
		return kafka.ReaderConfig{}, errors.Wrap(err, "invalid reader configuration")
	}
	return rc, nil
}

// AsyncSourceFactory creates kafka-go backed sources.
type AsyncSourceFactory struct{}

func (AsyncSourceFactory) NewAsyncSource(ctx context.Context, conf backend.Config) (substrate.AsyncMessageSource, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	rc, err := ReaderConfig(conf)
	if err != nil {
		return nil, err
	}

	return &source{reader: kafka.NewReader(rc), conf: conf}, nil
}

type message struct {
	backend.Record
	raw kafka.Message
}

type source struct {
	reader *kafka.Reader
	conf   backend.Config

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

func (s *source) ConsumeMessages(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message) error {
	return backend.Consume(ctx, messages, acks, s.conf.Hooks, s.fetch, s.commit)
}

func (s *source) fetch(ctx context.Context, deliver func(substrate.Message) error) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			return nil
		case err != nil:
			s.conf.Hooks.DeliveryError(err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backend.PollInterval):
			}
			continue
		}

		err = deliver(&message{
			Record: backend.Record{
				Key:   m.Key,
				Value: m.Value,
				Pos: backend.Position{
					Topic:     m.Topic,
					Partition: int32(m.Partition),
					Offset:    m.Offset,
				},
			},
			raw: m,
		})
		if err != nil {
			return nil
		}
	}
}

func (s *source) commit(msg substrate.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return backend.ErrInvalidAck
	}
	return s.reader.CommitMessages(context.Background(), m.raw)
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

func (s *source) Status() (*substrate.Status, error) {
	if s.closed.Load() {
		return &substrate.Status{Problems: []string{"reader is closed"}}, nil
	}
	return &substrate.Status{Working: true}, nil
}
