// Package franz implements the consumer client on top of twmb/franz-go.
package franz

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uw-labs/kconsume/pkg/backend"
)

// LoggerName is the name of the logger receiving franz-go's own logs.
const LoggerName = "franz"

// Options maps conf onto franz-go client options. Records are marked when acknowledged
// and marked offsets are committed in the background.
func Options(conf backend.Config) ([]kgo.Opt, error) {
	if len(conf.Properties) > 0 {
		return nil, backend.ErrPropertiesUnsupported
	}

	reset := kgo.NewOffset().AtEnd()
	if conf.OffsetReset == backend.OffsetResetEarliest {
		reset = kgo.NewOffset().AtStart()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.ConsumerGroup(conf.GroupID),
		kgo.ConsumeTopics(conf.Topics...),
		kgo.SessionTimeout(conf.SessionTimeout),
		kgo.ConsumeResetOffset(reset),
		kgo.AutoCommitMarks(),
	}
	if conf.ClientID != "" {
		opts = append(opts, kgo.ClientID(conf.ClientID))
	}
	if !conf.AutoCommit {
		opts = append(opts, kgo.DisableAutoCommit())
	}
	if conf.Debug {
		opts = append(opts, kgo.WithLogger(&logger{log: conf.Log().Named(LoggerName)}))
	}
	return opts, nil
}

// AsyncSourceFactory creates franz-go backed sources.
type AsyncSourceFactory struct{}

func (AsyncSourceFactory) NewAsyncSource(ctx context.Context, conf backend.Config) (substrate.AsyncMessageSource, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	opts, err := Options(conf)
	if err != nil {
		return nil, err
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "consumer creation failed")
	}

	return &source{client: cl, conf: conf}, nil
}

type message struct {
	backend.Record
	raw *kgo.Record
}

type source struct {
	client *kgo.Client
	conf   backend.Config

	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *source) ConsumeMessages(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message) error {
	return backend.Consume(ctx, messages, acks, s.conf.Hooks, s.fetch, s.commit)
}

func (s *source) fetch(ctx context.Context, deliver func(substrate.Message) error) error {
	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.conf.Hooks.DeliveryError(errors.Wrapf(err, "fetching %s[%d]", topic, partition))
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			r := iter.Next()
			err := deliver(&message{
				Record: backend.Record{
					Key:   r.Key,
					Value: r.Value,
					Pos: backend.Position{
						Topic:     r.Topic,
						Partition: r.Partition,
						Offset:    r.Offset,
					},
				},
				raw: r,
			})
			if err != nil {
				return nil
			}
		}
	}
}

func (s *source) commit(msg substrate.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return backend.ErrInvalidAck
	}
	s.client.MarkCommitRecords(m.raw)
	return nil
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.client.Close()
	})
	return nil
}

func (s *source) Status() (*substrate.Status, error) {
	if s.closed.Load() {
		return &substrate.Status{Problems: []string{"client is closed"}}, nil
	}
	return &substrate.Status{Working: true}, nil
}

// logger adapts zap to kgo.Logger.
type logger struct {
	log *zap.Logger
}

func (l *logger) Level() kgo.LogLevel {
	switch {
	case l.enabled(zapcore.DebugLevel):
		return kgo.LogLevelDebug
	case l.enabled(zapcore.InfoLevel):
		return kgo.LogLevelInfo
	case l.enabled(zapcore.WarnLevel):
		return kgo.LogLevelWarn
	default:
		return kgo.LogLevelError
	}
}

// enabled asks the core about an entry of this logger, so per name levels apply.
func (l *logger) enabled(lvl zapcore.Level) bool {
	return l.log.Check(lvl, "") != nil
}

func (l *logger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var lvl zapcore.Level
	switch level {
	case kgo.LogLevelError:
		lvl = zapcore.ErrorLevel
	case kgo.LogLevelWarn:
		lvl = zapcore.WarnLevel
	case kgo.LogLevelInfo:
		lvl = zapcore.InfoLevel
	default:
		lvl = zapcore.DebugLevel
	}

	if ce := l.log.Check(lvl, msg); ce != nil {
		fields := make([]zap.Field, 0, len(keyvals)/2)
		for i := 0; i+1 < len(keyvals); i += 2 {
			key, ok := keyvals[i].(string)
			if !ok {
				continue
			}
			fields = append(fields, zap.Any(key, keyvals[i+1]))
		}
		ce.Write(fields...)
	}
}
