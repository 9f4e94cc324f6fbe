package franz

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uw-labs/kconsume/internal/kafkatest"
	"github.com/uw-labs/kconsume/pkg/backend"
	"github.com/uw-labs/kconsume/pkg/logging"
)

func TestOptions(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1", "t2"})
	opts, err := Options(conf)
	assert.NoError(err)
	// seed brokers, group, topics, session timeout, reset, marks and the logger
	assert.Len(opts, 7)

	conf.Debug = false
	conf.AutoCommit = false
	opts, err = Options(conf)
	assert.NoError(err)
	assert.Len(opts, 7)

	conf.Properties = map[string]string{"security.protocol": "SSL"}
	_, err = Options(conf)
	assert.Equal(backend.ErrPropertiesUnsupported, err)
}

func TestLogger(t *testing.T) {
	assert := require.New(t)

	core, logs := observer.New(zapcore.InfoLevel)
	l := &logger{log: zap.New(core)}

	assert.Equal(kgo.LogLevelInfo, l.Level())

	l.Log(kgo.LogLevelWarn, "heartbeat errored", "group", "g1", "err", "boom")
	l.Log(kgo.LogLevelDebug, "fetched", "partitions", 3)

	assert.Equal(1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(zapcore.WarnLevel, entry.Level)
	assert.Equal("heartbeat errored", entry.Message)
	assert.Equal("g1", entry.ContextMap()["group"])
}

func TestLogger_LevelFollowsName(t *testing.T) {
	assert := require.New(t)

	core, _ := observer.New(zapcore.DebugLevel)

	conf, err := logging.ParseFilter("warn,librdkafka=debug")
	assert.NoError(err)
	l := &logger{log: zap.New(logging.NewFilterCore(core, conf)).Named(LoggerName)}
	assert.Equal(kgo.LogLevelWarn, l.Level())

	conf, err = logging.ParseFilter("warn,franz=debug")
	assert.NoError(err)
	l = &logger{log: zap.New(logging.NewFilterCore(core, conf)).Named(LoggerName)}
	assert.Equal(kgo.LogLevelDebug, l.Level())

	conf, err = logging.ParseFilter("off")
	assert.NoError(err)
	l = &logger{log: zap.New(logging.NewFilterCore(core, conf)).Named(LoggerName)}
	assert.Equal(kgo.LogLevelError, l.Level())
}

func TestSource_PrintAndRestart(t *testing.T) {
	kafkatest.PrintAndRestart(t, AsyncSourceFactory{})
}
