package kafka

import (
	"context"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uw-labs/kconsume/pkg/backend"
)

func TestConfigMap_FixedOptions(t *testing.T) {
	assert := require.New(t)

	cm, err := ConfigMap(backend.NewConfig([]string{"broker1:9092", "broker2:9092"}, "g1", []string{"t1", "t2"}))
	assert.NoError(err)

	assert.Equal("broker1:9092,broker2:9092", cm["bootstrap.servers"])
	assert.Equal("g1", cm["group.id"])
	assert.Equal(false, cm["enable.partition.eof"])
	assert.Equal(6000, cm["session.timeout.ms"])
	assert.Equal(true, cm["enable.auto.commit"])
	assert.Equal(false, cm["enable.auto.offset.store"])
	assert.Equal("latest", cm["auto.offset.reset"])
	assert.Equal(7, cm["log_level"])
	assert.Equal(true, cm["go.logs.channel.enable"])
}

func TestConfigMap_Properties(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"})
	conf.Debug = false
	conf.Properties = map[string]string{
		"security.protocol": "SASL_SSL",
		"sasl.mechanisms":   "PLAIN",
	}

	cm, err := ConfigMap(conf)
	assert.NoError(err)
	assert.Equal("SASL_SSL", cm["security.protocol"])
	assert.Equal("PLAIN", cm["sasl.mechanisms"])

	_, ok := cm["log_level"]
	assert.False(ok, "debug logging should be off")
}

func TestConfigMap_ReservedProperties(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"})
	conf.Properties = map[string]string{"auto.offset.reset": "earliest"}

	_, err := ConfigMap(conf)
	assert.Error(err)
}

func TestSyslogLevel(t *testing.T) {
	assert := require.New(t)

	assert.Equal(zapcore.ErrorLevel, syslogLevel(3))
	assert.Equal(zapcore.WarnLevel, syslogLevel(4))
	assert.Equal(zapcore.InfoLevel, syslogLevel(6))
	assert.Equal(zapcore.DebugLevel, syslogLevel(7))
}

func TestSource_Handle(t *testing.T) {
	assert := require.New(t)

	var reported []error
	s := &source{
		conf: backend.Config{Hooks: backend.Hooks{OnDeliveryError: func(err error) { reported = append(reported, err) }}},
		log:  zap.NewNop(),
	}

	var delivered []substrate.Message
	deliver := func(msg substrate.Message) error {
		delivered = append(delivered, msg)
		return nil
	}

	topic := "t1"
	partitionErr := kafka.NewError(kafka.ErrUnknownTopicOrPart, "unknown partition", false)

	assert.NoError(s.handle(nil, deliver))
	assert.NoError(s.handle(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 2, Offset: 7, Error: partitionErr},
	}, deliver))
	assert.NoError(s.handle(kafka.NewError(kafka.ErrTransport, "broker down", false), deliver))
	assert.NoError(s.handle(kafka.PartitionEOF{Topic: &topic}, deliver))
	assert.NoError(s.handle(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 2, Offset: 8},
		Value:          []byte("hello"),
	}, deliver))

	assert.Len(reported, 2)
	assert.Len(delivered, 1)
	assert.Equal("hello", string(delivered[0].Data()))
	assert.Equal(backend.Position{Topic: "t1", Partition: 2, Offset: 8}, backend.PositionOf(delivered[0]))

	stop := errors.New("stopped")
	err := s.handle(&kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic}}, func(substrate.Message) error { return stop })
	assert.Equal(stop, err)
}

func TestSource_CommitAndClose(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"127.0.0.1:1"}, "g1", []string{"t1"})
	conf.Debug = false

	src, err := AsyncSourceFactory{}.NewAsyncSource(context.Background(), conf)
	assert.NoError(err)
	s := src.(*source)

	assert.Equal(backend.ErrInvalidAck, s.commit(&backend.Record{}))

	// offsets of partitions that aren't assigned to this member can't be stored
	topic := "t1"
	assert.Error(s.commit(newMessage(&kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Offset: 3}})))

	status, err := src.Status()
	assert.NoError(err)
	assert.True(status.Working)

	assert.NoError(src.Close())
	assert.NoError(src.Close())

	status, err = src.Status()
	assert.NoError(err)
	assert.False(status.Working)
}
