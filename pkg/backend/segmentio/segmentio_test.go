package segmentio

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/uw-labs/substrate"

	"github.com/uw-labs/kconsume/internal/kafkatest"
	"github.com/uw-labs/kconsume/pkg/backend"
)

func TestReaderConfig(t *testing.T) {
	assert := require.New(t)

	rc, err := ReaderConfig(backend.NewConfig([]string{"broker1:9092", "broker2:9092"}, "g1", []string{"t1", "t2"}))
	assert.NoError(err)

	assert.Equal([]string{"broker1:9092", "broker2:9092"}, rc.Brokers)
	assert.Equal("g1", rc.GroupID)
	assert.Equal([]string{"t1", "t2"}, rc.GroupTopics)
	assert.Equal(6*time.Second, rc.SessionTimeout)
	assert.Equal(kafka.LastOffset, rc.StartOffset)
	assert.Equal(time.Second, rc.CommitInterval)
	assert.NotNil(rc.Logger)
	assert.NotNil(rc.ErrorLogger)
}

func TestReaderConfig_Earliest(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"})
	conf.OffsetReset = backend.OffsetResetEarliest
	conf.AutoCommit = false
	conf.Debug = false

	rc, err := ReaderConfig(conf)
	assert.NoError(err)
	assert.Equal(kafka.FirstOffset, rc.StartOffset)
	assert.Zero(rc.CommitInterval)
	assert.Nil(rc.Logger)
}

func TestReaderConfig_Properties(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"})
	conf.Properties = map[string]string{"security.protocol": "SSL"}

	_, err := ReaderConfig(conf)
	assert.Equal(backend.ErrPropertiesUnsupported, err)
}

func TestSource_PrintAndRestart(t *testing.T) {
	kafkatest.PrintAndRestart(t, AsyncSourceFactory{})
}

func TestSource_ConsumeAfterClose(t *testing.T) {
	assert := require.New(t)

	cluster := kafkatest.NewCluster(t, "t1")
	src, err := AsyncSourceFactory{}.NewAsyncSource(context.Background(), cluster.Config("g1", "t1"))
	assert.NoError(err)

	assert.NoError(src.Close())
	st, err := src.Status()
	assert.NoError(err)
	assert.False(st.Working)

	// a closed reader ends fetching with io.EOF, which is a clean stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.NoError(src.ConsumeMessages(ctx, make(chan substrate.Message), make(chan substrate.Message)))
	assert.NoError(ctx.Err())
}
