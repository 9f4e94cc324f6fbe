package sarama

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/uw-labs/kconsume/internal/kafkatest"
	"github.com/uw-labs/kconsume/pkg/backend"
)

func TestNewConfig(t *testing.T) {
	assert := require.New(t)

	c, err := NewConfig(backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"}), "")
	assert.NoError(err)

	assert.Equal(sarama.OffsetNewest, c.Consumer.Offsets.Initial)
	assert.Equal(6*time.Second, c.Consumer.Group.Session.Timeout)
	assert.True(c.Consumer.Offsets.AutoCommit.Enable)
	assert.True(c.Consumer.Return.Errors)
}

func TestNewConfig_EarliestAndVersion(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"})
	conf.OffsetReset = backend.OffsetResetEarliest

	c, err := NewConfig(conf, "2.8.0")
	assert.NoError(err)
	assert.Equal(sarama.OffsetOldest, c.Consumer.Offsets.Initial)
	assert.Equal(sarama.V2_8_0_0, c.Version)
}

func TestNewConfig_Errors(t *testing.T) {
	assert := require.New(t)

	conf := backend.NewConfig([]string{"localhost:9092"}, "g1", []string{"t1"})

	_, err := NewConfig(conf, "not-a-version")
	assert.Error(err)

	conf.Properties = map[string]string{"security.protocol": "SSL"}
	_, err = NewConfig(conf, "")
	assert.Equal(backend.ErrPropertiesUnsupported, err)
}

func TestSource_PrintAndRestart(t *testing.T) {
	kafkatest.PrintAndRestart(t, AsyncSourceFactory{Version: "2.8.0"})
}
