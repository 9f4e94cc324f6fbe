// Package kafkatest runs the clients against an in-process Kafka cluster.
package kafkatest

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/uw-labs/substrate"

	"github.com/uw-labs/kconsume/pkg/backend"
	"github.com/uw-labs/kconsume/pkg/consumer"
)

const waitTimeout = 30 * time.Second

// Cluster is a single broker fake cluster.
type Cluster struct {
	Brokers []string
}

// NewCluster starts a cluster with one single-partition topic per name. It's shut down with the test.
func NewCluster(t testing.TB, topics ...string) *Cluster {
	t.Helper()

	c, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topics...))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return &Cluster{Brokers: c.ListenAddrs()}
}

// Config returns a client configuration reading the group's topics from the beginning.
func (c *Cluster) Config(group string, topics ...string) backend.Config {
	conf := backend.NewConfig(c.Brokers, group, topics)
	conf.OffsetReset = backend.OffsetResetEarliest
	conf.Debug = false
	return conf
}

// Produce writes values to topic in order. A nil value produces a record without payload.
func (c *Cluster) Produce(t testing.TB, topic string, values ...[]byte) {
	t.Helper()

	cl, err := kgo.NewClient(kgo.SeedBrokers(c.Brokers...))
	require.NoError(t, err)
	defer cl.Close()

	records := make([]*kgo.Record, 0, len(values))
	for _, v := range values {
		records = append(records, &kgo.Record{Topic: topic, Value: v})
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, cl.ProduceSync(ctx, records...).FirstErr())
}

// Output collects what a printer writes.
type Output struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(p)
}

func (o *Output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

var errStop = errors.New("stop record reached")

// PrintAndRestart checks a client end to end. A first consumer prints "hello", skips a record
// without payload, prints "world" and stops at a "stop" record it never acknowledges. A second
// consumer in the same group must start at that record, so its output is "stop" and "again".
func PrintAndRestart(t *testing.T, factory backend.SourceFactory) {
	const (
		topic = "t1"
		group = "g1"
	)

	cluster := NewCluster(t, topic)
	cluster.Produce(t, topic, []byte("hello"), nil, []byte("world"), []byte("stop"))

	first := &Output{}
	err := consume(t, factory, cluster.Config(group, topic), first, "stop", "")
	require.True(t, errors.Is(err, errStop), "unexpected error: %v", err)
	require.Equal(t, "hello\nworld\n", first.String())

	cluster.Produce(t, topic, []byte("again"))

	second := &Output{}
	err = consume(t, factory, cluster.Config(group, topic), second, "", "stop\nagain\n")
	require.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	require.Equal(t, "stop\nagain\n", second.String())
}

// consume prints the records of a fresh source. It returns errStop at the first record whose
// payload is stopAt, or stops once the output reads want.
func consume(t *testing.T, factory backend.SourceFactory, conf backend.Config, out *Output, stopAt, want string) error {
	t.Helper()

	printer := consumer.NewPrinter(out)
	conf.Hooks = printer.Hooks()

	timeout, cancelTimeout := context.WithTimeout(context.Background(), waitTimeout)
	defer cancelTimeout()
	ctx, cancel := context.WithCancel(timeout)
	defer cancel()

	src, err := factory.NewAsyncSource(ctx, conf)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	err = substrate.NewSynchronousMessageSource(src).ConsumeMessages(ctx, func(ctx context.Context, msg substrate.Message) error {
		if stopAt != "" && string(msg.Data()) == stopAt {
			return errStop
		}
		if err := printer.Handle(ctx, msg); err != nil {
			return err
		}
		if want != "" && out.String() == want {
			cancel()
		}
		return nil
	})
	require.NoError(t, timeout.Err(), "timed out")
	return err
}
