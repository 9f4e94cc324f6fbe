// Package mem provides an in-memory broker used to exercise the consumer without a Kafka cluster.
package mem

import (
	"context"
	"sync"

	"github.com/uw-labs/substrate"

	"github.com/uw-labs/kconsume/pkg/backend"
)

// Broker keeps single partition topics and the offsets committed by each consumer group.
type Broker struct {
	mu sync.Mutex

	logs      map[string][]*backend.Record
	committed map[string]map[string]int64
	errs      []error
	commitErr error
	subs      int
	changed   chan struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		logs:      make(map[string][]*backend.Record),
		committed: make(map[string]map[string]int64),
		changed:   make(chan struct{}),
	}
}

// Publish appends a message to a topic. A nil value publishes a message without payload.
func (b *Broker) Publish(topic string, value []byte) backend.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := backend.Position{Topic: topic, Offset: int64(len(b.logs[topic]))}
	b.logs[topic] = append(b.logs[topic], &backend.Record{Value: value, Pos: pos})
	b.notify()

	return pos
}

// InjectError makes the next poll of a subscriber report err instead of a message.
func (b *Broker) InjectError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errs = append(b.errs, err)
	b.notify()
}

// FailCommits makes every following commit fail with err. A nil err restores commits.
func (b *Broker) FailCommits(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.commitErr = err
}

// Committed returns the next offset the group will read from topic, if it committed one.
func (b *Broker) Committed(group, topic string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	off, ok := b.committed[group][topic]
	return off, ok
}

// Subscribers returns the number of open sources.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.subs
}

// NewAsyncSource subscribes to the configured topics. Reading starts at the committed offset of
// the group, or according to the reset policy when there is none.
func (b *Broker) NewAsyncSource(ctx context.Context, conf backend.Config) (substrate.AsyncMessageSource, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]int64, len(conf.Topics))
	for _, topic := range conf.Topics {
		if off, ok := b.committed[conf.GroupID][topic]; ok {
			next[topic] = off
			continue
		}
		if conf.OffsetReset == backend.OffsetResetLatest {
			next[topic] = int64(len(b.logs[topic]))
		}
	}
	b.subs++

	return &source{broker: b, conf: conf, next: next}, nil
}

// notify wakes up waiting subscribers; b.mu must be held.
func (b *Broker) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// poll returns the first record at or after next in any of topics. It doesn't move next.
func (b *Broker) poll(topics []string, next map[string]int64) (*backend.Record, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, nil, err
	}

	for _, topic := range topics {
		off := next[topic]
		if off < int64(len(b.logs[topic])) {
			rec := *b.logs[topic][off]
			return &rec, nil, nil
		}
	}

	return nil, b.changed, nil
}

func (b *Broker) commit(group string, pos backend.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.commitErr != nil {
		return b.commitErr
	}

	offsets := b.committed[group]
	if offsets == nil {
		offsets = make(map[string]int64)
		b.committed[group] = offsets
	}
	if pos.Offset+1 > offsets[pos.Topic] {
		offsets[pos.Topic] = pos.Offset + 1
	}
	return nil
}
