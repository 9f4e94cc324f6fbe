package mem

import (
	"context"
	"sync"

	"github.com/uw-labs/substrate"

	"github.com/uw-labs/kconsume/pkg/backend"
)

type source struct {
	broker *Broker
	conf   backend.Config
	next   map[string]int64

	closeOnce sync.Once
}

func (s *source) ConsumeMessages(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message) error {
	return backend.Consume(ctx, messages, acks, s.conf.Hooks, s.fetch, s.commit)
}

func (s *source) fetch(ctx context.Context, deliver func(substrate.Message) error) error {
	for {
		rec, changed, err := s.broker.poll(s.conf.Topics, s.next)
		switch {
		case err != nil:
			s.conf.Hooks.DeliveryError(err)
		case rec != nil:
			if err := deliver(rec); err != nil {
				return nil
			}
			// advance only once the record was handed out
			s.next[rec.Pos.Topic] = rec.Pos.Offset + 1
		default:
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
			}
		}
	}
}

func (s *source) commit(msg substrate.Message) error {
	rec, ok := msg.(*backend.Record)
	if !ok {
		return backend.ErrInvalidAck
	}
	return s.broker.commit(s.conf.GroupID, rec.Pos)
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		s.broker.subs--
		s.broker.mu.Unlock()
	})
	return nil
}

func (s *source) Status() (*substrate.Status, error) {
	return &substrate.Status{Working: true}, nil
}
