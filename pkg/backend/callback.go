package backend

import (
	"context"

	"github.com/uw-labs/substrate"
	"github.com/uw-labs/sync/gogroup"
)

// CallbackSource wraps an async source and calls the provided functions as messages and
// acknowledgements pass through it.
type CallbackSource struct {
	Delegate substrate.AsyncMessageSource

	BeforeConsume func(msg substrate.Message)
	BeforeAck     func(ack substrate.Message)

	OnConsumeError func(err error)
}

func (s *CallbackSource) ConsumeMessages(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message) error {
	g, ctx := gogroup.New(ctx)
	delegateMessages, delegateAcks := messages, acks

	if s.BeforeConsume != nil {
		fromDelegate := make(chan substrate.Message)
		delegateMessages = fromDelegate

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-fromDelegate:
					s.BeforeConsume(msg)
					select {
					case messages <- msg:
					case <-ctx.Done():
						return nil
					}
				}
			}
		})
	}

	if s.BeforeAck != nil {
		toDelegate := make(chan substrate.Message)
		delegateAcks = toDelegate

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ack := <-acks:
					s.BeforeAck(ack)
					select {
					case toDelegate <- ack:
					case <-ctx.Done():
						return nil
					}
				}
			}
		})
	}

	g.Go(func() error {
		return s.Delegate.ConsumeMessages(ctx, delegateMessages, delegateAcks)
	})

	err := g.Wait()
	if err != nil && s.OnConsumeError != nil {
		s.OnConsumeError(err)
	}
	return err
}

func (s *CallbackSource) Close() error {
	return s.Delegate.Close()
}

func (s *CallbackSource) Status() (*substrate.Status, error) {
	return s.Delegate.Status()
}
