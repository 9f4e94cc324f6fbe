package backend

import (
	"context"
	"sync"

	"github.com/uw-labs/substrate"
)

// FetchFunc reads records from a client and hands each of them to deliver, in order.
// It returns when ctx is done or on an unrecoverable client error.
type FetchFunc func(ctx context.Context, deliver func(substrate.Message) error) error

// CommitFunc acknowledges a single record to the client.
type CommitFunc func(msg substrate.Message) error

// Consume implements substrate.AsyncMessageSource.ConsumeMessages on top of a fetch and a commit function.
// Records must be acknowledged in the order they were delivered. The deliver function handed to
// fetch may be called from several goroutines. Consume doesn't return before fetch has returned,
// so the caller may close the client as soon as it does.
func Consume(ctx context.Context, messages chan<- substrate.Message, acks <-chan substrate.Message, hooks Hooks, fetch FetchFunc, commit CommitFunc) error {
	ctx, cancel := context.WithCancel(ctx)

	toConfirm := make(chan substrate.Message)
	errs := make(chan error, 1)
	done := make(chan struct{})

	var mu sync.Mutex
	go func() {
		defer close(done)
		errs <- fetch(ctx, func(msg substrate.Message) error {
			mu.Lock()
			defer mu.Unlock()

			select {
			case toConfirm <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case messages <- msg:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	defer func() {
		cancel()
		<-done
	}()

	var pending []substrate.Message
	for {
		select {
		case msg := <-toConfirm:
			pending = append(pending, msg)
		case ack := <-acks:
			if len(pending) == 0 || pending[0] != ack {
				return ErrInvalidAck
			}
			pending = pending[1:]
			if err := commit(ack); err != nil {
				if err := hooks.CommitError(PositionOf(ack), err); err != nil {
					return err
				}
			}
		case err := <-errs:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// PositionOf returns the position of msg, or the zero Position for messages that don't carry one.
func PositionOf(msg substrate.Message) Position {
	if p, ok := msg.(Positioned); ok {
		return p.Position()
	}
	return Position{}
}
