// Package consumer prints the payload of every received message and acknowledges it once printed.
package consumer

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"

	"github.com/uw-labs/kconsume/pkg/backend"
	"github.com/uw-labs/kconsume/pkg/metrics"
)

// ErrInvalidUTF8 is returned in strict mode for a payload that isn't valid UTF-8.
var ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

// Option configures a Printer.
type Option func(*Printer)

// WithLogger sets the logger used for warnings about skipped messages and client errors.
func WithLogger(l *zap.Logger) Option {
	return func(p *Printer) {
		p.log = l
	}
}

// WithStrict makes invalid payloads and failed acknowledgements stop the loop.
func WithStrict(strict bool) Option {
	return func(p *Printer) {
		p.strict = strict
	}
}

// WithCounters records what happens to every message.
func WithCounters(c *metrics.Counters) Option {
	return func(p *Printer) {
		p.counters = c
	}
}

// Printer writes one line per message payload.
type Printer struct {
	out      io.Writer
	log      *zap.Logger
	strict   bool
	counters *metrics.Counters
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, opts ...Option) *Printer {
	p := &Printer{out: out, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle prints a single message. Returning nil lets the message be acknowledged.
func (p *Printer) Handle(_ context.Context, msg substrate.Message) error {
	pos := backend.PositionOf(msg)
	data := msg.Data()

	if data == nil {
		p.log.Debug("message without payload", zap.Stringer("position", pos))
		p.counters.MessageSkipped(pos.Topic, metrics.ReasonNoPayload)
		return nil
	}

	if !utf8.Valid(data) {
		if p.strict {
			return errors.Wrapf(ErrInvalidUTF8, "message at %s", pos)
		}
		p.log.Warn("skipping message", zap.Stringer("position", pos), zap.Error(ErrInvalidUTF8))
		p.counters.MessageSkipped(pos.Topic, metrics.ReasonInvalidUTF8)
		return nil
	}

	if _, err := fmt.Fprintf(p.out, "%s\n", data); err != nil {
		return errors.Wrap(err, "failed to write payload")
	}
	p.counters.MessagePrinted(pos.Topic)
	return nil
}

// Hooks returns the client hooks matching the printer's strictness.
func (p *Printer) Hooks() backend.Hooks {
	return backend.Hooks{
		OnDeliveryError: func(err error) {
			p.log.Warn("consume error", zap.Error(err))
			p.counters.Error(metrics.KindDelivery)
		},
		OnCommitError: func(pos backend.Position, err error) error {
			p.counters.Error(metrics.KindCommit)
			if p.strict {
				return errors.Wrapf(err, "failed to acknowledge message at %s", pos)
			}
			p.log.Warn("acknowledgement failed", zap.Stringer("position", pos), zap.Error(err))
			return nil
		},
	}
}

// Run consumes source until ctx is cancelled or an unrecoverable error occurs.
// Cancellation isn't an error.
func (p *Printer) Run(ctx context.Context, source substrate.AsyncMessageSource) error {
	err := substrate.NewSynchronousMessageSource(source).ConsumeMessages(ctx, p.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
