package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAck is returned when an acknowledgement doesn't match the oldest unacknowledged record.
	ErrInvalidAck = errors.New("invalid acknowledgement")
	// ErrNoTopics is returned when a source is requested without any topic to subscribe to.
	ErrNoTopics = errors.New("at least one topic is required")
	// ErrNoBrokers is returned when a source is requested without any broker address.
	ErrNoBrokers = errors.New("at least one broker is required")
	// ErrPropertiesUnsupported is returned by clients that can't apply extra client properties.
	ErrPropertiesUnsupported = errors.New("client properties are only supported by the librdkafka client")
)

const (
	// OffsetResetLatest starts a group without committed offsets at the end of the topic.
	OffsetResetLatest = "latest"
	// OffsetResetEarliest starts a group without committed offsets at the beginning of the topic.
	OffsetResetEarliest = "earliest"

	// DefaultSessionTimeout is the consumer group session timeout used by every client.
	DefaultSessionTimeout = 6000 * time.Millisecond
	// PollInterval bounds a single wait for the next event so cancellation is noticed.
	PollInterval = 100 * time.Millisecond
)

// Position identifies a record within the cluster.
type Position struct {
	Topic     string
	Partition int32
	Offset    int64
}

func (p Position) String() string {
	return fmt.Sprintf("%s[%d]@%d", p.Topic, p.Partition, p.Offset)
}

// Record is a message delivered by a client. A nil Value means the message carried no payload.
type Record struct {
	Key   []byte
	Value []byte
	Pos   Position
}

// Data implements substrate.Message.
func (r *Record) Data() []byte {
	return r.Value
}

// Position returns where the record was read from.
func (r *Record) Position() Position {
	return r.Pos
}

// Positioned is implemented by every message the clients in this module hand out.
type Positioned interface {
	substrate.Message
	Position() Position
}

// Hooks lets the caller decide what happens on recoverable client failures.
type Hooks struct {
	// OnDeliveryError is called for errors reported by the client while waiting for messages.
	OnDeliveryError func(err error)
	// OnCommitError is called when acknowledging a record fails. A non-nil return stops consumption.
	OnCommitError func(pos Position, err error) error
}

// DeliveryError reports a recoverable client error.
func (h Hooks) DeliveryError(err error) {
	if h.OnDeliveryError != nil {
		h.OnDeliveryError(err)
	}
}

// CommitError reports a failed acknowledgement and returns the error to stop on, if any.
// Without an OnCommitError hook every commit failure is fatal.
func (h Hooks) CommitError(pos Position, err error) error {
	if h.OnCommitError == nil {
		return err
	}
	return h.OnCommitError(pos, err)
}

// Config is the client configuration shared by every backend.
type Config struct {
	Brokers        []string
	GroupID        string
	ClientID       string
	Topics         []string
	SessionTimeout time.Duration
	OffsetReset    string
	AutoCommit     bool
	PartitionEOF   bool
	Debug          bool

	// Properties holds extra client specific settings. Only the librdkafka client understands them.
	Properties map[string]string

	Logger *zap.Logger
	Hooks  Hooks
}

// NewConfig returns the fixed consumer configuration for the given brokers, group and topics.
func NewConfig(brokers []string, groupID string, topics []string) Config {
	return Config{
		Brokers:        brokers,
		GroupID:        groupID,
		Topics:         topics,
		SessionTimeout: DefaultSessionTimeout,
		OffsetReset:    OffsetResetLatest,
		AutoCommit:     true,
		PartitionEOF:   false,
		Debug:          true,
	}
}

// Validate checks the parts of the configuration every client depends on.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	if len(c.Topics) == 0 {
		return ErrNoTopics
	}
	switch c.OffsetReset {
	case OffsetResetLatest, OffsetResetEarliest:
	default:
		return errors.Errorf("unsupported offset reset policy %q", c.OffsetReset)
	}
	return nil
}

// Log returns the configured logger, or a no-op one.
func (c Config) Log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// SourceFactory creates async message sources from a client configuration.
type SourceFactory interface {
	NewAsyncSource(ctx context.Context, conf Config) (substrate.AsyncMessageSource, error)
}
