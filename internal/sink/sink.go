// Package sink forwards the data documents of a subscription to a destination.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jensneuse/abstractlogger"
)

type Kind string

const (
	KindStdout Kind = "stdout"
	KindNATS   Kind = "nats"
	KindKafka  Kind = "kafka"
	KindMQTT   Kind = "mqtt"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrUnknownKind   = errors.New("unknown sink")
	ErrMissingOption = errors.New("missing sink option")
)

// Sink receives one payload per data message.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

type Options struct {
	Kind Kind
	// URLs are the NATS servers, Kafka brokers or MQTT brokers.
	URLs []string
	// Topic is the NATS subject, Kafka topic or MQTT topic.
	Topic    string
	ClientID string
	// QoS is only used by MQTT.
	QoS     byte
	Timeout time.Duration
}

func (o Options) Validate() error {
	switch o.Kind {
	case KindStdout, "":
		return nil
	case KindNATS, KindKafka, KindMQTT:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}

	if len(o.URLs) == 0 {
		return fmt.Errorf("%w: %s sink needs at least one url", ErrMissingOption, o.Kind)
	}
	if o.Topic == "" {
		return fmt.Errorf("%w: %s sink needs a topic", ErrMissingOption, o.Kind)
	}
	return nil
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// New creates the sink described by options. out is used by the stdout sink.
func New(options Options, out io.Writer, logger abstractlogger.Logger) (Sink, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = abstractlogger.Noop{}
	}

	switch options.Kind {
	case KindNATS:
		return NewNATS(options, logger)
	case KindKafka:
		return NewKafka(options, logger)
	case KindMQTT:
		return NewMQTT(options, logger)
	default:
		return NewWriter(out), nil
	}
}
