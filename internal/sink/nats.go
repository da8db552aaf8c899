package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jensneuse/abstractlogger"
	"github.com/nats-io/nats.go"
)

// NATS publishes payloads to a subject over NATS core.
type NATS struct {
	logger  abstractlogger.Logger
	conn    *nats.Conn
	subject string
}

func NewNATS(options Options, logger abstractlogger.Logger) (*NATS, error) {
	natsOptions := []nats.Option{
		nats.Timeout(options.timeout()),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			logger.Warn("sink.NATS: on disconnect",
				abstractlogger.Error(err),
			)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("sink.NATS: on reconnect",
				abstractlogger.String("url", conn.ConnectedUrl()),
			)
		}),
	}
	if options.ClientID != "" {
		natsOptions = append(natsOptions, nats.Name(options.ClientID))
	}

	conn, err := nats.Connect(strings.Join(options.URLs, ","), natsOptions...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}

	logger.Debug("sink.NATS: on connect",
		abstractlogger.String("url", conn.ConnectedUrl()),
		abstractlogger.String("subject", options.Topic),
	)

	return &NATS{
		logger:  logger,
		conn:    conn,
		subject: options.Topic,
	}, nil
}

func (n *NATS) Publish(ctx context.Context, payload []byte) error {
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending messages before closing the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
