package sink

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jensneuse/abstractlogger"
)

// disconnectQuiesce is how long Close waits for in-flight work, in milliseconds.
const disconnectQuiesce = 250

// MQTT publishes payloads to a topic.
type MQTT struct {
	logger  abstractlogger.Logger
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

func NewMQTT(options Options, logger abstractlogger.Logger) (*MQTT, error) {
	clientOptions := mqtt.NewClientOptions().
		SetClientID(options.ClientID).
		SetConnectTimeout(options.timeout()).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			logger.Warn("sink.MQTT: on connection lost",
				abstractlogger.Error(err),
			)
		})
	for _, url := range options.URLs {
		clientOptions.AddBroker(url)
	}

	client := mqtt.NewClient(clientOptions)
	if err := waitToken(context.Background(), client.Connect(), options.timeout()); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return &MQTT{
		logger:  logger,
		client:  client,
		topic:   options.Topic,
		qos:     options.QoS,
		timeout: options.timeout(),
	}, nil
}

func (m *MQTT) Publish(ctx context.Context, payload []byte) error {
	return waitToken(ctx, m.client.Publish(m.topic, m.qos, false, payload), m.timeout)
}

func (m *MQTT) Close() error {
	m.client.Disconnect(disconnectQuiesce)
	return nil
}

// waitToken waits for token until timeout or the deadline of ctx, whichever comes first.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok {
		if untilDeadline := time.Until(deadline); untilDeadline < timeout {
			timeout = untilDeadline
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
	return token.Error()
}
