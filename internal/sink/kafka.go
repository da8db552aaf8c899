package sink

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/jensneuse/abstractlogger"
)

// Kafka produces one message per payload to a topic.
type Kafka struct {
	logger   abstractlogger.Logger
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaConfig(options Options) *sarama.Config {
	config := sarama.NewConfig()
	if options.ClientID != "" {
		config.ClientID = options.ClientID
	}
	config.Net.DialTimeout = options.timeout()
	config.Producer.Timeout = options.timeout()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	return config
}

func NewKafka(options Options, logger abstractlogger.Logger) (*Kafka, error) {
	producer, err := sarama.NewSyncProducer(options.URLs, NewKafkaConfig(options))
	if err != nil {
		return nil, err
	}
	return newKafkaWithProducer(producer, options.Topic, logger), nil
}

func newKafkaWithProducer(producer sarama.SyncProducer, topic string, logger abstractlogger.Logger) *Kafka {
	return &Kafka{
		logger:   logger,
		producer: producer,
		topic:    topic,
	}
}

func (k *Kafka) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return err
	}

	k.logger.Debug("sink.Kafka.Publish",
		abstractlogger.String("topic", k.topic),
		abstractlogger.Any("partition", partition),
		abstractlogger.Any("offset", offset),
	)
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
