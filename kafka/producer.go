package kafka

import (
	"encoding/json"
	"fmt"

	iface "CoDetServer/interface"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Producer publishes events to a Kafka topic, keyed by kind so a consumer sees each kind in order.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	return config
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewProducerFrom(producer, topic, logger), nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{producer: producer, topic: topic, logger: logger}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) Publish(e iface.Event) {
	if err := p.Send(e); err != nil {
		p.logger.Error("kafka send failed", zap.String("topic", p.topic), zap.String("event", e.ID), zap.Error(err))
	}
}

// Send writes one event and waits for the broker acknowledgement.
func (p *Producer) Send(e iface.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.Kind),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-id"), Value: []byte(e.ID)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	p.logger.Debug("event sent", zap.String("event", e.ID), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}
