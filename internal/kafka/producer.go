package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/IBM/sarama"
)

type Producer struct {
	producer       sarama.SyncProducer
	heartbeatTopic string
	alertTopic     string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, heartbeatTopic, alertTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewProducerFrom(producer, heartbeatTopic, alertTopic), nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(producer sarama.SyncProducer, heartbeatTopic, alertTopic string) *Producer {
	return &Producer{
		producer:       producer,
		heartbeatTopic: heartbeatTopic,
		alertTopic:     alertTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat отправляет одно сообщение в Kafka
func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	return p.send(p.heartbeatTopic, msg.SessionID, msg)
}

// SendAlert publishes an alert event keyed by session.
func (p *Producer) SendAlert(event models.AlertEvent) error {
	return p.send(p.alertTopic, event.SessionID, event)
}

// Name implements notifier.Notifier.
func (p *Producer) Name() string {
	return "kafka"
}

// Notify implements notifier.Notifier.
func (p *Producer) Notify(_ context.Context, event models.AlertEvent) error {
	return p.SendAlert(event)
}

func (p *Producer) send(topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = p.producer.SendMessage(kafkaMsg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	return nil
}
