package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const retryDelay = 5 * time.Second

// Message is a command read from the topic. Its offset is committed only
// after Ack, so a command that failed processing is not marked as consumed.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte

	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

// Ack marks the message as processed.
func (m Message) Ack() {
	if m.session != nil && m.message != nil {
		m.session.MarkMessage(m.message, "")
	}
}

// Consumer reads session commands through a sarama consumer group.
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	messages chan Message
	closed   chan struct{}
	logger   zerolog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger zerolog.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		topic:    topic,
		messages: make(chan Message),
		closed:   make(chan struct{}),
		logger:   logger.With().Str("component", "kafka-consumer").Str("topic", topic).Str("group", groupID).Logger(),
	}, nil
}

// StartListening consumes in the background until ctx is done or the
// consumer is closed. Messages() is closed when it stops.
func (c *Consumer) StartListening(ctx context.Context) {
	go c.logErrors()
	go c.run(ctx, newHandler(c.messages, c.closed, c.logger))
}

func (c *Consumer) run(ctx context.Context, handler sarama.ConsumerGroupHandler) {
	defer close(c.messages)

	// Consume возвращается при каждой ребалансировке, поэтому вызываем его в цикле
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, []string{c.topic}, handler)
		if err == nil {
			continue
		}

		c.logger.Error().Err(err).Dur("retry_in", retryDelay).Msg("consume error")
		select {
		case <-ctx.Done():
		case <-c.closed:
			return
		case <-time.After(retryDelay):
		}
	}

	c.logger.Info().Msg("context cancelled, stopping")
}

func (c *Consumer) logErrors() {
	for err := range c.group.Errors() {
		c.logger.Error().Err(err).Msg("consumer group error")
	}
}

// Close stops consumption and leaves the group.
func (c *Consumer) Close() error {
	close(c.closed)
	return c.group.Close()
}

func (c *Consumer) Messages() <-chan Message {
	return c.messages
}

// handler hands every claimed message to the out channel and leaves marking
// to Message.Ack.
type handler struct {
	out    chan<- Message
	closed <-chan struct{}
	logger zerolog.Logger
}

func newHandler(out chan<- Message, closed <-chan struct{}, logger zerolog.Logger) *handler {
	return &handler{out: out, closed: closed, logger: logger}
}

func (h *handler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info().
		Str("member_id", sess.MemberID()).
		Int32("generation", sess.GenerationID()).
		Msg("joined consumer group")
	return nil
}

func (h *handler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Debug().Int32("generation", sess.GenerationID()).Msg("consumer group session ended")
	return nil
}

func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.forward(sess, msg) {
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.closed:
			return nil
		}
	}
}

// forward reports false when the session or the consumer ended first.
func (h *handler) forward(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	select {
	case h.out <- Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		session:   sess,
		message:   msg,
	}:
		return true
	case <-sess.Context().Done():
		return false
	case <-h.closed:
		return false
	}
}
