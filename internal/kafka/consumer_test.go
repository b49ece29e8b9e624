package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	sarama.ConsumerGroupSession

	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *stubSession) Context() context.Context { return s.ctx }

func (s *stubSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *stubSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type stubClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newStubClaim(msgs ...*sarama.ConsumerMessage) *stubClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &stubClaim{messages: ch}
}

func receive(t *testing.T, out <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message forwarded")
		return Message{}
	}
}

func TestConsumeClaimMarksOnlyAfterAck(t *testing.T) {
	sess := &stubSession{ctx: context.Background()}
	claim := newStubClaim(
		&sarama.ConsumerMessage{Topic: "commands", Partition: 2, Offset: 41, Key: []byte("lobby"), Value: []byte(`{"action":"start"}`)},
		&sarama.ConsumerMessage{Topic: "commands", Partition: 2, Offset: 42, Value: []byte(`{"action":"stop"}`)},
	)
	close(claim.messages)

	out := make(chan Message)
	h := newHandler(out, make(chan struct{}), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()

	first := receive(t, out)
	assert.Equal(t, "commands", first.Topic)
	assert.Equal(t, int32(2), first.Partition)
	assert.Equal(t, int64(41), first.Offset)
	assert.Equal(t, []byte("lobby"), first.Key)
	assert.Equal(t, `{"action":"start"}`, string(first.Value))
	assert.Empty(t, sess.markedOffsets())

	first.Ack()
	assert.Equal(t, []int64{41}, sess.markedOffsets())

	second := receive(t, out)
	assert.Equal(t, int64(42), second.Offset)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after the claim was drained")
	}

	// второе сообщение не подтверждено
	assert.Equal(t, []int64{41}, sess.markedOffsets())
}

func TestConsumeClaimReturnsWhenClosed(t *testing.T) {
	sess := &stubSession{ctx: context.Background()}
	claim := newStubClaim(&sarama.ConsumerMessage{Offset: 7, Value: []byte("x")})

	closed := make(chan struct{})
	h := newHandler(make(chan Message), closed, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()

	close(closed)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after close")
	}
	assert.Empty(t, sess.markedOffsets())
}

func TestConsumeClaimReturnsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &stubSession{ctx: ctx}
	claim := newStubClaim()

	h := newHandler(make(chan Message), make(chan struct{}), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after the session ended")
	}
}

func TestAckWithoutSessionIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Message{Value: []byte("local")}.Ack()
	})
}
