package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPublishesAlert(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got models.AlertEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.ID != "alert-1" || got.Count != 3 || got.Trigger != models.TriggerIntrusion {
			return errors.New("unexpected alert payload")
		}
		return nil
	})

	p := NewProducerFrom(mock, "heartbeats", "alerts")
	err := p.Notify(context.Background(), models.AlertEvent{
		ID:        "alert-1",
		SessionID: "call-1",
		Trigger:   models.TriggerIntrusion,
		Count:     3,
		Timestamp: time.Now(),
	})

	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestSendHeartbeatError(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(mock, "heartbeats", "alerts")
	err := p.SendHeartbeat(models.Heartbeat{SessionID: "call-1", Action: models.CommandStart})

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Contains(t, err.Error(), "heartbeats")
	require.NoError(t, p.Close())
}
