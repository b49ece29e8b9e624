package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeNotifier struct {
	name string
	err  error
	got  []models.AlertEvent
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, event models.AlertEvent) error {
	f.got = append(f.got, event)
	return f.err
}

func TestMultiDeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeNotifier{name: "call", err: boom}
	b := &fakeNotifier{name: "kafka"}

	err := NewMulti(zerolog.Nop(), a, b).Notify(context.Background(), models.AlertEvent{ID: "1"})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "call")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestMultiNoErrors(t *testing.T) {
	a := &fakeNotifier{name: "call"}
	assert.NoError(t, NewMulti(zerolog.Nop(), a).Notify(context.Background(), models.AlertEvent{}))
	assert.NoError(t, NewMulti(zerolog.Nop()).Notify(context.Background(), models.AlertEvent{}))
}
