package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/rs/zerolog"
)

// Notifier delivers an alert event to some audience.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event models.AlertEvent) error
}

// Multi sends every event to all of its notifiers. A failing notifier does
// not stop delivery to the others.
type Multi struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{
		notifiers: notifiers,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

func (m *Multi) Name() string {
	return "multi"
}

// Notify returns the joined errors of the notifiers that failed.
func (m *Multi) Notify(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			m.logger.Error().
				Err(err).
				Str("channel", n.Name()).
				Str("alert_id", event.ID).
				Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}

		m.logger.Info().
			Str("channel", n.Name()).
			Str("alert_id", event.ID).
			Str("session_id", event.SessionID).
			Msg("alert delivered")
	}

	return errors.Join(errs...)
}
