package pipeline

import (
	"context"
	"sync"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/notifier"
	"github.com/rs/zerolog"
)

// AlertStore records emitted alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, record models.AlertRecord) error
}

// SnapshotStore keeps the frame and detections that triggered an alert.
type SnapshotStore interface {
	SaveAlertSnapshot(ctx context.Context, event models.AlertEvent) error
}

// Deliverer hands alert events to a Notifier in the background. Failures are
// logged and counted, never retried.
type Deliverer struct {
	notifier  notifier.Notifier
	alerts    AlertStore
	snapshots SnapshotStore
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	wg sync.WaitGroup
}

func NewDeliverer(n notifier.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		notifier: n,
		metrics:  m,
		logger:   logger.With().Str("component", "deliverer").Logger(),
	}
}

// WithAlertStore enables the alert audit log.
func (d *Deliverer) WithAlertStore(s AlertStore) *Deliverer {
	d.alerts = s
	return d
}

// WithSnapshotStore enables saving the triggering frame.
func (d *Deliverer) WithSnapshotStore(s SnapshotStore) *Deliverer {
	d.snapshots = s
	return d
}

// Deliver returns immediately; the send happens on its own goroutine and
// outlives cancellation of ctx.
func (d *Deliverer) Deliver(ctx context.Context, event models.AlertEvent) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, event)
	}()
}

func (d *Deliverer) deliver(ctx context.Context, event models.AlertEvent) {
	err := d.notifier.Notify(ctx, event)
	if err != nil {
		d.metrics.DeliveryFailures.Add(1)
		d.logger.Error().
			Err(err).
			Str("session_id", event.SessionID).
			Str("alert_id", event.ID).
			Msg("failed to deliver alert")
	}

	if d.snapshots != nil && len(event.Snapshot) > 0 {
		if err := d.snapshots.SaveAlertSnapshot(ctx, event); err != nil {
			d.logger.Error().Err(err).Str("alert_id", event.ID).Msg("failed to save alert snapshot")
		}
	}

	if d.alerts != nil {
		record := models.AlertRecord{
			ID:        event.ID,
			SessionID: event.SessionID,
			Count:     event.Count,
			Message:   event.Message,
			Delivered: err == nil,
			CreatedAt: event.Timestamp,
		}
		if err := d.alerts.SaveAlert(ctx, record); err != nil {
			d.logger.Error().Err(err).Str("alert_id", event.ID).Msg("failed to record alert")
		}
	}
}

// Wait blocks until every delivery started so far has finished.
func (d *Deliverer) Wait() {
	d.wg.Wait()
}
