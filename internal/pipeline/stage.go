// Package pipeline processes frames of a monitored call.
//
// Stages are composed rather than subclassed: SecurityStage wraps another
// Stage, calls it first and then runs the intrusion check on what it returned.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/alerting"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/services/detection"
	"github.com/rs/zerolog"
)

// Stage handles one frame and returns the (possibly annotated) frame.
type Stage interface {
	Handle(ctx context.Context, frame models.Frame) (models.Frame, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, frame models.Frame) (models.Frame, error)

func (f StageFunc) Handle(ctx context.Context, frame models.Frame) (models.Frame, error) {
	return f(ctx, frame)
}

// Passthrough returns every frame unchanged.
var Passthrough = StageFunc(func(_ context.Context, frame models.Frame) (models.Frame, error) {
	return frame, nil
})

// Detector runs inference on a frame.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error)
}

// SecurityStage runs the intrusion check on sampled frames and hands emitted
// alerts to a Deliverer without waiting for the result.
type SecurityStage struct {
	next      Stage
	detector  Detector
	policy    *alerting.Policy
	deliverer *Deliverer
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// Clock is used to timestamp decisions; time.Now by default.
	Clock func() time.Time
}

func NewSecurityStage(
	next Stage,
	detector Detector,
	policy *alerting.Policy,
	deliverer *Deliverer,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *SecurityStage {
	if next == nil {
		next = Passthrough
	}

	return &SecurityStage{
		next:      next,
		detector:  detector,
		policy:    policy,
		deliverer: deliverer,
		metrics:   m,
		logger:    logger.With().Str("component", "security-stage").Logger(),
		Clock:     time.Now,
	}
}

// Handle never fails because of inference or delivery; only an error from
// the wrapped stage is returned.
func (s *SecurityStage) Handle(ctx context.Context, frame models.Frame) (models.Frame, error) {
	annotated, err := s.next.Handle(ctx, frame)
	if err != nil {
		return frame, err
	}

	s.metrics.FramesReceived.Add(1)

	if !s.policy.Sample() {
		return annotated, nil
	}
	s.metrics.FramesSampled.Add(1)

	detections, err := s.detector.Detect(ctx, annotated)
	if err != nil {
		s.metrics.DetectionErrors.Add(1)

		evt := s.logger.Warn().Err(err).Str("session_id", frame.SessionID).Uint64("seq", frame.Seq)
		var detErr *detection.Error
		if errors.As(err, &detErr) {
			evt = evt.Str("op", detErr.Op).Int("status", detErr.StatusCode)
		}
		evt.Msg("inference failed, skipping frame")

		return annotated, nil
	}
	annotated.Detections = append(annotated.Detections, detections...)

	decision := s.policy.Decide(detections, s.Clock())
	if decision.Suppressed() {
		s.metrics.AlertsSuppressed.Add(1)
		s.logger.Debug().
			Str("session_id", frame.SessionID).
			Uint64("seq", frame.Seq).
			Dur("cooldown", s.policy.Cooldown()).
			Msg("intrusion within cooldown, suppressed")
		return annotated, nil
	}
	if decision.Event == nil {
		return annotated, nil
	}

	event := *decision.Event
	event.Snapshot = frame.Data
	s.metrics.AlertsEmitted.Add(1)

	s.logger.Warn().
		Str("session_id", event.SessionID).
		Str("alert_id", event.ID).
		Int("count", event.Count).
		Uint64("seq", frame.Seq).
		Msg("intrusion detected")

	s.deliverer.Deliver(ctx, event)

	return annotated, nil
}
