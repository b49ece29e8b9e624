// Package alerting decides when a stream of per-frame detections turns into
// an intrusion alert.
//
// A Policy samples every Nth frame, checks the sampled frame against an
// intrusion predicate and lets at most one alert through per cooldown window.
// It does no I/O; delivering the resulting AlertEvent is the caller's job.
package alerting

import (
	"sync"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/google/uuid"
)

const defaultMessage = "Person detected"

// State is the mutable part of a Policy. One State exists per monitored
// session and is never persisted.
type State struct {
	LastAlert    time.Time
	FrameCounter uint64
}

// Options configure a Policy.
type Options struct {
	Cooldown    time.Duration
	SampleEvery uint64
	Qualifier   Qualifier
	Message     string
}

// Policy is the cooldown-gated alerting policy for a single session.
// It is safe for concurrent use; state transitions are serialized.
type Policy struct {
	sessionID   string
	cooldown    time.Duration
	sampleEvery uint64
	qualifier   Qualifier
	message     string

	mu    sync.Mutex
	state State
}

// NewPolicy creates a policy for the given session. A zero SampleEvery
// evaluates every frame, a nil Qualifier uses the person-class check.
func NewPolicy(sessionID string, opts Options) *Policy {
	if opts.SampleEvery == 0 {
		opts.SampleEvery = 1
	}
	if opts.Qualifier == nil {
		opts.Qualifier = PersonQualifier(0, DefaultPersonClasses...)
	}
	if opts.Message == "" {
		opts.Message = defaultMessage
	}

	return &Policy{
		sessionID:   sessionID,
		cooldown:    opts.Cooldown,
		sampleEvery: opts.SampleEvery,
		qualifier:   opts.Qualifier,
		message:     opts.Message,
	}
}

// Sample advances the frame counter and reports whether the current frame
// should be evaluated. The first frame is always sampled.
func (p *Policy) Sample() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sampleLocked()
}

func (p *Policy) sampleLocked() bool {
	p.state.FrameCounter++
	return (p.state.FrameCounter-1)%p.sampleEvery == 0
}

// Decision is the outcome of evaluating one sampled frame.
type Decision struct {
	// Qualified is set when the frame matched the intrusion predicate.
	Qualified bool
	// Event is non-nil only when the frame qualified and the cooldown had elapsed.
	Event *models.AlertEvent
}

// Suppressed reports whether a qualifying frame was held back by the cooldown.
func (d Decision) Suppressed() bool {
	return d.Qualified && d.Event == nil
}

// Decide applies the intrusion predicate and the cooldown gate to an
// already sampled frame.
func (p *Policy) Decide(detections []models.Detection, now time.Time) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.decideLocked(detections, now)
}

// OnFrame runs sampling, qualification and the cooldown gate for one frame.
func (p *Policy) OnFrame(detections []models.Detection, now time.Time) *models.AlertEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sampleLocked() {
		return nil
	}
	return p.decideLocked(detections, now).Event
}

func (p *Policy) decideLocked(detections []models.Detection, now time.Time) Decision {
	qualifying := p.qualifier.Qualifying(detections)
	if len(qualifying) == 0 {
		return Decision{}
	}

	// Zero LastAlert means no alert yet: the first qualifying frame always passes.
	if !p.state.LastAlert.IsZero() && now.Sub(p.state.LastAlert) <= p.cooldown {
		return Decision{Qualified: true}
	}

	p.state.LastAlert = now

	return Decision{Qualified: true, Event: &models.AlertEvent{
		ID:         uuid.NewString(),
		SessionID:  p.sessionID,
		Trigger:    models.TriggerIntrusion,
		Message:    p.message,
		Count:      len(qualifying),
		Timestamp:  now,
		FrameSeq:   p.state.FrameCounter,
		Detections: qualifying,
	}}
}

// State returns a snapshot of the policy state.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cooldown returns the minimum interval between two alerts.
func (p *Policy) Cooldown() time.Duration {
	return p.cooldown
}
