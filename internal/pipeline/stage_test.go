package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/alerting"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/services/detection"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDetector struct {
	mu    sync.Mutex
	calls int
	fn    func(frame models.Frame) ([]models.Detection, error)
}

func (d *scriptedDetector) Detect(_ context.Context, frame models.Frame) ([]models.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.fn(frame)
}

type recordingNotifier struct {
	mu     sync.Mutex
	err    error
	events []models.AlertEvent
}

func (n *recordingNotifier) Name() string { return "test" }

func (n *recordingNotifier) Notify(_ context.Context, event models.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type memoryAlerts struct {
	mu      sync.Mutex
	records []models.AlertRecord
}

func (m *memoryAlerts) SaveAlert(_ context.Context, r models.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time           { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	stage    *SecurityStage
	deliver  *Deliverer
	notifier *recordingNotifier
	detector *scriptedDetector
	metrics  *metrics.Metrics
	clock    *fakeClock
	alerts   *memoryAlerts
}

func newHarness(t *testing.T, opts alerting.Options, detect func(models.Frame) ([]models.Detection, error)) *harness {
	t.Helper()
	h := &harness{
		notifier: &recordingNotifier{},
		detector: &scriptedDetector{fn: detect},
		metrics:  metrics.New(),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		alerts:   &memoryAlerts{},
	}
	h.deliver = NewDeliverer(h.notifier, h.metrics, zerolog.Nop()).WithAlertStore(h.alerts)
	policy := alerting.NewPolicy("call-1", opts)
	h.stage = NewSecurityStage(nil, h.detector, policy, h.deliver, h.metrics, zerolog.Nop())
	h.stage.Clock = h.clock.Now
	return h
}

func people(n int) func(models.Frame) ([]models.Detection, error) {
	return func(models.Frame) ([]models.Detection, error) {
		out := make([]models.Detection, n)
		for i := range out {
			out[i] = models.Detection{Class: "person", Score: 0.9, Box: []float64{0, 0, 1, 1}}
		}
		return out, nil
	}
}

func (h *harness) feed(t *testing.T, seq uint64) models.Frame {
	t.Helper()
	out, err := h.stage.Handle(context.Background(), models.Frame{SessionID: "call-1", Seq: seq, Data: []byte("jpeg")})
	require.NoError(t, err)
	return out
}

func TestStageEmitsAndSuppresses(t *testing.T) {
	h := newHarness(t, alerting.Options{Cooldown: 5 * time.Second}, people(2))

	out := h.feed(t, 1)
	assert.Len(t, out.Detections, 2)

	h.clock.Advance(3 * time.Second)
	h.feed(t, 2)
	h.clock.Advance(3 * time.Second)
	h.feed(t, 3)
	h.deliver.Wait()

	require.Equal(t, 2, h.notifier.count())
	assert.Equal(t, 2, h.notifier.events[0].Count)
	assert.Equal(t, []byte("jpeg"), h.notifier.events[0].Snapshot)
	assert.Equal(t, uint64(2), h.metrics.AlertsEmitted.Load())
	assert.Equal(t, uint64(1), h.metrics.AlertsSuppressed.Load())
}

func TestFailedDeliveryStillConsumesCooldown(t *testing.T) {
	h := newHarness(t, alerting.Options{Cooldown: 5 * time.Second}, people(1))
	h.notifier.err = errors.New("call channel down")

	h.feed(t, 1)
	h.deliver.Wait()

	h.clock.Advance(2 * time.Second)
	h.feed(t, 2)
	h.deliver.Wait()

	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, uint64(1), h.metrics.DeliveryFailures.Load())
	assert.Equal(t, uint64(1), h.metrics.AlertsSuppressed.Load())
	require.Len(t, h.alerts.records, 1)
	assert.False(t, h.alerts.records[0].Delivered)
}

func TestDetectionErrorSkipsFrame(t *testing.T) {
	calls := 0
	h := newHarness(t, alerting.Options{Cooldown: time.Second}, func(models.Frame) ([]models.Detection, error) {
		calls++
		if calls == 1 {
			return nil, &detection.Error{Op: "predict", StatusCode: 500, Err: errors.New("cuda oom")}
		}
		return people(1)(models.Frame{})
	})

	out := h.feed(t, 1)
	assert.Empty(t, out.Detections)
	h.feed(t, 2)
	h.deliver.Wait()

	assert.Equal(t, uint64(1), h.metrics.DetectionErrors.Load())
	assert.Equal(t, 1, h.notifier.count())
}

func TestSamplingBoundsInference(t *testing.T) {
	h := newHarness(t, alerting.Options{Cooldown: 0, SampleEvery: 5}, people(1))

	for seq := uint64(1); seq <= 10; seq++ {
		h.clock.Advance(time.Second)
		h.feed(t, seq)
	}
	h.deliver.Wait()

	assert.Equal(t, 2, h.detector.calls)
	assert.Equal(t, uint64(10), h.metrics.FramesReceived.Load())
	assert.Equal(t, uint64(2), h.metrics.FramesSampled.Load())
	assert.Equal(t, 2, h.notifier.count())
}

func TestWrappedStageRunsFirst(t *testing.T) {
	h := newHarness(t, alerting.Options{Cooldown: time.Second}, func(f models.Frame) ([]models.Detection, error) {
		assert.Equal(t, []byte("annotated"), f.Data)
		return nil, nil
	})
	h.stage.next = StageFunc(func(_ context.Context, f models.Frame) (models.Frame, error) {
		f.Data = []byte("annotated")
		return f, nil
	})

	out := h.feed(t, 1)
	assert.Equal(t, []byte("annotated"), out.Data)
	assert.Equal(t, 1, h.detector.calls)
}

func TestWrappedStageErrorIsReturned(t *testing.T) {
	h := newHarness(t, alerting.Options{Cooldown: time.Second}, people(1))
	boom := errors.New("decoder failed")
	h.stage.next = StageFunc(func(_ context.Context, f models.Frame) (models.Frame, error) {
		return f, boom
	})

	_, err := h.stage.Handle(context.Background(), models.Frame{})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, h.detector.calls)
}
