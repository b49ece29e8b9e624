package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/alerting"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/kafka"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/notifier"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	heartbeatInterval       = 5 * time.Second
	checkStopEventsInterval = 10 * time.Second
)

var ErrUnknownSession = errors.New("session is not monitored")

// SessionStore persists monitored sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetInactiveSessions(ctx context.Context) ([]models.Session, error)
	ChangeSessionAction(ctx context.Context, sessionID string, action models.CommandAction) error
	UpdateSessionTimestamp(ctx context.Context, sessionID string) error
}

type HeartbeatSender interface {
	SendHeartbeat(msg models.Heartbeat) error
}

// CallJoiner joins a call and returns the notifier for its signaling channel.
type CallJoiner interface {
	JoinCall(ctx context.Context, callType, callID string) (notifier.Notifier, error)
}

type FrameSource interface {
	Frames(ctx context.Context) <-chan models.Frame
}

// FrameSourceFactory returns the frame source for a session. A nil source
// means frames are pushed through HandleFrame only.
type FrameSourceFactory func(sessionID, videoSource string) (FrameSource, error)

// Deps are the collaborators of a Runner. Store, Heartbeats, Frames, Alerts
// and Snapshots are optional.
type Deps struct {
	Store      SessionStore
	Heartbeats HeartbeatSender
	Joiner     CallJoiner
	Detector   pipeline.Detector
	Frames     FrameSourceFactory
	Sinks      []notifier.Notifier
	Alerts     pipeline.AlertStore
	Snapshots  pipeline.SnapshotStore
	Metrics    *metrics.Metrics
}

// Settings configure every session the runner starts.
type Settings struct {
	CallType string
	Policy   func(sessionID string) *alerting.Policy
}

// monitor is one session. It is put into activeRunners before the call is
// joined so a concurrent Start sees it, and becomes visible to HandleFrame
// and Active once started is set.
type monitor struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// под Runner.mu
	started bool

	stage     *pipeline.SecurityStage
	policy    *alerting.Policy
	deliverer *pipeline.Deliverer

	mu sync.Mutex
}

// handle serializes frames of one session.
func (m *monitor) handle(ctx context.Context, frame models.Frame) (models.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage.Handle(ctx, frame)
}

type Runner struct {
	deps     Deps
	settings Settings
	logger   zerolog.Logger

	activeRunners map[string]*monitor
	mu            sync.Mutex
	wg            sync.WaitGroup
}

func New(deps Deps, settings Settings, logger zerolog.Logger) *Runner {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if settings.Policy == nil {
		settings.Policy = func(sessionID string) *alerting.Policy {
			return alerting.NewPolicy(sessionID, alerting.Options{})
		}
	}

	return &Runner{
		deps:          deps,
		settings:      settings,
		logger:        logger.With().Str("component", "runner").Logger(),
		activeRunners: make(map[string]*monitor),
	}
}

// ListenAndRun handles session commands until ctx is done or the channel closes.
func (r *Runner) ListenAndRun(ctx context.Context, messages <-chan kafka.Message) {
	r.logger.Info().Msg("listening for session commands")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutting down")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var cmd models.SessionCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				r.logger.Error().Err(err).Msg("invalid message format")
				// Не подтверждаем сообщение при ошибке парсинга
				continue
			}
			r.logger.Info().
				Str("session_id", cmd.SessionID).
				Str("action", string(cmd.Action)).
				Msg("received session command")

			if err := r.Dispatch(ctx, cmd); err != nil {
				r.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("error processing command")
				// Не подтверждаем сообщение при ошибке обработки
				continue
			}

			// Подтверждаем сообщение только после успешной обработки
			msg.Ack()
		}
	}
}

// Dispatch executes a single command.
func (r *Runner) Dispatch(ctx context.Context, cmd models.SessionCommand) error {
	switch cmd.Action {
	case models.CommandStart:
		return r.Start(ctx, cmd)
	case models.CommandStop:
		return r.RegisterStopEvent(ctx, cmd.SessionID)
	default:
		r.logger.Warn().Str("action", string(cmd.Action)).Msg("unknown command")
		return nil
	}
}

// Start joins the call and starts monitoring it. Starting a session that is
// already monitored is a no-op. A session that is still shutting down is
// waited for before it is started again.
func (r *Runner) Start(ctx context.Context, cmd models.SessionCommand) error {
	if cmd.SessionID == "" {
		return errors.New("empty session id")
	}
	if cmd.CallType == "" {
		cmd.CallType = r.settings.CallType
	}

	m, err := r.reserve(ctx, cmd.SessionID)
	if err != nil || m == nil {
		return err
	}

	source, err := r.prepare(ctx, m, cmd)
	if errors.Is(err, errOwnedElsewhere) {
		r.release(m)
		r.logger.Info().Str("session_id", m.id).Msg("session monitored by another runner")
		return nil
	}
	if err != nil {
		r.release(m)
		return err
	}

	r.mu.Lock()
	if m.ctx.Err() != nil {
		// Stop пришёл, пока подключались к звонку
		r.mu.Unlock()
		r.markStopped(ctx, m.id)
		r.release(m)
		r.logger.Info().Str("session_id", m.id).Msg("session stopped before it started")
		return nil
	}
	m.started = true
	r.mu.Unlock()
	r.deps.Metrics.ActiveSessions.Add(1)

	r.sendHeartbeat(m.id, models.CommandStart, 0)
	r.logger.Info().Str("session_id", m.id).Str("call_type", cmd.CallType).Msg("session started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.finish(m)

		r.monitorSession(m.ctx, m, source)
	}()

	return nil
}

// reserve puts a placeholder for the session into activeRunners. It returns
// nil when the session is already monitored here.
func (r *Runner) reserve(ctx context.Context, sessionID string) (*monitor, error) {
	for {
		r.mu.Lock()
		existing, ok := r.activeRunners[sessionID]
		if !ok {
			sessionCtx, cancel := context.WithCancel(ctx)
			m := &monitor{id: sessionID, ctx: sessionCtx, cancel: cancel, done: make(chan struct{})}
			r.activeRunners[sessionID] = m
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()

		if existing.ctx.Err() == nil {
			r.logger.Info().Str("session_id", sessionID).Msg("session already monitored")
			return nil, nil
		}

		// Предыдущая сессия ещё доставляет алерты и потом пишет stop в хранилище,
		// поэтому новая стартует только после неё
		r.logger.Info().Str("session_id", sessionID).Msg("waiting for previous session to finish")
		select {
		case <-existing.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var errOwnedElsewhere = errors.New("session monitored by another runner")

// prepare joins the call and builds the pipeline. The session row is written
// last, so a failed join leaves nothing that blocks a retry.
func (r *Runner) prepare(ctx context.Context, m *monitor, cmd models.SessionCommand) (FrameSource, error) {
	if r.deps.Store != nil {
		existing, err := r.deps.Store.GetSession(ctx, cmd.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if existing != nil && existing.Action == models.CommandStart && time.Since(existing.UpdatedAt) < heartbeatInterval*3 {
			return nil, errOwnedElsewhere
		}
	}

	call, err := r.deps.Joiner.JoinCall(ctx, cmd.CallType, cmd.SessionID)
	if err != nil {
		return nil, fmt.Errorf("join call: %w", err)
	}

	var source FrameSource
	if r.deps.Frames != nil {
		if source, err = r.deps.Frames(cmd.SessionID, cmd.VideoSource); err != nil {
			return nil, fmt.Errorf("frame source: %w", err)
		}
	}

	r.assemble(m, call)

	if r.deps.Store != nil {
		if err := r.deps.Store.CreateSession(ctx, &models.Session{
			ID:          cmd.SessionID,
			CallType:    cmd.CallType,
			Action:      models.CommandStart,
			VideoSource: cmd.VideoSource,
		}); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	return source, nil
}

func (r *Runner) assemble(m *monitor, call notifier.Notifier) {
	policy := r.settings.Policy(m.id)
	sinks := append([]notifier.Notifier{call}, r.deps.Sinks...)
	log := r.logger.With().Str("session_id", m.id).Logger()

	deliverer := pipeline.NewDeliverer(notifier.NewMulti(log, sinks...), r.deps.Metrics, log)
	if r.deps.Alerts != nil {
		deliverer.WithAlertStore(r.deps.Alerts)
	}
	if r.deps.Snapshots != nil {
		deliverer.WithSnapshotStore(r.deps.Snapshots)
	}

	m.policy = policy
	m.deliverer = deliverer
	m.stage = pipeline.NewSecurityStage(pipeline.Passthrough, r.deps.Detector, policy, deliverer, r.deps.Metrics, log)
}

// finish waits for pending alerts, releases the session row and only then
// frees the id for a new Start.
func (r *Runner) finish(m *monitor) {
	m.cancel()
	r.deps.Metrics.ActiveSessions.Add(-1)

	m.deliverer.Wait()
	r.markStopped(m.ctx, m.id)
	r.sendHeartbeat(m.id, models.CommandStop, int64(m.policy.State().FrameCounter))

	r.release(m)
	r.logger.Info().Str("session_id", m.id).Msg("session finished")
}

// release drops the reservation and wakes a Start waiting for it.
func (r *Runner) release(m *monitor) {
	m.cancel()

	r.mu.Lock()
	if r.activeRunners[m.id] == m {
		delete(r.activeRunners, m.id)
	}
	r.mu.Unlock()

	close(m.done)
}

// monitorSession прогоняет кадры через пайплайн и шлёт heartbeat
func (r *Runner) monitorSession(ctx context.Context, m *monitor, source FrameSource) {
	var frames <-chan models.Frame
	if source != nil {
		frames = source.Frames(ctx)
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := m.handle(ctx, frame); err != nil {
				r.logger.Error().Err(err).Str("session_id", m.id).Uint64("seq", frame.Seq).Msg("frame processing error")
			}
		case <-ticker.C:
			if r.deps.Store != nil {
				if err := r.deps.Store.UpdateSessionTimestamp(ctx, m.id); err != nil {
					r.logger.Error().Err(err).Str("session_id", m.id).Msg("error updating session timestamp")
				}
			}
			r.sendHeartbeat(m.id, models.CommandStart, int64(m.policy.State().FrameCounter))
		}
	}
}

// HandleFrame pushes a frame into a monitored session and returns the
// annotated frame.
func (r *Runner) HandleFrame(ctx context.Context, sessionID string, frame models.Frame) (models.Frame, error) {
	r.mu.Lock()
	m, ok := r.activeRunners[sessionID]
	ok = ok && m.started && m.ctx.Err() == nil
	r.mu.Unlock()
	if !ok {
		return frame, ErrUnknownSession
	}

	frame.SessionID = sessionID
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	return m.handle(ctx, frame)
}

func (r *Runner) RegisterStopEvent(ctx context.Context, sessionID string) error {
	if r.deps.Store != nil {
		if err := r.deps.Store.ChangeSessionAction(ctx, sessionID, models.CommandStop); err != nil {
			return fmt.Errorf("stop session %s: %w", sessionID, err)
		}
	}

	r.Stop(sessionID)
	return nil
}

// ProcessStopEvents periodically stops sessions that were marked as stopped
// in the store, possibly by another runner instance.
func (r *Runner) ProcessStopEvents(ctx context.Context) {
	if r.deps.Store == nil {
		return
	}

	ticker := time.NewTicker(checkStopEventsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.stopInactive(ctx)
		}
	}
}

func (r *Runner) stopInactive(ctx context.Context) {
	sessions, err := r.deps.Store.GetInactiveSessions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("error getting inactive sessions")
		return
	}

	sessionIDs := lo.Map(sessions, func(s models.Session, _ int) string {
		return s.ID
	})

	for _, sessionID := range sessionIDs {
		r.Stop(sessionID)
	}
}

// Stop cancels a monitored session. It reports whether the session was running.
func (r *Runner) Stop(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.activeRunners[sessionID]; ok && m.ctx.Err() == nil {
		m.cancel()
		r.logger.Info().Str("session_id", sessionID).Msg("session stopped")
		return true
	}

	return false
}

// Wait blocks until every started session has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Active returns the ids of monitored sessions, sorted. Sessions that are
// starting or shutting down are left out.
func (r *Runner) Active() []string {
	r.mu.Lock()
	ids := lo.Keys(lo.PickBy(r.activeRunners, func(_ string, m *monitor) bool {
		return m.started && m.ctx.Err() == nil
	}))
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// markStopped releases the session row once monitoring has ended.
func (r *Runner) markStopped(ctx context.Context, sessionID string) {
	if r.deps.Store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.deps.Store.ChangeSessionAction(ctx, sessionID, models.CommandStop); err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("error marking session stopped")
	}
}

func (r *Runner) sendHeartbeat(sessionID string, action models.CommandAction, frame int64) {
	if r.deps.Heartbeats == nil {
		return
	}

	if err := r.deps.Heartbeats.SendHeartbeat(models.Heartbeat{
		SessionID: sessionID,
		Action:    action,
		Frame:     frame,
		TimeStamp: time.Now().UTC(),
	}); err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("error sending heartbeat")
	}
}
