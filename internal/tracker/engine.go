// Package tracker owns the tracking session. A single coordinator goroutine
// per session consumes the fix stream and presence signals; Start, Stop and
// SelectGroup serialize lifecycle changes.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/background"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/presence"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/syncclient"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/trajectory"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/viewport"
)

var ErrNoGroupSelected = errors.New("tracker: no group selected")

// Presence is the group synchronizer driven by the engine.
type Presence interface {
	Join(ctx context.Context, groupID string)
	Leave()
	Publish(fix geosource.Fix)
	Signals() <-chan presence.Signal
	Members() map[string]presence.Member
}

// Dispatcher persists a sample without blocking the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, sample wire.Sample)
}

type Config struct {
	OwnerID string
	Watch   geosource.WatchOptions
	Logger  *slog.Logger
}

type Deps struct {
	Adapter    *geosource.Adapter
	Scheduler  background.Scheduler
	Task       *background.Task
	Presence   Presence
	Dispatcher Dispatcher
	Trajectory *trajectory.Engine
	Viewport   *viewport.Controller
}

type Engine struct {
	cfg        Config
	adapter    *geosource.Adapter
	scheduler  background.Scheduler
	task       *background.Task
	presence   Presence
	dispatcher Dispatcher
	trajectory *trajectory.Engine
	viewport   *viewport.Controller
	logger     *slog.Logger
	notices    chan Notice

	mu           sync.Mutex
	groupID      string
	session      Session
	sub          *geosource.Subscription
	cancel       context.CancelFunc
	done         chan struct{}
	bgRegistered bool
}

func New(cfg Config, deps Deps) *Engine {
	if deps.Trajectory == nil {
		deps.Trajectory = trajectory.New(trajectory.MaxPoints)
	}
	if deps.Viewport == nil {
		deps.Viewport = viewport.New(viewport.DefaultRegion)
	}
	return &Engine{
		cfg:        cfg,
		adapter:    deps.Adapter,
		scheduler:  deps.Scheduler,
		task:       deps.Task,
		presence:   deps.Presence,
		dispatcher: deps.Dispatcher,
		trajectory: deps.Trajectory,
		viewport:   deps.Viewport,
		logger:     applog.Component(cfg.Logger, "tracker"),
		notices:    make(chan Notice, 16),
		session:    Session{OwnerID: cfg.OwnerID},
	}
}

// Notices delivers informational and warning messages for the user.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) SelectedGroup() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupID
}

func (e *Engine) Trajectory() trajectory.Snapshot {
	return e.trajectory.Snapshot()
}

func (e *Engine) Viewport() *viewport.Controller {
	return e.viewport
}

// Members returns the peers of the selected group.
func (e *Engine) Members() map[string]presence.Member {
	return e.presence.Members()
}

// Start begins tracking against the selected group. Calling Start while a
// session is active is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Active {
		return nil
	}
	if e.groupID == "" {
		return ErrNoGroupSelected
	}
	return e.startLocked(ctx)
}

// Stop ends the session. The position stream, the push channel and the poll
// timer are released even when one of them fails.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

// SelectGroup changes the selected group. An active session is restarted
// against the new group; selecting "" stops it.
func (e *Engine) SelectGroup(ctx context.Context, groupID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if groupID == e.groupID {
		return nil
	}
	e.groupID = groupID
	if !e.session.Active {
		return nil
	}
	err := e.stopLocked()
	if groupID == "" {
		return err
	}
	return errors.Join(err, e.startLocked(ctx))
}

// SetAccuracy switches the accuracy profile, recreating the live watch.
func (e *Engine) SetAccuracy(profile geosource.AccuracyProfile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Watch.Accuracy = profile
	if e.sub == nil {
		return nil
	}
	return e.sub.SetAccuracy(profile)
}

func (e *Engine) startLocked(ctx context.Context) error {
	capability, err := e.adapter.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("tracker: start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	mode := ModeFull
	switch {
	case !capability.Background:
		mode = ModeForegroundOnly
		e.notify(Notice{Level: NoticeInfo, Code: CodeForegroundOnly,
			Message: "Background location is not allowed; tracking continues while the app is open."})
	case e.task == nil:
		mode = ModeForegroundOnly
		e.notify(Notice{Level: NoticeInfo, Code: CodeForegroundOnly,
			Message: "Background tracking is not available; tracking continues while the app is open."})
	default:
		if err := background.Register(runCtx, e.scheduler, e.task); err != nil {
			mode = ModeForegroundOnly
			if !errors.Is(err, background.ErrUnsupported) {
				e.logger.Warn("background task registration failed", "error", err)
			}
			e.notify(Notice{Level: NoticeInfo, Code: CodeForegroundOnly,
				Message: "Background tracking is not available; tracking continues while the app is open."})
		} else {
			e.bgRegistered = true
		}
	}

	sub, err := e.adapter.Subscribe(runCtx, e.cfg.Watch)
	if err != nil {
		cancel()
		e.unregisterBackground()
		return fmt.Errorf("tracker: subscribe: %w", err)
	}

	e.trajectory.Reset()
	e.presence.Join(runCtx, e.groupID)

	e.sub = sub
	e.cancel = cancel
	e.done = make(chan struct{})
	e.session = Session{
		ID:        uuid.New(),
		Active:    true,
		StartedAt: time.Now(),
		OwnerID:   e.cfg.OwnerID,
		GroupID:   e.groupID,
		Mode:      mode,
	}
	go e.coordinate(runCtx, e.session, sub.C(), e.done)

	e.logger.Info("tracking started", "session", e.session.ID, "group", e.groupID, "mode", mode.String())
	return nil
}

func (e *Engine) stopLocked() error {
	if !e.session.Active {
		return nil
	}

	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
	e.presence.Leave()
	err := e.unregisterBackground()

	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil

	e.logger.Info("tracking stopped", "session", e.session.ID, "group", e.session.GroupID)
	e.session.Active = false
	return err
}

func (e *Engine) unregisterBackground() error {
	if !e.bgRegistered {
		return nil
	}
	e.bgRegistered = false
	if err := e.scheduler.Unregister(background.TaskName); err != nil {
		return fmt.Errorf("tracker: unregister background task: %w", err)
	}
	return nil
}

func (e *Engine) coordinate(ctx context.Context, session Session, fixes <-chan geosource.Fix, done chan struct{}) {
	defer close(done)
	signals := e.presence.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				fixes = nil
				continue
			}
			e.onFix(ctx, session, fix)
		case sig := <-signals:
			e.onSignal(session, sig)
		}
	}
}

func (e *Engine) onFix(ctx context.Context, session Session, fix geosource.Fix) {
	if err := e.trajectory.Add(fix); err != nil {
		e.logger.Debug("fix dropped", "error", err)
		return
	}
	e.viewport.OnFix(fix)
	e.presence.Publish(fix)
	if session.Mode == ModeForegroundOnly && e.dispatcher != nil {
		e.dispatcher.Dispatch(ctx, syncclient.SampleFromFix(session.OwnerID, fix))
	}
}

func (e *Engine) onSignal(session Session, sig presence.Signal) {
	switch sig.Kind {
	case presence.SignalGroupDeleted:
		if sig.GroupID != session.GroupID {
			return
		}
		// Stop waits for this goroutine, so the teardown runs elsewhere.
		go e.groupRemoved(sig.GroupID)
	case presence.SignalMemberApproved:
		e.notify(Notice{Level: NoticeInfo, Code: CodeMemberApproved,
			Message: fmt.Sprintf("A new member joined the group (%s).", sig.UserID)})
	case presence.SignalPushUnavailable:
		e.notify(Notice{Level: NoticeWarning, Code: CodePushUnavailable,
			Message: "Live updates are unavailable; member positions refresh periodically."})
	}
}

func (e *Engine) groupRemoved(groupID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.groupID != groupID {
		return
	}
	if err := e.stopLocked(); err != nil {
		e.logger.Warn("teardown after group removal", "error", err)
	}
	e.groupID = ""
	e.notify(Notice{Level: NoticeWarning, Code: CodeGroupRemoved,
		Message: "The group was deleted; tracking has stopped."})
}

func (e *Engine) notify(n Notice) {
	select {
	case e.notices <- n:
	default:
		e.logger.Warn("notice dropped", "code", n.Code)
	}
}
