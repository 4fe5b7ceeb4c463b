package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/retry"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultStaleAfter   = 2 * time.Minute
)

type Config struct {
	// SelfID is broadcast as owner of local updates and hidden from Members.
	SelfID       string
	PollInterval time.Duration
	StaleAfter   time.Duration
	Reconnect    retry.Policy
	Logger       *slog.Logger
	Now          func() time.Time
}

// Synchronizer owns the membership snapshot; only its room loop mutates it.
type Synchronizer struct {
	cfg     Config
	dialer  Dialer
	fetcher Fetcher
	logger  *slog.Logger
	signals chan Signal

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu            sync.RWMutex
	state         State
	groupID       string
	members       map[string]Member
	outbound      chan wire.LocationUpdate
	pollNow       chan struct{}
	pushExhausted bool
	lastPoll      time.Time
	lastPush      time.Time
}

func New(cfg Config, dialer Dialer, fetcher Fetcher) *Synchronizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect = retry.Policy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Synchronizer{
		cfg:     cfg,
		dialer:  dialer,
		fetcher: fetcher,
		logger:  applog.Component(cfg.Logger, "presence"),
		signals: make(chan Signal, 8),
		members: map[string]Member{},
	}
}

// Signals delivers group deletion, member approval and push exhaustion.
func (s *Synchronizer) Signals() <-chan Signal {
	return s.signals
}

// Join leaves the current room, if any, and starts syncing groupID. The push
// connection is established asynchronously; polling starts immediately.
func (s *Synchronizer) Join(ctx context.Context, groupID string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.leaveLocked()

	runCtx, cancel := context.WithCancel(ctx)
	outbound := make(chan wire.LocationUpdate, 1)
	pollNow := make(chan struct{}, 1)
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateJoining
	s.groupID = groupID
	s.members = map[string]Member{}
	s.outbound = outbound
	s.pollNow = pollNow
	s.pushExhausted = false
	s.lastPoll, s.lastPush = time.Time{}, time.Time{}
	s.mu.Unlock()

	s.cancel = cancel
	s.done = done

	loop := &roomLoop{
		s:         s,
		ctx:       runCtx,
		groupID:   groupID,
		outbound:  outbound,
		pollNow:   pollNow,
		connected: make(chan Conn),
		polls:     make(chan pollResult, 1),
	}
	go loop.run(done)
	s.logger.Info("joining group", "group", groupID)
}

// Leave disconnects the push channel, stops polling and clears the snapshot.
// It is safe to call when idle.
func (s *Synchronizer) Leave() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.leaveLocked()
}

func (s *Synchronizer) leaveLocked() {
	if s.cancel == nil {
		return
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.state = StateLeaving
	}
	group := s.groupID
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil

	s.mu.Lock()
	s.state = StateIdle
	s.groupID = ""
	s.members = map[string]Member{}
	s.outbound = nil
	s.pollNow = nil
	s.mu.Unlock()
	if group != "" {
		s.logger.Info("left group", "group", group)
	}
}

// Publish queues a local fix for broadcast to the room. Only the latest
// pending update is kept; nothing is sent unless the room is joined.
func (s *Synchronizer) Publish(fix geosource.Fix) {
	s.mu.RLock()
	out := s.outbound
	s.mu.RUnlock()
	if out == nil {
		return
	}

	upd := wire.LocationUpdate{
		OwnerID:   s.cfg.SelfID,
		Lat:       fix.Latitude,
		Lng:       fix.Longitude,
		Heading:   fix.Heading,
		Accuracy:  fix.Accuracy,
		Timestamp: fix.Timestamp,
	}
	for {
		select {
		case out <- upd:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

// Refresh requests an out-of-cycle poll.
func (s *Synchronizer) Refresh() {
	s.mu.RLock()
	ch := s.pollNow
	s.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:         s.state,
		GroupID:       s.groupID,
		PushExhausted: s.pushExhausted,
		LastPollAt:    s.lastPoll,
		LastPushAt:    s.lastPush,
	}
}

// Members returns the snapshot without the self member.
func (s *Synchronizer) Members() map[string]Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Member, len(s.members))
	for id, m := range s.members {
		if id == s.cfg.SelfID {
			continue
		}
		out[id] = m
	}
	return out
}

// Member returns one entry of the snapshot, including the self member.
func (s *Synchronizer) Member(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

func (s *Synchronizer) setState(groupID string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupID == groupID && s.state != StateIdle && s.state != StateLeaving {
		s.state = st
	}
}

func (s *Synchronizer) emit(ctx context.Context, sig Signal, block bool) {
	if block {
		select {
		case s.signals <- sig:
		case <-ctx.Done():
		}
		return
	}
	select {
	case s.signals <- sig:
	default:
		s.logger.Warn("signal dropped", "kind", sig.Kind.String(), "group", sig.GroupID)
	}
}
