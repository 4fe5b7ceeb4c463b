package presence

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/retry"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/syncclient"
)

// maxClockSkew bounds how far ahead of the local clock a reported timestamp
// may be before it is clamped to now.
const maxClockSkew = time.Minute

type pollResult struct {
	members []wire.MemberLocation
	err     error
}

// roomLoop is the single writer of the snapshot for one joined group.
type roomLoop struct {
	s         *Synchronizer
	ctx       context.Context
	groupID   string
	outbound  <-chan wire.LocationUpdate
	pollNow   <-chan struct{}
	connected chan Conn
	polls     chan pollResult

	conn         Conn
	events       <-chan wire.Envelope
	pollInFlight bool
	pollPending  bool
}

func (l *roomLoop) run(done chan struct{}) {
	defer close(done)
	defer l.disconnect()

	go l.connect()
	l.startPoll()

	ticker := time.NewTicker(l.s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case c := <-l.connected:
			if c == nil {
				l.s.mu.Lock()
				l.s.pushExhausted = true
				l.s.mu.Unlock()
				l.s.emit(l.ctx, Signal{Kind: SignalPushUnavailable, GroupID: l.groupID}, false)
				continue
			}
			l.conn = c
			l.events = c.Events()
			l.s.setState(l.groupID, StateJoined)
			l.s.logger.Info("joined room", "group", l.groupID)
			l.startPoll()
		case env, ok := <-l.events:
			if !ok {
				l.s.logger.Warn("push channel lost", "group", l.groupID, "err", ErrTransportDropped)
				l.disconnect()
				l.s.setState(l.groupID, StateReconnecting)
				go l.connect()
				continue
			}
			if stop := l.handle(env); stop {
				return
			}
		case upd := <-l.outbound:
			if l.conn == nil {
				continue
			}
			upd.GroupID = l.groupID
			if err := l.conn.Send(wire.EventLocationUpdate, upd); err != nil {
				l.s.logger.Debug("location broadcast failed", "group", l.groupID, "err", err)
			}
		case <-l.pollNow:
			l.startPoll()
		case <-ticker.C:
			l.startPoll()
			l.sweepStale()
		case res := <-l.polls:
			l.pollInFlight = false
			if l.pollPending {
				l.pollPending = false
				l.startPoll()
			}
			if res.err != nil {
				if removed(res.err) {
					l.s.logger.Info("group no longer reachable by poll", "group", l.groupID, "err", res.err)
					l.groupRemoved()
					return
				}
				l.s.logger.Warn("membership poll failed", "group", l.groupID, "err", res.err)
				continue
			}
			l.rebuild(res.members)
		}
	}
}

// connect dials and joins the room with bounded backoff. It hands the loop
// nil when attempts are exhausted.
func (l *roomLoop) connect() {
	var conn Conn
	err := l.s.cfg.Reconnect.Do(l.ctx, func(ctx context.Context) error {
		c, err := l.s.dialer.Dial(ctx)
		if err != nil {
			l.s.logger.Debug("push dial failed", "group", l.groupID, "err", err)
			return err
		}
		if err := c.Join(ctx, l.groupID); err != nil {
			_ = c.Close()
			if errors.Is(err, ErrJoinRefused) {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		l.s.logger.Warn("push channel unavailable, continuing with polling", "group", l.groupID, "err", err)
		conn = nil
	}
	select {
	case l.connected <- conn:
	case <-l.ctx.Done():
		if conn != nil {
			_ = conn.Close()
		}
	}
}

func (l *roomLoop) disconnect() {
	if l.conn == nil {
		return
	}
	_ = l.conn.Leave(l.groupID)
	_ = l.conn.Close()
	l.conn = nil
	l.events = nil
}

func (l *roomLoop) startPoll() {
	if l.s.fetcher == nil {
		return
	}
	if l.pollInFlight {
		l.pollPending = true
		return
	}
	l.pollInFlight = true
	go func() {
		members, err := l.s.fetcher.MembersWithLocations(l.ctx, l.groupID)
		select {
		case l.polls <- pollResult{members: members, err: err}:
		case <-l.ctx.Done():
		}
	}()
}

// handle applies one push event and reports whether the loop must stop.
func (l *roomLoop) handle(env wire.Envelope) bool {
	switch env.Event {
	case wire.EventLocationUpdate:
		var upd wire.LocationUpdate
		if err := env.Decode(&upd); err != nil {
			l.s.logger.Debug("bad location update", "err", err)
			return false
		}
		if upd.GroupID != l.groupID {
			return false
		}
		l.applyPush(upd)
	case wire.EventGroupDeleted:
		if env.GroupID() != l.groupID {
			return false
		}
		l.s.logger.Info("group deleted", "group", l.groupID)
		l.groupRemoved()
		return true
	case wire.EventMemberApproved:
		var ev wire.MemberApproved
		if err := env.Decode(&ev); err != nil || ev.GroupID != l.groupID {
			return false
		}
		l.startPoll()
		l.s.emit(l.ctx, Signal{Kind: SignalMemberApproved, GroupID: ev.GroupID, UserID: ev.UserID}, false)
	}
	return false
}

// groupRemoved drops the room and tells the owner. The loop must stop after it.
func (l *roomLoop) groupRemoved() {
	l.s.mu.Lock()
	l.s.state = StateIdle
	l.s.groupID = ""
	l.s.members = map[string]Member{}
	l.s.outbound = nil
	l.s.pollNow = nil
	l.s.mu.Unlock()
	l.s.emit(l.ctx, Signal{Kind: SignalGroupDeleted, GroupID: l.groupID, Err: ErrGroupRemoved}, true)
}

// removed reports whether a poll failure means the group is gone for us: the
// relay answers 404 for a deleted group and 403 once the membership is gone.
func removed(err error) bool {
	var se *syncclient.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusNotFound || se.Code == http.StatusForbidden
}

// clampTimestamp caps timestamps that run more than maxClockSkew ahead of now.
func clampTimestamp(ts int64, now time.Time) int64 {
	if ts > now.Add(maxClockSkew).UnixMilli() {
		return now.UnixMilli()
	}
	return ts
}

func (l *roomLoop) applyPush(upd wire.LocationUpdate) {
	if upd.OwnerID == "" {
		return
	}
	now := l.s.cfg.Now()

	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.lastPush = now

	upd.Timestamp = clampTimestamp(upd.Timestamp, now)
	m, ok := l.s.members[upd.OwnerID]
	if ok && m.LastUpdateAt > upd.Timestamp {
		return
	}
	m.ID = upd.OwnerID
	m.Position = &Position{
		Lat:       upd.Lat,
		Lng:       upd.Lng,
		Heading:   upd.Heading,
		Accuracy:  upd.Accuracy,
		Timestamp: upd.Timestamp,
	}
	m.IsOnline = true
	m.LastUpdateAt = upd.Timestamp
	m.fromPush = true
	m.Stale = l.stale(m, now)
	l.s.members[upd.OwnerID] = m
}

// rebuild replaces the snapshot with a full pull. Per member the most recent
// timestamp wins; an equally recent push entry is kept.
func (l *roomLoop) rebuild(polled []wire.MemberLocation) {
	now := l.s.cfg.Now()

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	next := make(map[string]Member, len(polled))
	for _, pm := range polled {
		m := Member{ID: pm.UserID, DisplayName: pm.DisplayName, IsOnline: pm.IsOnline}
		if pm.Location != nil {
			ts := clampTimestamp(pm.Location.Timestamp, now)
			m.Position = &Position{Lat: pm.Location.Lat, Lng: pm.Location.Lng, Timestamp: ts}
			m.LastUpdateAt = ts
		}
		if cur, ok := l.s.members[pm.UserID]; ok && cur.fromPush && cur.LastUpdateAt >= m.LastUpdateAt {
			m.Position = cur.Position
			m.IsOnline = cur.IsOnline
			m.LastUpdateAt = cur.LastUpdateAt
			m.fromPush = true
		}
		m.Stale = l.stale(m, now)
		next[pm.UserID] = m
	}
	l.s.members = next
	l.s.lastPoll = now
}

func (l *roomLoop) sweepStale() {
	now := l.s.cfg.Now()
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for id, m := range l.s.members {
		if st := l.stale(m, now); st != m.Stale {
			m.Stale = st
			l.s.members[id] = m
		}
	}
}

func (l *roomLoop) stale(m Member, now time.Time) bool {
	if !m.IsOnline || m.LastUpdateAt == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(m.LastUpdateAt)) > l.s.cfg.StaleAfter
}
