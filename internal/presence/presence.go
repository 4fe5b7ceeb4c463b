// Package presence keeps the live membership snapshot of one group. It joins
// the group's room on the push channel, patches the snapshot per event and
// rebuilds it from a periodic full pull so that a silently failing push
// channel still converges.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

var (
	// ErrTransportDropped is logged when the push channel disconnects.
	ErrTransportDropped = errors.New("presence: transport dropped")

	// ErrGroupRemoved is carried by the group-deleted signal.
	ErrGroupRemoved = errors.New("presence: group removed")

	// ErrJoinRefused is returned when the relay rejects a room join.
	ErrJoinRefused = errors.New("presence: join refused")
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateReconnecting
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateReconnecting:
		return "reconnecting"
	case StateLeaving:
		return "leaving"
	default:
		return "idle"
	}
}

// Position is the last known position of a member.
type Position struct {
	Lat       float64
	Lng       float64
	Heading   *float64
	Accuracy  *float64
	Timestamp int64
}

// Member is one entry of the membership snapshot.
type Member struct {
	ID           string
	DisplayName  string
	Position     *Position
	IsOnline     bool
	LastUpdateAt int64
	// Stale is set when an online member has not reported for StaleAfter.
	Stale bool

	fromPush bool
}

type SignalKind int

const (
	SignalGroupDeleted SignalKind = iota
	SignalMemberApproved
	SignalPushUnavailable
)

func (k SignalKind) String() string {
	switch k {
	case SignalGroupDeleted:
		return "group_deleted"
	case SignalMemberApproved:
		return "member_approved"
	default:
		return "push_unavailable"
	}
}

// Signal reports a transition the owner of the synchronizer must act on.
type Signal struct {
	Kind    SignalKind
	GroupID string
	UserID  string
	Err     error
}

// Status is a read-only view of the synchronizer.
type Status struct {
	State         State
	GroupID       string
	PushExhausted bool
	LastPollAt    time.Time
	LastPushAt    time.Time
}

// Fetcher pulls the full membership state of a group.
type Fetcher interface {
	MembersWithLocations(ctx context.Context, groupID string) ([]wire.MemberLocation, error)
}

// Conn is a connected push channel.
type Conn interface {
	// Join returns once the relay has acknowledged the room.
	Join(ctx context.Context, groupID string) error
	Leave(groupID string) error
	Send(event string, payload any) error
	// Events is closed when the transport drops.
	Events() <-chan wire.Envelope
	Close() error
}

// Dialer opens push channel connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
