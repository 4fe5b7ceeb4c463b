package tracker

import (
	"time"

	"github.com/google/uuid"
)

type Mode int

const (
	// ModeFull has the background task registered for persistence.
	ModeFull Mode = iota
	// ModeForegroundOnly persists from the foreground fix stream.
	ModeForegroundOnly
)

func (m Mode) String() string {
	if m == ModeForegroundOnly {
		return "foreground_only"
	}
	return "full"
}

// Session is a copy of the tracking session state.
type Session struct {
	ID        uuid.UUID
	Active    bool
	StartedAt time.Time
	OwnerID   string
	GroupID   string
	Mode      Mode
}

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
)

func (l NoticeLevel) String() string {
	if l == NoticeWarning {
		return "warning"
	}
	return "info"
}

const (
	CodeForegroundOnly  = "foreground_only"
	CodeGroupRemoved    = "group_removed"
	CodePushUnavailable = "push_unavailable"
	CodeMemberApproved  = "member_approved"
)

// Notice is a user-facing, non-blocking message from the engine.
type Notice struct {
	Level   NoticeLevel
	Code    string
	Message string
}
