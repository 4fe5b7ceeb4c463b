// Package geosource wraps the device position provider. It exposes one
// continuous stream of raw fixes per subscription, the permission flow for
// foreground and background scopes, and runtime accuracy switching.
package geosource

import (
	"context"
	"time"
)

// Fix is a single raw position reading. Optional readings are nil when the
// platform did not supply them.
type Fix struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Time returns the fix timestamp as a time.Time.
func (f Fix) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}

type Scope int

const (
	ScopeForeground Scope = iota
	ScopeBackground
)

func (s Scope) String() string {
	if s == ScopeBackground {
		return "background"
	}
	return "foreground"
}

type PermissionStatus int

const (
	Granted PermissionStatus = iota
	Denied
	Restricted
)

func (s PermissionStatus) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "restricted"
	}
}

// PermissionAnswer is what the platform reports after a permission request.
type PermissionAnswer struct {
	Status      PermissionStatus
	CanAskAgain bool
}

type AccuracyProfile int

const (
	AccuracyHigh AccuracyProfile = iota
	AccuracyBalanced
)

func (p AccuracyProfile) String() string {
	if p == AccuracyBalanced {
		return "balanced"
	}
	return "high"
}

// WatchOptions configures a platform watch.
type WatchOptions struct {
	Accuracy     AccuracyProfile
	MinInterval  time.Duration
	MinDistanceM float64
}

// Platform is the device position provider. Watch delivers fixes until ctx is
// done; the platform closes the returned channel when it stops.
type Platform interface {
	RequestPermission(ctx context.Context, scope Scope) (PermissionAnswer, error)
	LastKnownFix(ctx context.Context) (*Fix, error)
	Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error)
}
