package geosource

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is retryable: the user can be asked again.
	ErrPermissionDenied = errors.New("geosource: permission denied")

	// ErrPermissionPermanentlyDenied requires a change in system settings.
	ErrPermissionPermanentlyDenied = errors.New("geosource: permission permanently denied")

	// ErrSubscriptionClosed is returned when operating on a cancelled subscription.
	ErrSubscriptionClosed = errors.New("geosource: subscription closed")
)

// PermissionError describes a refused permission request.
type PermissionError struct {
	Scope       Scope
	Status      PermissionStatus
	CanAskAgain bool
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("geosource: %s permission %s (can ask again: %t)", e.Scope, e.Status, e.CanAskAgain)
}

// Permanent reports whether only a settings change can grant the permission.
func (e *PermissionError) Permanent() bool {
	return e.Status == Restricted || !e.CanAskAgain
}

// Is matches ErrPermissionDenied or ErrPermissionPermanentlyDenied.
func (e *PermissionError) Is(target error) bool {
	if e.Permanent() {
		return target == ErrPermissionPermanentlyDenied
	}
	return target == ErrPermissionDenied
}

// answerError converts a platform answer into nil or a *PermissionError.
func answerError(scope Scope, ans PermissionAnswer) error {
	if ans.Status == Granted {
		return nil
	}
	return &PermissionError{Scope: scope, Status: ans.Status, CanAskAgain: ans.CanAskAgain}
}
