package geosource

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
)

// Capability is what the platform granted for a tracking session.
type Capability struct {
	Foreground bool
	Background bool
}

// Adapter owns at most one live subscription to the platform.
type Adapter struct {
	platform Platform
	logger   *slog.Logger

	mu  sync.Mutex
	sub *Subscription
}

func NewAdapter(platform Platform, logger *slog.Logger) *Adapter {
	return &Adapter{
		platform: platform,
		logger:   applog.Component(logger, "geosource"),
	}
}

// RequestPermission asks the platform for scope and maps a refusal to a
// *PermissionError matching ErrPermissionDenied or ErrPermissionPermanentlyDenied.
func (a *Adapter) RequestPermission(ctx context.Context, scope Scope) error {
	ans, err := a.platform.RequestPermission(ctx, scope)
	if err != nil {
		return err
	}
	return answerError(scope, ans)
}

// Acquire requests foreground then background permission. A refused
// background scope degrades to a foreground-only capability.
func (a *Adapter) Acquire(ctx context.Context) (Capability, error) {
	if err := a.RequestPermission(ctx, ScopeForeground); err != nil {
		return Capability{}, err
	}

	capability := Capability{Foreground: true}
	err := a.RequestPermission(ctx, ScopeBackground)
	switch {
	case err == nil:
		capability.Background = true
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPermissionPermanentlyDenied):
		a.logger.Info("background location not granted, tracking in foreground only", "error", err)
	default:
		a.logger.Warn("background permission request failed", "error", err)
	}
	return capability, nil
}

func (a *Adapter) LastKnownFix(ctx context.Context) (*Fix, error) {
	return a.platform.LastKnownFix(ctx)
}

// Subscribe starts a new platform watch. Any previous subscription from this
// adapter is cancelled first.
func (a *Adapter) Subscribe(ctx context.Context, opts WatchOptions) (*Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sub != nil {
		a.sub.Cancel()
		a.sub = nil
	}

	sub := newSubscription(ctx, a.platform, opts, a.logger)
	if err := sub.start(); err != nil {
		sub.Cancel()
		return nil, err
	}
	a.sub = sub
	return sub, nil
}

// Active returns the current subscription, if any.
func (a *Adapter) Active() *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil && a.sub.Closed() {
		a.sub = nil
	}
	return a.sub
}
