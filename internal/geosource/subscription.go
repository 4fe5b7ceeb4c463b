package geosource

import (
	"context"
	"log/slog"
	"sync"
)

// Subscription is a cancelable stream of fixes. Its channel stays the same
// across accuracy switches even though the platform watch is recreated.
type Subscription struct {
	platform Platform
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Fix

	mu        sync.Mutex
	opts      WatchOptions
	stopWatch context.CancelFunc
	pumpDone  chan struct{}
	closed    bool
}

func newSubscription(parent context.Context, platform Platform, opts WatchOptions, logger *slog.Logger) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{
		platform: platform,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan Fix, 16),
		opts:     opts,
	}
	go func() {
		<-ctx.Done()
		s.Cancel()
	}()
	return s
}

// C delivers fixes in arrival order. It is closed by Cancel.
func (s *Subscription) C() <-chan Fix {
	return s.out
}

// Options returns the current watch options.
func (s *Subscription) Options() WatchOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetAccuracy tears down the platform watch and recreates it with profile.
func (s *Subscription) SetAccuracy(profile AccuracyProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriptionClosed
	}
	if s.opts.Accuracy == profile {
		return nil
	}

	s.stopLocked()
	s.opts.Accuracy = profile
	s.logger.Info("accuracy profile switched", "accuracy", profile.String())
	return s.startLocked()
}

// Cancel stops the platform watch and closes C. It is safe to call twice.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.stopLocked()
	s.cancel()
	close(s.out)
}

// Closed reports whether Cancel has run.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionClosed
	}
	return s.startLocked()
}

func (s *Subscription) startLocked() error {
	watchCtx, stop := context.WithCancel(s.ctx)
	src, err := s.platform.Watch(watchCtx, s.opts)
	if err != nil {
		stop()
		return err
	}

	done := make(chan struct{})
	s.stopWatch = stop
	s.pumpDone = done
	go s.pump(watchCtx, src, done)
	return nil
}

func (s *Subscription) stopLocked() {
	if s.stopWatch == nil {
		return
	}
	s.stopWatch()
	<-s.pumpDone
	s.stopWatch = nil
	s.pumpDone = nil
}

func (s *Subscription) pump(ctx context.Context, src <-chan Fix, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-src:
			if !ok {
				s.logger.Debug("platform watch ended")
				return
			}
			select {
			case s.out <- fix:
			case <-ctx.Done():
				return
			}
		}
	}
}
