package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
)

// DefaultBufferSize bounds the fixes held between two deliveries.
const DefaultBufferSize = 256

// BufferedScheduler runs registered handlers in-process. Each registration
// opens its own platform watch, buffers fixes and delivers them as a batch
// every interval. When the buffer is full the oldest fix is dropped.
type BufferedScheduler struct {
	platform geosource.Platform
	interval time.Duration
	opts     geosource.WatchOptions
	bufSize  int
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[string]*scheduledTask
}

type scheduledTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBufferedScheduler(platform geosource.Platform, interval time.Duration, opts geosource.WatchOptions, logger *slog.Logger) *BufferedScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &BufferedScheduler{
		platform: platform,
		interval: interval,
		opts:     opts,
		bufSize:  DefaultBufferSize,
		logger:   applog.Component(logger, "scheduler"),
		tasks:    map[string]*scheduledTask{},
	}
}

func (s *BufferedScheduler) Supported() bool {
	return s.platform != nil
}

// Register replaces any task already registered under name.
func (s *BufferedScheduler) Register(ctx context.Context, name string, handler BatchHandler) error {
	if !s.Supported() {
		return ErrUnsupported
	}
	_ = s.Unregister(name)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src, err := s.platform.Watch(runCtx, s.opts)
	if err != nil {
		cancel()
		return fmt.Errorf("background: watch for %s: %w", name, err)
	}

	task := &scheduledTask{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.tasks[name] = task
	s.mu.Unlock()

	go s.run(runCtx, name, src, handler, task.done)
	s.logger.Info("background task registered", "task", name, "interval", s.interval)
	return nil
}

// Unregister stops the named task and waits for its last delivery.
func (s *BufferedScheduler) Unregister(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	task.cancel()
	<-task.done
	return nil
}

// Registered reports whether name has a running task.
func (s *BufferedScheduler) Registered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

func (s *BufferedScheduler) run(ctx context.Context, name string, src <-chan geosource.Fix, handler BatchHandler, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var buf []geosource.Fix
	flush := func() {
		if len(buf) == 0 {
			return
		}
		batch := buf
		buf = nil
		handler(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-src:
			if !ok {
				flush()
				s.logger.Debug("background watch ended", "task", name)
				return
			}
			if len(buf) >= s.bufSize {
				buf = buf[1:]
			}
			buf = append(buf, fix)
		case <-ticker.C:
			flush()
		}
	}
}
