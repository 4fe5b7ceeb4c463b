// Package background runs location persistence outside the foreground
// subscription. A Scheduler delivers batches of fixes (possibly while the
// app is suspended) and the Task posts each one to the remote store on a
// best-effort, at-most-once basis.
package background

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/geo"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/syncclient"
)

// TaskName identifies the location task with the scheduler.
const TaskName = "location-background"

// ErrUnsupported is returned by schedulers that cannot run background work.
var ErrUnsupported = errors.New("background: execution not supported")

// BatchHandler receives fixes delivered by the scheduler.
type BatchHandler func(ctx context.Context, batch []geosource.Fix)

// Scheduler is the platform facility for work that outlives the foreground.
type Scheduler interface {
	Supported() bool
	Register(ctx context.Context, name string, handler BatchHandler) error
	Unregister(name string) error
}

// Poster sends one sample to the remote store.
type Poster interface {
	PostSample(ctx context.Context, sample wire.Sample) error
}

// Stats counts what the task did since it was created.
type Stats struct {
	Sent     uint64
	Failed   uint64
	Rejected uint64
}

// Task posts scheduler batches for one device owner.
type Task struct {
	ownerID string
	poster  Poster
	logger  *slog.Logger

	sent     atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
}

func NewTask(ownerID string, poster Poster, logger *slog.Logger) *Task {
	return &Task{
		ownerID: ownerID,
		poster:  poster,
		logger:  applog.Component(logger, "background"),
	}
}

// HandleBatch posts each fix once. Failures are logged and counted; the next
// batch is the only retry.
func (t *Task) HandleBatch(ctx context.Context, batch []geosource.Fix) {
	for _, fix := range batch {
		if ctx.Err() != nil {
			return
		}
		if !geo.ValidCoord(fix.Latitude, fix.Longitude) {
			t.rejected.Add(1)
			continue
		}
		if err := t.poster.PostSample(ctx, syncclient.SampleFromFix(t.ownerID, fix)); err != nil {
			t.failed.Add(1)
			t.logger.Warn("background sample not persisted", "owner", t.ownerID, "timestamp", fix.Timestamp, "error", err)
			continue
		}
		t.sent.Add(1)
	}
}

func (t *Task) Stats() Stats {
	return Stats{
		Sent:     t.sent.Load(),
		Failed:   t.failed.Load(),
		Rejected: t.rejected.Load(),
	}
}

// Register hands the task to the scheduler. It returns ErrUnsupported when
// background execution is unavailable so the caller can fall back to
// foreground-only tracking.
func Register(ctx context.Context, s Scheduler, t *Task) error {
	if s == nil || !s.Supported() {
		return ErrUnsupported
	}
	return s.Register(ctx, TaskName, t.HandleBatch)
}
