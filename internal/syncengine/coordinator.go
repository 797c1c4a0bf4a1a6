package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type CoordinatorConfig struct {
	Store  store.LocalStore
	Remote remote.Client
	Clock  func() time.Time
	Logger *zap.Logger
	// Status receives cycle start/finish messages when set.
	Status *StatusBroadcaster
}

// Coordinator runs sync cycles one at a time: push, then pull.
type Coordinator struct {
	store  store.LocalStore
	pusher *Pusher
	puller *Puller
	clock  func() time.Time
	logger *zap.Logger
	status *StatusBroadcaster
	cycles *semaphore.Weighted
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_remote", errMissingRemote)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	pusher, err := NewPusher(PusherConfig{Store: cfg.Store, Remote: cfg.Remote, Clock: clock, Logger: logger})
	if err != nil {
		return nil, err
	}
	puller, err := NewPuller(PullerConfig{Store: cfg.Store, Remote: cfg.Remote, Clock: clock, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		store:  cfg.Store,
		pusher: pusher,
		puller: puller,
		clock:  clock,
		logger: logger,
		status: cfg.Status,
		cycles: semaphore.NewWeighted(1),
	}, nil
}

// CycleReport aggregates the outcome of one sync cycle.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Push       PushReport
	Pull       PullReport
	PullErr    error
	// PullSkipped is set when the cycle was canceled before the pull phase started.
	PullSkipped bool
}

// Succeeded reports whether every dirty record was acknowledged and the pull was applied.
func (r CycleReport) Succeeded() bool {
	return r.Push.Complete() && r.PullErr == nil && !r.PullSkipped
}

// Err joins the push and pull outcomes into one error, nil when the cycle succeeded.
func (r CycleReport) Err() error {
	var errs []error
	if !r.Push.Complete() {
		errs = append(errs, ErrPushIncomplete)
		if r.Push.Err != nil {
			errs = append(errs, r.Push.Err)
		}
	}
	if r.PullErr != nil {
		errs = append(errs, r.PullErr)
	}
	return errors.Join(errs...)
}

// Sync runs one cycle, waiting for any cycle already in flight. Waiting honors ctx.
func (c *Coordinator) Sync(ctx context.Context) (CycleReport, error) {
	if err := c.cycles.Acquire(ctx, 1); err != nil {
		return CycleReport{}, err
	}
	defer c.cycles.Release(1)
	return c.run(ctx)
}

// TrySync runs one cycle unless another is in flight, in which case it returns ErrBusy.
func (c *Coordinator) TrySync(ctx context.Context) (CycleReport, error) {
	if !c.cycles.TryAcquire(1) {
		return CycleReport{}, ErrBusy
	}
	defer c.cycles.Release(1)
	return c.run(ctx)
}

func (c *Coordinator) run(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: c.clock().UTC()}
	c.status.Publish(StatusMessage{EventType: EventSyncStarted, Timestamp: report.StartedAt})

	report.Push = c.pusher.Push(ctx)
	if err := ctx.Err(); err != nil {
		report.PullSkipped = true
		report.PullErr = err
	} else {
		report.Pull, report.PullErr = c.puller.Pull(ctx)
	}
	report.FinishedAt = c.clock().UTC()

	err := report.Err()
	fields := []zap.Field{
		zap.Int("created", report.Push.Created),
		zap.Int("updated", report.Push.Updated),
		zap.Int("deleted", report.Push.Deleted),
		zap.Int("stale", report.Push.Stale),
		zap.Int("push_failed", report.Push.Failed),
		zap.Int("adopted", report.Pull.Adopted),
		zap.Int("kept_local", report.Pull.Kept),
		zap.Int("purged", report.Pull.Purged),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if err != nil {
		c.logger.Warn("sync cycle finished with errors", append(fields, zap.Error(err))...)
	} else {
		c.logger.Info("sync cycle finished", fields...)
	}

	finished := report
	c.status.Publish(StatusMessage{EventType: EventSyncFinished, Timestamp: report.FinishedAt, Report: &finished, Err: err})
	return report, err
}

// DirtyCounts returns the number of records waiting for push, per kind.
func (c *Coordinator) DirtyCounts(ctx context.Context) (map[notes.Kind]int64, error) {
	snapshot, err := inspect(ctx, c.store, c.logger)
	if err != nil {
		return nil, err
	}
	return snapshot.Pending, nil
}

// Checkpoint returns the time of the last successful pull, nil before the first one.
func (c *Coordinator) Checkpoint(ctx context.Context) (*time.Time, error) {
	snapshot, err := inspect(ctx, c.store, c.logger)
	if err != nil {
		return nil, err
	}
	return snapshot.Checkpoint, nil
}
