// Package syncengine uploads local changes, merges remote deltas and coordinates sync cycles.
package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"go.uber.org/zap"
)

const (
	pushOpCreate = "create"
	pushOpUpdate = "update"
	pushOpDelete = "delete"
	pushOpCommit = "commit"
)

type PusherConfig struct {
	Store  store.LocalStore
	Remote remote.Client
	Clock  func() time.Time
	Logger *zap.Logger
}

// Pusher uploads dirty records. Failures are per record and never abort the pass.
type Pusher struct {
	store  store.LocalStore
	remote remote.Client
	clock  func() time.Time
	logger *zap.Logger
}

func NewPusher(cfg PusherConfig) (*Pusher, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opPusherNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opPusherNew, "missing_remote", errMissingRemote)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Pusher{store: cfg.Store, remote: cfg.Remote, clock: clock, logger: logger}, nil
}

// PushFailure describes one record the pass could not upload.
type PushFailure struct {
	Kind      notes.Kind
	ID        string
	Operation string
	Err       error
}

// PushReport summarizes one push pass.
type PushReport struct {
	Created int
	Updated int
	Deleted int
	// Stale counts acknowledged records that were edited again while in flight and stay dirty.
	Stale    int
	Failed   int
	Failures []PushFailure
	// Err is set when the dirty scan itself failed; the pass stops there.
	Err      error
	Canceled bool
}

// Complete reports whether every dirty record found by the pass was acknowledged.
func (r PushReport) Complete() bool {
	return r.Failed == 0 && r.Err == nil && !r.Canceled
}

// Push scans every kind parent-first and uploads each dirty record independently. It never returns
// an error: records that fail stay dirty for the next cycle. Cancellation is honored between records.
func (p *Pusher) Push(ctx context.Context) PushReport {
	var report PushReport
	for _, kind := range notes.PushOrder {
		var dirty []notes.Record
		err := p.store.View(ctx, func(tx store.Tx) error {
			var listErr error
			dirty, listErr = tx.ListDirty(kind)
			return listErr
		})
		if err != nil {
			if ctx.Err() != nil {
				report.Canceled = true
				return report
			}
			logError(p.logger, opPush, "scan_failed", err, zap.String("kind", kind.String()))
			report.Err = newServiceError(opPush, "scan_failed", err)
			return report
		}

		for _, record := range dirty {
			if ctx.Err() != nil {
				report.Canceled = true
				return report
			}
			p.pushRecord(ctx, record, &report)
		}
	}
	return report
}

func (p *Pusher) pushRecord(ctx context.Context, record notes.Record, report *PushReport) {
	meta := record.Meta()
	kind := record.Kind()

	if meta.IsDeleted {
		err := p.remote.Delete(ctx, kind, meta.ID)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			p.fail(report, kind, meta.ID, pushOpDelete, err)
			return
		}
		err = p.store.Update(context.WithoutCancel(ctx), func(tx store.Tx) error {
			return tx.Purge(kind, meta.ID)
		})
		if err != nil {
			p.fail(report, kind, meta.ID, pushOpCommit, err)
			return
		}
		report.Deleted++
		return
	}

	operation := pushOpUpdate
	var err error
	if meta.SyncedAt == nil {
		operation = pushOpCreate
		err = p.remote.Create(ctx, record)
		if errors.Is(err, remote.ErrAlreadyExists) {
			p.logger.Info("remote already has record, retrying as update",
				zap.String("kind", kind.String()),
				zap.String("id", meta.ID))
			operation = pushOpUpdate
			err = p.remote.Update(ctx, record)
		}
	} else {
		err = p.remote.Update(ctx, record)
	}
	if err != nil {
		p.fail(report, kind, meta.ID, operation, err)
		return
	}

	var cleared bool
	err = p.store.Update(context.WithoutCancel(ctx), func(tx store.Tx) error {
		var markErr error
		cleared, markErr = tx.MarkSynced(kind, meta.ID, meta.Revision, p.clock())
		return markErr
	})
	if err != nil {
		p.fail(report, kind, meta.ID, pushOpCommit, err)
		return
	}

	if operation == pushOpCreate {
		report.Created++
	} else {
		report.Updated++
	}
	if !cleared {
		report.Stale++
		p.logger.Info("record changed while in flight, keeping it dirty",
			zap.String("kind", kind.String()),
			zap.String("id", meta.ID),
			zap.Int64("revision", meta.Revision))
	}
}

func (p *Pusher) fail(report *PushReport, kind notes.Kind, id, operation string, err error) {
	report.Failed++
	report.Failures = append(report.Failures, PushFailure{Kind: kind, ID: id, Operation: operation, Err: err})
	p.logger.Warn("push record failed",
		zap.String("kind", kind.String()),
		zap.String("id", id),
		zap.String("operation", operation),
		zap.Error(err))
}
