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

type PullerConfig struct {
	Store  store.LocalStore
	Remote remote.Client
	Clock  func() time.Time
	Logger *zap.Logger
}

// Puller merges remote deltas into the local store.
type Puller struct {
	store  store.LocalStore
	remote remote.Client
	clock  func() time.Time
	logger *zap.Logger
}

func NewPuller(cfg PullerConfig) (*Puller, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opPullerNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opPullerNew, "missing_remote", errMissingRemote)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Puller{store: cfg.Store, remote: cfg.Remote, clock: clock, logger: logger}, nil
}

// PullReport summarizes one applied delta.
type PullReport struct {
	Since      *time.Time
	Checkpoint time.Time
	Adopted    int
	Kept       int
	Purged     int
	Ignored    int
}

// Pull fetches every remote change after the stored checkpoint and applies the delta together
// with the new checkpoint in one transaction. Any failure leaves local state and the checkpoint
// untouched and is returned.
func (p *Puller) Pull(ctx context.Context) (PullReport, error) {
	var since *time.Time
	err := p.store.View(ctx, func(tx store.Tx) error {
		var checkpointErr error
		since, checkpointErr = tx.Checkpoint()
		return checkpointErr
	})
	if err != nil {
		logError(p.logger, opPull, "checkpoint_read_failed", err)
		return PullReport{}, newServiceError(opPull, "checkpoint_read_failed", err)
	}

	// The checkpoint is taken before the request so that changes committed on the server while
	// the request is in flight are fetched again next time.
	requestedAt := p.clock().UTC()
	delta, err := p.remote.FetchChanges(ctx, since)
	if err != nil {
		logError(p.logger, opPull, "fetch_failed", err)
		return PullReport{}, newServiceError(opPull, "fetch_failed", err)
	}

	var report PullReport
	err = p.store.Update(ctx, func(tx store.Tx) error {
		report = PullReport{Since: since, Checkpoint: requestedAt}
		appliedAt := p.clock()
		for _, kind := range notes.PushOrder {
			for _, incoming := range delta.Records(kind) {
				if err := p.apply(tx, incoming, appliedAt, &report); err != nil {
					return err
				}
			}
		}
		return tx.SetCheckpoint(requestedAt)
	})
	if err != nil {
		logError(p.logger, opPull, "apply_failed", err, zap.Int("delta_size", delta.Len()))
		return PullReport{}, newServiceError(opPull, "apply_failed", err)
	}

	p.logger.Debug("pull applied",
		zap.Int("adopted", report.Adopted),
		zap.Int("kept_local", report.Kept),
		zap.Int("purged", report.Purged),
		zap.Time("checkpoint", report.Checkpoint))
	return report, nil
}

func (p *Puller) apply(tx store.Tx, incoming notes.Record, appliedAt time.Time, report *PullReport) error {
	id := incoming.Meta().ID
	existing, err := tx.Get(incoming.Kind(), id)
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return err
	}

	outcome, err := notes.ResolveIncoming(existing, incoming, appliedAt)
	if err != nil {
		return err
	}
	switch outcome.Decision {
	case notes.MergeAdopt:
		if err := tx.Put(outcome.Record); err != nil {
			return err
		}
		report.Adopted++
	case notes.MergePurge:
		if err := tx.Purge(incoming.Kind(), id); err != nil {
			return err
		}
		report.Purged++
	case notes.MergeKeepLocal:
		report.Kept++
		p.logger.Debug("keeping unsynced local record",
			zap.String("kind", incoming.Kind().String()),
			zap.String("id", id))
	case notes.MergeIgnore:
		report.Ignored++
	}
	return nil
}
