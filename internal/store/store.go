// Package store defines the LocalStore capability used by the sync engine and
// provides its gorm/SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
)

var (
	// ErrNotFound indicates that no row exists for the requested kind and id.
	ErrNotFound = errors.New("store: record not found")
	// ErrMissingDatabase indicates that the store was constructed without a database handle.
	ErrMissingDatabase = errors.New("store: database handle is required")
)

// LocalStore is the transactional, multi-table local persistence used by the engine.
// Every function passed to Update runs in one atomic transaction; returning an error
// rolls back all of its writes.
type LocalStore interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the record operations available inside a transaction.
type Tx interface {
	// Get returns the row or ErrNotFound.
	Get(kind notes.Kind, id string) (notes.Record, error)
	// Put inserts or fully overwrites the row keyed by the record id.
	Put(record notes.Record) error
	// Purge hard-deletes the row. Purging an absent row is not an error.
	Purge(kind notes.Kind, id string) error
	// MarkSynced stamps SyncedAt and clears IsDirty only when the stored revision still equals
	// revision. It reports whether the dirty flag was cleared.
	MarkSynced(kind notes.Kind, id string, revision int64, syncedAt time.Time) (bool, error)
	// ListDirty returns every row with IsDirty set, tombstones included.
	ListDirty(kind notes.Kind) ([]notes.Record, error)
	// ListChildren returns the live (non-tombstone) rows under parentID.
	// parentID is ignored for collections.
	ListChildren(kind notes.Kind, parentID string) ([]notes.Record, error)
	// CountDirty returns the number of rows waiting for push.
	CountDirty(kind notes.Kind) (int64, error)
	// Checkpoint returns the last successful pull time, nil when no pull ever succeeded.
	Checkpoint() (*time.Time, error)
	// SetCheckpoint persists the last successful pull time.
	SetCheckpoint(at time.Time) error
}
