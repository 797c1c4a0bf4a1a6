package notes

import (
	"errors"
	"fmt"
	"time"
)

// MergeDecision enumerates what a pull does with one incoming record.
type MergeDecision int

const (
	// MergeAdopt overwrites (or inserts) the local row with the server copy.
	MergeAdopt MergeDecision = iota + 1
	// MergeKeepLocal skips the server copy because the local row has unsynced edits.
	MergeKeepLocal
	// MergePurge hard-deletes the local row because the server deleted it.
	MergePurge
	// MergeIgnore leaves local state alone: the server deleted a row we never had.
	MergeIgnore
)

// String returns a log-friendly decision name.
func (d MergeDecision) String() string {
	switch d {
	case MergeAdopt:
		return "adopt"
	case MergeKeepLocal:
		return "keep_local"
	case MergePurge:
		return "purge"
	case MergeIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ErrRecordMismatch indicates that an incoming record was compared with a row of another kind or id.
var ErrRecordMismatch = errors.New("notes: incoming record does not match local row")

// MergeOutcome captures the decision from ResolveIncoming.
type MergeOutcome struct {
	Decision MergeDecision
	// Record is the row to store when Decision is MergeAdopt.
	Record Record
}

// ResolveIncoming applies the whole-record merge policy to one server record.
// A dirty local row always wins until it has been pushed; otherwise the server copy is adopted
// as a clean, synced row.
func ResolveIncoming(existing Record, incoming Record, appliedAt time.Time) (MergeOutcome, error) {
	if existing != nil {
		if existing.Kind() != incoming.Kind() || existing.Meta().ID != incoming.Meta().ID {
			return MergeOutcome{}, fmt.Errorf("%w: %s/%s vs %s/%s", ErrRecordMismatch,
				existing.Kind(), existing.Meta().ID, incoming.Kind(), incoming.Meta().ID)
		}
	}

	if incoming.Meta().IsDeleted {
		if existing == nil {
			return MergeOutcome{Decision: MergeIgnore}, nil
		}
		return MergeOutcome{Decision: MergePurge}, nil
	}

	if existing != nil && existing.Meta().IsDirty {
		return MergeOutcome{Decision: MergeKeepLocal}, nil
	}

	adopted := incoming.Clone()
	meta := adopted.Meta()
	syncedAt := appliedAt.UTC()
	meta.IsDirty = false
	meta.IsDeleted = false
	meta.SyncedAt = &syncedAt
	meta.Revision = 0
	if existing != nil {
		meta.Revision = existing.Meta().Revision
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = existing.Meta().CreatedAt
		}
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = syncedAt
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	return MergeOutcome{Decision: MergeAdopt, Record: adopted}, nil
}
