package notes

import "time"

// MarkChanged records a local mutation on the record: it flags the record dirty,
// refreshes UpdatedAt and advances Revision. SyncedAt is owned by the sync engine
// and is left untouched.
func MarkChanged(record Record, now time.Time) {
	meta := record.Meta()
	meta.IsDirty = true
	meta.UpdatedAt = now.UTC()
	meta.Revision++
}

// Stamp initializes the envelope of a freshly created record and marks it changed.
func Stamp(record Record, id RecordID, orderIndex int64, now time.Time) {
	meta := record.Meta()
	meta.ID = id.String()
	meta.OrderIndex = orderIndex
	meta.CreatedAt = now.UTC()
	meta.IsDeleted = false
	meta.SyncedAt = nil
	meta.Revision = 0
	MarkChanged(record, now)
}
