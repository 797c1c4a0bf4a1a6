package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"gorm.io/gorm"
)

const (
	columnID        = "id"
	columnIsDirty   = "is_dirty"
	columnIsDeleted = "is_deleted"
	columnSyncedAt  = "synced_at"
	columnRevision  = "revision"
	queryID         = columnID + " = ?"
	queryIDRevision = columnID + " = ? AND " + columnRevision + " = ?"
	queryDirty      = columnIsDirty + " = ?"
	queryLive       = columnIsDeleted + " = ?"
	orderSiblings   = "order_index ASC, updated_at DESC, id ASC"

	// checkpointKey names the scalar row holding the last successful pull time.
	checkpointKey = "last_synced_at"
)

// stateRecord stores engine scalars such as the pull checkpoint.
type stateRecord struct {
	Key   string `gorm:"column:state_key;primaryKey;size:64;not null"`
	Value string `gorm:"column:state_value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (stateRecord) TableName() string {
	return "sync_state"
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Get(kind notes.Kind, id string) (notes.Record, error) {
	record, err := notes.NewRecord(kind)
	if err != nil {
		return nil, err
	}
	err = t.db.Where(queryID, id).Take(record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (t *gormTx) Put(record notes.Record) error {
	if err := notes.Validate(record); err != nil {
		return err
	}
	return t.db.Save(record).Error
}

func (t *gormTx) Purge(kind notes.Kind, id string) error {
	model, err := notes.NewRecord(kind)
	if err != nil {
		return err
	}
	return t.db.Where(queryID, id).Delete(model).Error
}

func (t *gormTx) MarkSynced(kind notes.Kind, id string, revision int64, syncedAt time.Time) (bool, error) {
	model, err := notes.NewRecord(kind)
	if err != nil {
		return false, err
	}
	stamp := syncedAt.UTC()
	if err := t.db.Model(model).Where(queryID, id).Update(columnSyncedAt, &stamp).Error; err != nil {
		return false, err
	}
	result := t.db.Model(model).Where(queryIDRevision, id, revision).Update(columnIsDirty, false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (t *gormTx) ListDirty(kind notes.Kind) ([]notes.Record, error) {
	return t.find(kind, func(query *gorm.DB) *gorm.DB {
		return query.Where(queryDirty, true).Order("updated_at ASC, id ASC")
	})
}

func (t *gormTx) ListChildren(kind notes.Kind, parentID string) ([]notes.Record, error) {
	return t.find(kind, func(query *gorm.DB) *gorm.DB {
		query = query.Where(queryLive, false)
		if column := kind.ParentColumn(); column != "" {
			query = query.Where(column+" = ?", parentID)
		}
		return query.Order(orderSiblings)
	})
}

func (t *gormTx) CountDirty(kind notes.Kind) (int64, error) {
	model, err := notes.NewRecord(kind)
	if err != nil {
		return 0, err
	}
	var count int64
	err = t.db.Model(model).Where(queryDirty, true).Count(&count).Error
	return count, err
}

func (t *gormTx) Checkpoint() (*time.Time, error) {
	var record stateRecord
	err := t.db.Where("state_key = ?", checkpointKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, record.Value)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt checkpoint %q: %w", record.Value, err)
	}
	return &parsed, nil
}

func (t *gormTx) SetCheckpoint(at time.Time) error {
	record := stateRecord{Key: checkpointKey, Value: at.UTC().Format(time.RFC3339Nano)}
	return t.db.Save(&record).Error
}

func (t *gormTx) find(kind notes.Kind, scope func(*gorm.DB) *gorm.DB) ([]notes.Record, error) {
	switch kind {
	case notes.KindCollection:
		return findAs[notes.Collection](t.db, scope)
	case notes.KindNote:
		return findAs[notes.Note](t.db, scope)
	case notes.KindItem:
		return findAs[notes.ChecklistItem](t.db, scope)
	default:
		return nil, fmt.Errorf("%w: %q", notes.ErrInvalidKind, kind)
	}
}

func findAs[T any, P interface {
	*T
	notes.Record
}](db *gorm.DB, scope func(*gorm.DB) *gorm.DB) ([]notes.Record, error) {
	var rows []T
	if err := scope(db.Model(new(T))).Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]notes.Record, 0, len(rows))
	for index := range rows {
		records = append(records, P(&rows[index]))
	}
	return records, nil
}
