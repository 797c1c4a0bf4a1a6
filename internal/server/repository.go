package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound indicates the record is missing, deleted or owned by another user.
	ErrRecordNotFound = errors.New("server: record not found")
	// ErrParentNotFound indicates the parent of a new record is missing, deleted or foreign.
	ErrParentNotFound = errors.New("server: parent not found")
	// ErrIDConflict indicates the client supplied an identifier owned by another user.
	ErrIDConflict = errors.New("server: identifier already in use")
	// ErrRecordDeleted indicates a create for an identifier whose record was already deleted.
	ErrRecordDeleted = errors.New("server: record was deleted")

	errMissingDatabase = errors.New("database handle required")
	errMissingUser     = errors.New("user id required")
)

// ValidationError reports the first invalid field of a request payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Code returns the error code rendered to clients.
func (e *ValidationError) Code() string {
	return strings.ToUpper(e.Field)
}

// RepositoryConfig bundles the dependencies of a Repository.
type RepositoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Repository persists user-scoped records for the sync API.
type Repository struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewRepository validates configuration and constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create stores a new record under the user. Repeating the create for an identifier the user
// already owns overwrites it unless the record has since been deleted.
func (r *Repository) Create(ctx context.Context, userID string, row storedRow) error {
	if userID == "" {
		return errMissingUser
	}
	if err := validateRow(row); err != nil {
		return err
	}
	now := r.clock().UTC()
	meta := row.meta()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parent, ok := parentKind(row.kind()); ok {
			if _, err := r.findLive(tx, userID, parent, row.parentID()); err != nil {
				if errors.Is(err, ErrRecordNotFound) {
					return fmt.Errorf("%w: %s %s", ErrParentNotFound, parent, row.parentID())
				}
				return err
			}
		}

		existing, err := newStoredRow(row.kind())
		if err != nil {
			return err
		}
		err = tx.Where("id = ?", meta.ID).Take(existing).Error
		switch {
		case err == nil:
			if existing.meta().UserID != userID {
				return fmt.Errorf("%w: %s", ErrIDConflict, meta.ID)
			}
			if existing.meta().IsDeleted {
				return fmt.Errorf("%w: %s %s", ErrRecordDeleted, row.kind(), meta.ID)
			}
			meta.CreatedAt = existing.meta().CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			if meta.CreatedAt.IsZero() {
				meta.CreatedAt = now
			}
		default:
			return err
		}

		meta.UserID = userID
		meta.UpdatedAt = now
		meta.IsDeleted = false
		meta.CreatedAt = meta.CreatedAt.UTC()
		return tx.Save(row).Error
	})
}

// Update replaces the editable fields of a live record. The parent link cannot change.
func (r *Repository) Update(ctx context.Context, userID string, row storedRow) error {
	if userID == "" {
		return errMissingUser
	}
	if err := validateRow(row); err != nil {
		return err
	}
	now := r.clock().UTC()
	meta := row.meta()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.findLive(tx, userID, row.kind(), meta.ID)
		if err != nil {
			return err
		}
		row.setParentID(existing.parentID())
		meta.UserID = userID
		meta.CreatedAt = existing.meta().CreatedAt
		meta.UpdatedAt = now
		meta.IsDeleted = false
		return tx.Save(row).Error
	})
}

// Delete marks a live record deleted so the tombstone reaches other devices.
func (r *Repository) Delete(ctx context.Context, userID string, kind notes.Kind, id string) (storedRow, error) {
	if userID == "" {
		return nil, errMissingUser
	}
	now := r.clock().UTC()
	var deleted storedRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.findLive(tx, userID, kind, id)
		if err != nil {
			return err
		}
		existing.meta().IsDeleted = true
		existing.meta().UpdatedAt = now
		if err := tx.Save(existing).Error; err != nil {
			return err
		}
		deleted = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Changes returns every record of the user updated after since, tombstones included. A nil
// since returns everything.
func (r *Repository) Changes(ctx context.Context, userID string, since *time.Time) (remote.ChangesPayload, error) {
	if userID == "" {
		return remote.ChangesPayload{}, errMissingUser
	}
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", userID)
		if since != nil {
			db = db.Where("updated_at > ?", since.UTC())
		}
		return db.Order("updated_at ASC").Order("id ASC")
	}

	var categories []categoryRow
	if err := r.db.WithContext(ctx).Scopes(scope).Find(&categories).Error; err != nil {
		return remote.ChangesPayload{}, err
	}
	var noteRows []noteRow
	if err := r.db.WithContext(ctx).Scopes(scope).Find(&noteRows).Error; err != nil {
		return remote.ChangesPayload{}, err
	}
	var items []itemRow
	if err := r.db.WithContext(ctx).Scopes(scope).Find(&items).Error; err != nil {
		return remote.ChangesPayload{}, err
	}

	changes := remote.ChangesPayload{
		Categories: make([]remote.CategoryPayload, 0, len(categories)),
		Notes:      make([]remote.NotePayload, 0, len(noteRows)),
		Items:      make([]remote.ItemPayload, 0, len(items)),
	}
	for index := range categories {
		changes.Categories = append(changes.Categories, categories[index].payload().(remote.CategoryPayload))
	}
	for index := range noteRows {
		changes.Notes = append(changes.Notes, noteRows[index].payload().(remote.NotePayload))
	}
	for index := range items {
		changes.Items = append(changes.Items, items[index].payload().(remote.ItemPayload))
	}
	return changes, nil
}

// List returns the live records of kind under parentID ordered by order_index, then created_at.
// The parent must be live and owned by the user; parentID is ignored for categories.
func (r *Repository) List(ctx context.Context, userID string, kind notes.Kind, parentID string) ([]any, error) {
	if userID == "" {
		return nil, errMissingUser
	}
	var payloads []any
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("user_id = ? AND is_deleted = ?", userID, false)
		if parent, ok := parentKind(kind); ok {
			if _, err := r.findLive(tx, userID, parent, parentID); err != nil {
				if errors.Is(err, ErrRecordNotFound) {
					return fmt.Errorf("%w: %s %s", ErrParentNotFound, parent, parentID)
				}
				return err
			}
			query = query.Where(parentColumn(kind)+" = ?", parentID)
		}
		query = query.Order("order_index ASC").Order("created_at ASC").Order("id ASC")

		switch kind {
		case notes.KindCollection:
			var rows []categoryRow
			if err := query.Find(&rows).Error; err != nil {
				return err
			}
			payloads = make([]any, 0, len(rows))
			for index := range rows {
				payloads = append(payloads, rows[index].payload())
			}
		case notes.KindNote:
			var rows []noteRow
			if err := query.Find(&rows).Error; err != nil {
				return err
			}
			payloads = make([]any, 0, len(rows))
			for index := range rows {
				payloads = append(payloads, rows[index].payload())
			}
		case notes.KindItem:
			var rows []itemRow
			if err := query.Find(&rows).Error; err != nil {
				return err
			}
			payloads = make([]any, 0, len(rows))
			for index := range rows {
				payloads = append(payloads, rows[index].payload())
			}
		default:
			return fmt.Errorf("%w: %q", notes.ErrInvalidKind, kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payloads, nil
}

// Get returns one live record of the user.
func (r *Repository) Get(ctx context.Context, userID string, kind notes.Kind, id string) (any, error) {
	if userID == "" {
		return nil, errMissingUser
	}
	row, err := r.findLive(r.db.WithContext(ctx), userID, kind, id)
	if err != nil {
		return nil, err
	}
	return row.payload(), nil
}

// ItemPatch lists the item fields a partial update changes. Nil fields keep their stored value.
type ItemPatch struct {
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	IsCompleted *bool   `json:"is_completed"`
	OrderIndex  *int64  `json:"order_index"`
}

// PatchItem applies a partial update to a live checklist item.
func (r *Repository) PatchItem(ctx context.Context, userID string, id string, patch ItemPatch) (remote.ItemPayload, error) {
	if userID == "" {
		return remote.ItemPayload{}, errMissingUser
	}
	now := r.clock().UTC()
	var item *itemRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.findLive(tx, userID, notes.KindItem, id)
		if err != nil {
			return err
		}
		item = existing.(*itemRow)
		if patch.Title != nil {
			item.Title = *patch.Title
		}
		if patch.Content != nil {
			item.Content = *patch.Content
		}
		if patch.IsCompleted != nil {
			item.IsCompleted = *patch.IsCompleted
		}
		if patch.OrderIndex != nil {
			item.OrderIndex = *patch.OrderIndex
		}
		if err := validateRow(item); err != nil {
			return err
		}
		item.UpdatedAt = now
		return tx.Save(item).Error
	})
	if err != nil {
		return remote.ItemPayload{}, err
	}
	return item.payload().(remote.ItemPayload), nil
}

func (r *Repository) findLive(tx *gorm.DB, userID string, kind notes.Kind, id string) (storedRow, error) {
	row, err := newStoredRow(kind)
	if err != nil {
		return nil, err
	}
	err = tx.Where("id = ? AND user_id = ? AND is_deleted = ?", id, userID, false).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrRecordNotFound, kind, id)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
