package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxTitleLength = 255

// RowMeta holds the server-side columns shared by every stored record.
type RowMeta struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index"`
	OrderIndex int64     `gorm:"column:order_index;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false;index"`
	IsDeleted  bool      `gorm:"column:is_deleted;not null;default:false"`
}

type categoryRow struct {
	RowMeta     `gorm:"embedded"`
	Name        string `gorm:"column:name;size:255;not null"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
}

func (categoryRow) TableName() string {
	return "server_categories"
}

type noteRow struct {
	RowMeta     `gorm:"embedded"`
	CategoryID  string `gorm:"column:category_id;size:190;not null;index"`
	Title       string `gorm:"column:title;size:255;not null"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
}

func (noteRow) TableName() string {
	return "server_notes"
}

type itemRow struct {
	RowMeta     `gorm:"embedded"`
	NoteID      string `gorm:"column:note_id;size:190;not null;index"`
	Title       string `gorm:"column:title;size:255;not null"`
	Content     string `gorm:"column:content;type:text;not null;default:''"`
	IsCompleted bool   `gorm:"column:is_completed;not null;default:false"`
}

func (itemRow) TableName() string {
	return "server_items"
}

// storedRow is implemented by the three server tables.
type storedRow interface {
	kind() notes.Kind
	meta() *RowMeta
	parentID() string
	setParentID(string)
	title() (field string, value string)
	payload() any
}

func (r *categoryRow) kind() notes.Kind        { return notes.KindCollection }
func (r *categoryRow) meta() *RowMeta          { return &r.RowMeta }
func (r *categoryRow) parentID() string        { return "" }
func (r *categoryRow) setParentID(string)      {}
func (r *categoryRow) title() (string, string) { return "name", r.Name }

func (r *noteRow) kind() notes.Kind        { return notes.KindNote }
func (r *noteRow) meta() *RowMeta          { return &r.RowMeta }
func (r *noteRow) parentID() string        { return r.CategoryID }
func (r *noteRow) setParentID(id string)   { r.CategoryID = id }
func (r *noteRow) title() (string, string) { return "title", r.Title }

func (r *itemRow) kind() notes.Kind        { return notes.KindItem }
func (r *itemRow) meta() *RowMeta          { return &r.RowMeta }
func (r *itemRow) parentID() string        { return r.NoteID }
func (r *itemRow) setParentID(id string)   { r.NoteID = id }
func (r *itemRow) title() (string, string) { return "title", r.Title }

func (r *categoryRow) payload() any {
	return remote.CategoryPayload{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OrderIndex:  r.OrderIndex,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		IsDeleted:   r.IsDeleted,
	}
}

func (r *noteRow) payload() any {
	return remote.NotePayload{
		ID:          r.ID,
		Category:    r.CategoryID,
		Title:       r.Title,
		Description: r.Description,
		OrderIndex:  r.OrderIndex,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		IsDeleted:   r.IsDeleted,
	}
}

func (r *itemRow) payload() any {
	return remote.ItemPayload{
		ID:          r.ID,
		Note:        r.NoteID,
		Title:       r.Title,
		Content:     r.Content,
		IsCompleted: r.IsCompleted,
		OrderIndex:  r.OrderIndex,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		IsDeleted:   r.IsDeleted,
	}
}

func newStoredRow(kind notes.Kind) (storedRow, error) {
	switch kind {
	case notes.KindCollection:
		return &categoryRow{}, nil
	case notes.KindNote:
		return &noteRow{}, nil
	case notes.KindItem:
		return &itemRow{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", notes.ErrInvalidKind, kind)
	}
}

func parentKind(kind notes.Kind) (notes.Kind, bool) {
	switch kind {
	case notes.KindNote:
		return notes.KindCollection, true
	case notes.KindItem:
		return notes.KindNote, true
	default:
		return "", false
	}
}

func parentColumn(kind notes.Kind) string {
	switch kind {
	case notes.KindNote:
		return "category_id"
	case notes.KindItem:
		return "note_id"
	default:
		return ""
	}
}

// validateRow mirrors the field rules of the remote API: the first offending field is reported.
func validateRow(row storedRow) error {
	if _, err := notes.NewRecordID(row.meta().ID); err != nil {
		return &ValidationError{Field: "id", Message: "A valid identifier is required."}
	}
	field, value := row.title()
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "This field may not be blank."}
	}
	if len([]rune(value)) > maxTitleLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLength)}
	}
	return nil
}

// OpenDatabase establishes the server's SQLite connection and creates its schema.
func OpenDatabase(path string, log *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("server database initialized", zap.String("path", path))
	}

	return db, nil
}

// AutoMigrate creates or updates the server tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&categoryRow{}, &noteRow{}, &itemRow{})
}
