package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the synchronized record kinds.
type Kind string

const (
	// KindCollection identifies top-level collections.
	KindCollection Kind = "collection"
	// KindNote identifies notes owned by a collection.
	KindNote Kind = "note"
	// KindItem identifies checklist items owned by a note.
	KindItem Kind = "item"
)

// PushOrder lists kinds parent-first so a child never references an unknown parent.
var PushOrder = []Kind{KindCollection, KindNote, KindItem}

const maxIdentifierLength = 190

var (
	// ErrInvalidID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidID = errors.New("notes: invalid record id")
	// ErrInvalidKind indicates an unknown record kind.
	ErrInvalidKind = errors.New("notes: invalid record kind")
	// ErrInvalidTitle indicates an empty collection name or note/item title.
	ErrInvalidTitle = errors.New("notes: invalid title")
	// ErrMissingParent indicates a note or item without a parent identifier.
	ErrMissingParent = errors.New("notes: missing parent id")
)

// ParseKind validates raw input and returns a Kind.
func ParseKind(rawInput string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case KindCollection:
		return KindCollection, nil
	case KindNote:
		return KindNote, nil
	case KindItem:
		return KindItem, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, rawInput)
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// ParentColumn names the column holding the parent id, empty for collections.
func (k Kind) ParentColumn() string {
	switch k {
	case KindNote:
		return "collection_id"
	case KindItem:
		return "note_id"
	default:
		return ""
	}
}

// RecordID represents a validated record identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// Envelope carries the sync metadata shared by every record kind.
type Envelope struct {
	ID         string     `gorm:"column:id;primaryKey;size:190;not null"`
	OrderIndex int64      `gorm:"column:order_index;not null;default:0"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	IsDeleted  bool       `gorm:"column:is_deleted;not null;default:false"`
	IsDirty    bool       `gorm:"column:is_dirty;not null;default:false;index"`
	SyncedAt   *time.Time `gorm:"column:synced_at"`
	// Revision counts local mutations; push compares it before clearing IsDirty.
	Revision int64 `gorm:"column:revision;not null;default:0"`
}

// Record is implemented by every synchronized entity.
type Record interface {
	Kind() Kind
	Meta() *Envelope
	ParentID() string
	Clone() Record
}

// Collection groups notes.
type Collection struct {
	Envelope    `gorm:"embedded"`
	Name        string `gorm:"column:name;size:255;not null"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Collection) TableName() string {
	return "collections"
}

func (c *Collection) Kind() Kind       { return KindCollection }
func (c *Collection) Meta() *Envelope  { return &c.Envelope }
func (c *Collection) ParentID() string { return "" }
func (c *Collection) Clone() Record {
	copied := *c
	copied.SyncedAt = cloneTime(c.SyncedAt)
	return &copied
}

// Note belongs to a collection and owns checklist items.
type Note struct {
	Envelope     `gorm:"embedded"`
	CollectionID string `gorm:"column:collection_id;size:190;not null;index"`
	Title        string `gorm:"column:title;size:255;not null"`
	Description  string `gorm:"column:description;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

func (n *Note) Kind() Kind       { return KindNote }
func (n *Note) Meta() *Envelope  { return &n.Envelope }
func (n *Note) ParentID() string { return n.CollectionID }
func (n *Note) Clone() Record {
	copied := *n
	copied.SyncedAt = cloneTime(n.SyncedAt)
	return &copied
}

// ChecklistItem belongs to a note. Content may carry formatting markup and is stored verbatim.
type ChecklistItem struct {
	Envelope    `gorm:"embedded"`
	NoteID      string `gorm:"column:note_id;size:190;not null;index"`
	Title       string `gorm:"column:title;size:255;not null"`
	Content     string `gorm:"column:content;type:text;not null;default:''"`
	IsCompleted bool   `gorm:"column:is_completed;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (ChecklistItem) TableName() string {
	return "items"
}

func (i *ChecklistItem) Kind() Kind       { return KindItem }
func (i *ChecklistItem) Meta() *Envelope  { return &i.Envelope }
func (i *ChecklistItem) ParentID() string { return i.NoteID }
func (i *ChecklistItem) Clone() Record {
	copied := *i
	copied.SyncedAt = cloneTime(i.SyncedAt)
	return &copied
}

// NewRecord returns an empty record of the requested kind.
func NewRecord(kind Kind) (Record, error) {
	switch kind {
	case KindCollection:
		return &Collection{}, nil
	case KindNote:
		return &Note{}, nil
	case KindItem:
		return &ChecklistItem{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// Validate checks the identifier, parent and title constraints of a record.
func Validate(record Record) error {
	if _, err := NewRecordID(record.Meta().ID); err != nil {
		return err
	}
	var title string
	switch typed := record.(type) {
	case *Collection:
		title = typed.Name
	case *Note:
		title = typed.Title
	case *ChecklistItem:
		title = typed.Title
	default:
		return fmt.Errorf("%w: %T", ErrInvalidKind, record)
	}
	if record.Kind() != KindCollection {
		if _, err := NewRecordID(record.ParentID()); err != nil {
			return fmt.Errorf("%w: %v", ErrMissingParent, err)
		}
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	return nil
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
