package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
)

// ResponseEnvelope wraps every remote response body.
type ResponseEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   *string         `json:"message"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// CategoryPayload is the wire form of a Collection.
type CategoryPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OrderIndex  int64     `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsDeleted   bool      `json:"is_deleted"`
}

// NotePayload is the wire form of a Note.
type NotePayload struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OrderIndex  int64     `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsDeleted   bool      `json:"is_deleted"`
}

// ItemPayload is the wire form of a ChecklistItem.
type ItemPayload struct {
	ID          string    `json:"id"`
	Note        string    `json:"note"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	IsCompleted bool      `json:"is_completed"`
	OrderIndex  int64     `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsDeleted   bool      `json:"is_deleted"`
}

// ChangesPayload is the body of GET /sync.
type ChangesPayload struct {
	Categories []CategoryPayload `json:"categories_changed"`
	Notes      []NotePayload     `json:"notes_changed"`
	Items      []ItemPayload     `json:"note_items_changed"`
}

// Delta holds the decoded records of one change fetch.
type Delta struct {
	Collections []*notes.Collection
	Notes       []*notes.Note
	Items       []*notes.ChecklistItem
}

// Records returns the delta entries of one kind.
func (d Delta) Records(kind notes.Kind) []notes.Record {
	var records []notes.Record
	switch kind {
	case notes.KindCollection:
		for _, collection := range d.Collections {
			records = append(records, collection)
		}
	case notes.KindNote:
		for _, note := range d.Notes {
			records = append(records, note)
		}
	case notes.KindItem:
		for _, item := range d.Items {
			records = append(records, item)
		}
	}
	return records
}

// Len returns the number of records across all kinds.
func (d Delta) Len() int {
	return len(d.Collections) + len(d.Notes) + len(d.Items)
}

// EncodeRecord converts a local record into its wire payload. Sync metadata other than the
// tombstone flag never leaves the device.
func EncodeRecord(record notes.Record) (any, error) {
	meta := record.Meta()
	switch typed := record.(type) {
	case *notes.Collection:
		return CategoryPayload{
			ID:          meta.ID,
			Name:        typed.Name,
			Description: typed.Description,
			OrderIndex:  meta.OrderIndex,
			CreatedAt:   meta.CreatedAt.UTC(),
			UpdatedAt:   meta.UpdatedAt.UTC(),
			IsDeleted:   meta.IsDeleted,
		}, nil
	case *notes.Note:
		return NotePayload{
			ID:          meta.ID,
			Category:    typed.CollectionID,
			Title:       typed.Title,
			Description: typed.Description,
			OrderIndex:  meta.OrderIndex,
			CreatedAt:   meta.CreatedAt.UTC(),
			UpdatedAt:   meta.UpdatedAt.UTC(),
			IsDeleted:   meta.IsDeleted,
		}, nil
	case *notes.ChecklistItem:
		return ItemPayload{
			ID:          meta.ID,
			Note:        typed.NoteID,
			Title:       typed.Title,
			Content:     typed.Content,
			IsCompleted: typed.IsCompleted,
			OrderIndex:  meta.OrderIndex,
			CreatedAt:   meta.CreatedAt.UTC(),
			UpdatedAt:   meta.UpdatedAt.UTC(),
			IsDeleted:   meta.IsDeleted,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", notes.ErrInvalidKind, record)
	}
}

// Collection converts the payload into a local record without sync state.
func (p CategoryPayload) Collection() *notes.Collection {
	return &notes.Collection{
		Envelope:    wireEnvelope(p.ID, p.OrderIndex, p.CreatedAt, p.UpdatedAt, p.IsDeleted),
		Name:        p.Name,
		Description: p.Description,
	}
}

// Note converts the payload into a local record without sync state.
func (p NotePayload) Note() *notes.Note {
	return &notes.Note{
		Envelope:     wireEnvelope(p.ID, p.OrderIndex, p.CreatedAt, p.UpdatedAt, p.IsDeleted),
		CollectionID: p.Category,
		Title:        p.Title,
		Description:  p.Description,
	}
}

// Item converts the payload into a local record without sync state.
func (p ItemPayload) Item() *notes.ChecklistItem {
	return &notes.ChecklistItem{
		Envelope:    wireEnvelope(p.ID, p.OrderIndex, p.CreatedAt, p.UpdatedAt, p.IsDeleted),
		NoteID:      p.Note,
		Title:       p.Title,
		Content:     p.Content,
		IsCompleted: p.IsCompleted,
	}
}

// Delta converts the payload into local records.
func (p ChangesPayload) Delta() Delta {
	delta := Delta{
		Collections: make([]*notes.Collection, 0, len(p.Categories)),
		Notes:       make([]*notes.Note, 0, len(p.Notes)),
		Items:       make([]*notes.ChecklistItem, 0, len(p.Items)),
	}
	for _, category := range p.Categories {
		delta.Collections = append(delta.Collections, category.Collection())
	}
	for _, note := range p.Notes {
		delta.Notes = append(delta.Notes, note.Note())
	}
	for _, item := range p.Items {
		delta.Items = append(delta.Items, item.Item())
	}
	return delta
}

func wireEnvelope(id string, orderIndex int64, createdAt, updatedAt time.Time, isDeleted bool) notes.Envelope {
	return notes.Envelope{
		ID:         id,
		OrderIndex: orderIndex,
		CreatedAt:  createdAt.UTC(),
		UpdatedAt:  updatedAt.UTC(),
		IsDeleted:  isDeleted,
	}
}

// CreatePath returns the collection endpoint a new record is posted to.
func CreatePath(record notes.Record) (string, error) {
	switch record.Kind() {
	case notes.KindCollection:
		return "/categories", nil
	case notes.KindNote:
		return "/categories/" + url.PathEscape(record.ParentID()) + "/notes", nil
	case notes.KindItem:
		return "/notes/" + url.PathEscape(record.ParentID()) + "/items", nil
	default:
		return "", fmt.Errorf("%w: %q", notes.ErrInvalidKind, record.Kind())
	}
}

// ResourcePath returns the endpoint addressing one existing record.
func ResourcePath(kind notes.Kind, id string) (string, error) {
	switch kind {
	case notes.KindCollection:
		return "/categories/" + url.PathEscape(id), nil
	case notes.KindNote:
		return "/notes/" + url.PathEscape(id), nil
	case notes.KindItem:
		return "/items/" + url.PathEscape(id), nil
	default:
		return "", fmt.Errorf("%w: %q", notes.ErrInvalidKind, kind)
	}
}
