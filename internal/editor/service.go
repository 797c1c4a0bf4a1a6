// Package editor implements the local mutation API. Every operation is one LocalStore
// transaction that records the change through the change tracker and keeps sibling order dense.
package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/ordering"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("local store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrParentNotFound indicates that the parent of a new note or item is absent or deleted.
	ErrParentNotFound = errors.New("editor: parent not found")
	// ErrRecordDeleted indicates an edit of a record that is already a tombstone.
	ErrRecordDeleted = errors.New("editor: record is deleted")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "editor.service.new"
	opCreate     = "editor.create"
	opUpdate     = "editor.update"
	opMove       = "editor.move"
	opReorder    = "editor.reorder"
	opDelete     = "editor.delete"
	opList       = "editor.list"
	opGet        = "editor.get"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Placement selects where a new record lands among its siblings.
type Placement int

const (
	// PlacementPrepend puts the record before every existing sibling using a provisional index.
	PlacementPrepend Placement = iota
	// PlacementAppend puts the record after every existing sibling.
	PlacementAppend
)

type ServiceConfig struct {
	Store      store.LocalStore
	Clock      func() time.Time
	IDProvider notes.IDProvider
	Allocator  *ordering.Allocator
	Logger     *zap.Logger
}

type Service struct {
	store      store.LocalStore
	clock      func() time.Time
	idProvider notes.IDProvider
	allocator  *ordering.Allocator
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	allocator := cfg.Allocator
	if allocator == nil {
		allocator = ordering.NewAllocator(clock)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		allocator:  allocator,
		logger:     logger,
	}, nil
}

type CollectionInput struct {
	Name        string
	Description string
	Placement   Placement
}

type NoteInput struct {
	CollectionID string
	Title        string
	Description  string
	Placement    Placement
}

type ItemInput struct {
	NoteID      string
	Title       string
	Content     string
	IsCompleted bool
	Placement   Placement
}

// CollectionPatch lists the collection fields to change; nil fields are left alone.
type CollectionPatch struct {
	Name        *string
	Description *string
}

type NotePatch struct {
	Title       *string
	Description *string
}

type ItemPatch struct {
	Title       *string
	Content     *string
	IsCompleted *bool
}

func (s *Service) CreateCollection(ctx context.Context, input CollectionInput) (*notes.Collection, error) {
	collection := &notes.Collection{Name: input.Name, Description: input.Description}
	if err := s.create(ctx, collection, input.Placement); err != nil {
		return nil, err
	}
	return collection, nil
}

func (s *Service) CreateNote(ctx context.Context, input NoteInput) (*notes.Note, error) {
	note := &notes.Note{CollectionID: input.CollectionID, Title: input.Title, Description: input.Description}
	if err := s.create(ctx, note, input.Placement); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) CreateItem(ctx context.Context, input ItemInput) (*notes.ChecklistItem, error) {
	item := &notes.ChecklistItem{
		NoteID:      input.NoteID,
		Title:       input.Title,
		Content:     input.Content,
		IsCompleted: input.IsCompleted,
	}
	if err := s.create(ctx, item, input.Placement); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) create(ctx context.Context, record notes.Record, placement Placement) error {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("kind", record.Kind().String()))
		return newServiceError(opCreate, "id_generation_failed", err)
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		if err := requireParent(tx, record); err != nil {
			return err
		}
		siblings, err := tx.ListChildren(record.Kind(), record.ParentID())
		if err != nil {
			return err
		}
		orderIndex := s.allocator.Provisional(siblings)
		if placement == PlacementAppend {
			orderIndex = s.allocator.Append(siblings)
		}
		notes.Stamp(record, id, orderIndex, s.clock())
		return tx.Put(record)
	})
	if err != nil {
		reason := classify(err)
		s.logError(opCreate, reason, err,
			zap.String("kind", record.Kind().String()),
			zap.String("id", id.String()))
		return newServiceError(opCreate, reason, err)
	}
	return nil
}

func requireParent(tx store.Tx, record notes.Record) error {
	var parentKind notes.Kind
	switch record.Kind() {
	case notes.KindNote:
		parentKind = notes.KindCollection
	case notes.KindItem:
		parentKind = notes.KindNote
	default:
		return nil
	}
	if _, err := notes.NewRecordID(record.ParentID()); err != nil {
		return fmt.Errorf("%w: %v", notes.ErrMissingParent, err)
	}
	parent, err := tx.Get(parentKind, record.ParentID())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrParentNotFound, parentKind, record.ParentID())
	}
	if err != nil {
		return err
	}
	if parent.Meta().IsDeleted {
		return fmt.Errorf("%w: %s %s is deleted", ErrParentNotFound, parentKind, record.ParentID())
	}
	return nil
}

func (s *Service) UpdateCollection(ctx context.Context, id string, patch CollectionPatch) (*notes.Collection, error) {
	var updated *notes.Collection
	err := s.mutate(ctx, notes.KindCollection, id, func(record notes.Record) {
		collection := record.(*notes.Collection)
		if patch.Name != nil {
			collection.Name = *patch.Name
		}
		if patch.Description != nil {
			collection.Description = *patch.Description
		}
		updated = collection
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) UpdateNote(ctx context.Context, id string, patch NotePatch) (*notes.Note, error) {
	var updated *notes.Note
	err := s.mutate(ctx, notes.KindNote, id, func(record notes.Record) {
		note := record.(*notes.Note)
		if patch.Title != nil {
			note.Title = *patch.Title
		}
		if patch.Description != nil {
			note.Description = *patch.Description
		}
		updated = note
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, patch ItemPatch) (*notes.ChecklistItem, error) {
	var updated *notes.ChecklistItem
	err := s.mutate(ctx, notes.KindItem, id, func(record notes.Record) {
		item := record.(*notes.ChecklistItem)
		if patch.Title != nil {
			item.Title = *patch.Title
		}
		if patch.Content != nil {
			item.Content = *patch.Content
		}
		if patch.IsCompleted != nil {
			item.IsCompleted = *patch.IsCompleted
		}
		updated = item
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) mutate(ctx context.Context, kind notes.Kind, id string, apply func(notes.Record)) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		record, err := liveRecord(tx, kind, id)
		if err != nil {
			return err
		}
		apply(record)
		notes.MarkChanged(record, s.clock())
		return tx.Put(record)
	})
	if err != nil {
		reason := classify(err)
		s.logError(opUpdate, reason, err, zap.String("kind", kind.String()), zap.String("id", id))
		return newServiceError(opUpdate, reason, err)
	}
	return nil
}

// Move relocates the record to position among its live siblings and renumbers them densely.
func (s *Service) Move(ctx context.Context, kind notes.Kind, id string, position int) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		record, err := liveRecord(tx, kind, id)
		if err != nil {
			return err
		}
		siblings, err := tx.ListChildren(kind, record.ParentID())
		if err != nil {
			return err
		}
		ordering.Sort(siblings)
		order := ordering.IDs(siblings)
		from := indexOf(order, id)
		reordered, err := ordering.Move(order, from, position)
		if err != nil {
			return err
		}
		_, err = s.allocator.Apply(tx, kind, record.ParentID(), reordered, s.clock())
		return err
	})
	if err != nil {
		reason := classify(err)
		s.logError(opMove, reason, err,
			zap.String("kind", kind.String()),
			zap.String("id", id),
			zap.Int("position", position))
		return newServiceError(opMove, reason, err)
	}
	return nil
}

// Reorder assigns the given order to every live sibling under parentID. parentID is ignored for
// collections.
func (s *Service) Reorder(ctx context.Context, kind notes.Kind, parentID string, ids []string) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		_, err := s.allocator.Apply(tx, kind, parentID, ids, s.clock())
		return err
	})
	if err != nil {
		reason := classify(err)
		s.logError(opReorder, reason, err, zap.String("kind", kind.String()), zap.String("parent_id", parentID))
		return newServiceError(opReorder, reason, err)
	}
	return nil
}

// Delete turns the record into a dirty tombstone and closes the gap it leaves among its siblings.
// Deleting a tombstone again is a no-op.
func (s *Service) Delete(ctx context.Context, kind notes.Kind, id string) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		record, err := tx.Get(kind, id)
		if err != nil {
			return err
		}
		if record.Meta().IsDeleted {
			return nil
		}
		now := s.clock()
		record.Meta().IsDeleted = true
		notes.MarkChanged(record, now)
		if err := tx.Put(record); err != nil {
			return err
		}
		_, err = s.allocator.Normalize(tx, kind, record.ParentID(), now)
		return err
	})
	if err != nil {
		reason := classify(err)
		s.logError(opDelete, reason, err, zap.String("kind", kind.String()), zap.String("id", id))
		return newServiceError(opDelete, reason, err)
	}
	return nil
}

// List returns the live children of parentID in effective order.
func (s *Service) List(ctx context.Context, kind notes.Kind, parentID string) ([]notes.Record, error) {
	var records []notes.Record
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		records, err = tx.ListChildren(kind, parentID)
		return err
	})
	if err != nil {
		reason := classify(err)
		s.logError(opList, reason, err, zap.String("kind", kind.String()), zap.String("parent_id", parentID))
		return nil, newServiceError(opList, reason, err)
	}
	ordering.Sort(records)
	return records, nil
}

// Get returns one row, tombstones included.
func (s *Service) Get(ctx context.Context, kind notes.Kind, id string) (notes.Record, error) {
	var record notes.Record
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		record, err = tx.Get(kind, id)
		return err
	})
	if err != nil {
		reason := classify(err)
		if reason != "not_found" {
			s.logError(opGet, reason, err, zap.String("kind", kind.String()), zap.String("id", id))
		}
		return nil, newServiceError(opGet, reason, err)
	}
	return record, nil
}

func liveRecord(tx store.Tx, kind notes.Kind, id string) (notes.Record, error) {
	record, err := tx.Get(kind, id)
	if err != nil {
		return nil, err
	}
	if record.Meta().IsDeleted {
		return nil, fmt.Errorf("%w: %s %s", ErrRecordDeleted, kind, id)
	}
	return record, nil
}

func indexOf(order []string, id string) int {
	for index, candidate := range order {
		if candidate == id {
			return index
		}
	}
	return -1
}

func classify(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrParentNotFound):
		return "parent_not_found"
	case errors.Is(err, ErrRecordDeleted):
		return "record_deleted"
	case errors.Is(err, ordering.ErrOrderMismatch), errors.Is(err, ordering.ErrPositionOutOfRange):
		return "invalid_order"
	case errors.Is(err, notes.ErrInvalidID),
		errors.Is(err, notes.ErrInvalidKind),
		errors.Is(err, notes.ErrInvalidTitle),
		errors.Is(err, notes.ErrMissingParent):
		return "invalid_input"
	default:
		return "store_failed"
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("editor service error", attrs...)
}
