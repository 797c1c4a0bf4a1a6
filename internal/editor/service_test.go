package editor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/ordering"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var databaseCounter atomic.Int64

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (notes.RecordID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return notes.RecordID(fmt.Sprintf("id-%03d", p.next)), nil
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestService(t *testing.T, logger *zap.Logger) (*Service, *store.SQLiteStore) {
	t.Helper()
	dsn := fmt.Sprintf("file:editor_test_%d?mode=memory&cache=shared", databaseCounter.Add(1))
	localStore, err := store.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = localStore.Close() })

	clock := &steppingClock{now: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Store:      localStore,
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{},
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, localStore
}

func mustCollection(t *testing.T, service *Service) *notes.Collection {
	t.Helper()
	collection, err := service.CreateCollection(context.Background(), CollectionInput{Name: "Groceries"})
	if err != nil {
		t.Fatalf("create collection failed: %v", err)
	}
	return collection
}

func mustNote(t *testing.T, service *Service, collectionID string) *notes.Note {
	t.Helper()
	note, err := service.CreateNote(context.Background(), NoteInput{CollectionID: collectionID, Title: "Weekly"})
	if err != nil {
		t.Fatalf("create note failed: %v", err)
	}
	return note
}

func listIDs(t *testing.T, service *Service, kind notes.Kind, parentID string) []string {
	t.Helper()
	records, err := service.List(context.Background(), kind, parentID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	return ordering.IDs(records)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := NewService(ServiceConfig{IDProvider: &sequentialIDs{}})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "editor.service.new.missing_store" {
		t.Fatalf("expected missing store error, got %v", err)
	}
}

func TestCreateStampsEnvelope(t *testing.T) {
	service, _ := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)

	item, err := service.CreateItem(context.Background(), ItemInput{NoteID: note.ID, Title: "Milk", Content: "<b>2%</b>"})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}
	if !item.IsDirty || item.SyncedAt != nil || item.IsDeleted {
		t.Fatalf("unexpected envelope for new item: %+v", item.Envelope)
	}
	if item.CreatedAt.IsZero() || !item.CreatedAt.Equal(item.UpdatedAt) {
		t.Fatalf("expected created_at == updated_at on creation, got %v / %v", item.CreatedAt, item.UpdatedAt)
	}
	if item.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", item.Revision)
	}
	if item.OrderIndex >= 0 {
		t.Fatalf("expected provisional index for prepend, got %d", item.OrderIndex)
	}
}

func TestCreateRejectsMissingOrDeletedParent(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := service.CreateNote(ctx, NoteInput{CollectionID: "missing", Title: "Orphan"})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}

	collection := mustCollection(t, service)
	if err := service.Delete(ctx, notes.KindCollection, collection.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, err = service.CreateNote(ctx, NoteInput{CollectionID: collection.ID, Title: "Late"})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "editor.create.parent_not_found" {
		t.Fatalf("expected parent_not_found code, got %v", err)
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	service, _ := newTestService(t, nil)
	_, err := service.CreateCollection(context.Background(), CollectionInput{Name: "   "})
	if !errors.Is(err, notes.ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
}

func TestNewItemPrecedesExistingSiblings(t *testing.T) {
	service, _ := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)
	ctx := context.Background()

	first, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: "A"})
	if err != nil {
		t.Fatalf("create A failed: %v", err)
	}
	second, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: "B"})
	if err != nil {
		t.Fatalf("create B failed: %v", err)
	}

	got := listIDs(t, service, notes.KindItem, note.ID)
	if len(got) != 2 || got[0] != second.ID || got[1] != first.ID {
		t.Fatalf("expected B before A, got %v", got)
	}

	appended, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: "C", Placement: PlacementAppend})
	if err != nil {
		t.Fatalf("create C failed: %v", err)
	}
	got = listIDs(t, service, notes.KindItem, note.ID)
	if got[len(got)-1] != appended.ID {
		t.Fatalf("expected appended item last, got %v", got)
	}
}

func TestNewItemPrecedesSiblingFromClockAheadDevice(t *testing.T) {
	service, localStore := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)
	ctx := context.Background()

	ahead := &steppingClock{now: time.Unix(1700000060, 0).UTC()}
	other, err := NewService(ServiceConfig{
		Store:      localStore,
		Clock:      ahead.Now,
		IDProvider: &sequentialIDs{next: 100},
	})
	if err != nil {
		t.Fatalf("failed to construct second service: %v", err)
	}
	existing, err := other.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: "A"})
	if err != nil {
		t.Fatalf("create A failed: %v", err)
	}
	fresh, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: "B"})
	if err != nil {
		t.Fatalf("create B failed: %v", err)
	}

	if fresh.OrderIndex >= existing.OrderIndex {
		t.Fatalf("expected %d below %d", fresh.OrderIndex, existing.OrderIndex)
	}
	got := listIDs(t, service, notes.KindItem, note.ID)
	if len(got) != 2 || got[0] != fresh.ID {
		t.Fatalf("expected new item first, got %v", got)
	}
}

func TestUpdateMarksChangedAndKeepsSyncedAt(t *testing.T) {
	service, localStore := newTestService(t, nil)
	collection := mustCollection(t, service)
	ctx := context.Background()

	syncedAt := time.Unix(1700000100, 0).UTC()
	err := localStore.Update(ctx, func(tx store.Tx) error {
		_, err := tx.MarkSynced(notes.KindCollection, collection.ID, collection.Revision, syncedAt)
		return err
	})
	if err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}

	name := "Hardware"
	updated, err := service.UpdateCollection(ctx, collection.ID, CollectionPatch{Name: &name})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != "Hardware" || !updated.IsDirty {
		t.Fatalf("unexpected updated collection: %+v", updated)
	}
	if updated.SyncedAt == nil || !updated.SyncedAt.Equal(syncedAt) {
		t.Fatalf("local edits must not touch synced_at, got %v", updated.SyncedAt)
	}
	if updated.Revision != collection.Revision+1 {
		t.Fatalf("expected revision %d, got %d", collection.Revision+1, updated.Revision)
	}
	if !updated.UpdatedAt.After(collection.UpdatedAt) {
		t.Fatalf("expected updated_at to advance")
	}
}

func TestUpdateRejectsTombstone(t *testing.T) {
	service, _ := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)
	ctx := context.Background()

	if err := service.Delete(ctx, notes.KindNote, note.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	title := "revived"
	_, err := service.UpdateNote(ctx, note.ID, NotePatch{Title: &title})
	if !errors.Is(err, ErrRecordDeleted) {
		t.Fatalf("expected ErrRecordDeleted, got %v", err)
	}
	if err := service.Delete(ctx, notes.KindNote, note.ID); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestUpdateLogsMissingRecord(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	service, _ := newTestService(t, zap.New(core))

	done := true
	_, err := service.UpdateItem(context.Background(), "missing", ItemPatch{IsCompleted: &done})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
	entries := logs.FilterField(zap.String("reason", "not_found")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one not_found log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["operation"] != opUpdate {
		t.Fatalf("unexpected operation field: %v", entries[0].ContextMap())
	}
}

func TestReorderScenarioMarksAllMovedSiblingsDirty(t *testing.T) {
	service, localStore := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, title := range []string{"A", "B", "C"} {
		item, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: title, Placement: PlacementAppend})
		if err != nil {
			t.Fatalf("create %s failed: %v", title, err)
		}
		ids = append(ids, item.ID)
	}
	cleanAll(t, localStore, notes.KindItem)

	reordered := []string{ids[2], ids[0], ids[1]}
	if err := service.Reorder(ctx, notes.KindItem, note.ID, reordered); err != nil {
		t.Fatalf("reorder failed: %v", err)
	}

	records, err := service.List(ctx, notes.KindItem, note.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for position, record := range records {
		meta := record.Meta()
		if meta.ID != reordered[position] || meta.OrderIndex != int64(position) {
			t.Fatalf("position %d: got %s at index %d", position, meta.ID, meta.OrderIndex)
		}
		if !meta.IsDirty {
			t.Fatalf("%s should be dirty after reorder", meta.ID)
		}
	}
}

func TestMoveRelocatesWithinSiblings(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()
	ids := make([]string, 0, 4)
	for _, name := range []string{"A", "B", "C", "D"} {
		collection, err := service.CreateCollection(ctx, CollectionInput{Name: name, Placement: PlacementAppend})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		ids = append(ids, collection.ID)
	}

	if err := service.Move(ctx, notes.KindCollection, ids[0], 2); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	got := listIDs(t, service, notes.KindCollection, "")
	expected := []string{ids[1], ids[2], ids[0], ids[3]}
	for index := range expected {
		if got[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, got)
		}
	}

	err := service.Move(ctx, notes.KindCollection, ids[0], 9)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "editor.move.invalid_order" {
		t.Fatalf("expected invalid_order, got %v", err)
	}
}

func TestDeleteClosesGapAmongSiblings(t *testing.T) {
	service, _ := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)
	ctx := context.Background()

	var victim string
	for index, title := range []string{"A", "B", "C"} {
		item, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: title, Placement: PlacementAppend})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if index == 1 {
			victim = item.ID
		}
	}
	if err := service.Delete(ctx, notes.KindItem, victim); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	records, err := service.List(ctx, notes.KindItem, note.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 || !ordering.Dense(records) {
		t.Fatalf("expected two dense survivors, got %d", len(records))
	}
	tombstone, err := service.Get(ctx, notes.KindItem, victim)
	if err != nil {
		t.Fatalf("get tombstone failed: %v", err)
	}
	if !tombstone.Meta().IsDeleted || !tombstone.Meta().IsDirty {
		t.Fatalf("expected a dirty tombstone, got %+v", tombstone.Meta())
	}
}

func TestOrderingStaysDenseAcrossRandomOperations(t *testing.T) {
	service, _ := newTestService(t, nil)
	collection := mustCollection(t, service)
	note := mustNote(t, service, collection.ID)
	ctx := context.Background()
	random := rand.New(rand.NewSource(42))

	for step := 0; step < 60; step++ {
		current := listIDs(t, service, notes.KindItem, note.ID)
		switch operation := random.Intn(4); {
		case operation == 0 || len(current) == 0:
			placement := PlacementAppend
			if random.Intn(2) == 0 {
				placement = PlacementPrepend
			}
			if _, err := service.CreateItem(ctx, ItemInput{NoteID: note.ID, Title: fmt.Sprintf("step %d", step), Placement: placement}); err != nil {
				t.Fatalf("step %d create failed: %v", step, err)
			}
		case operation == 1:
			shuffled := append([]string(nil), current...)
			random.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			if err := service.Reorder(ctx, notes.KindItem, note.ID, shuffled); err != nil {
				t.Fatalf("step %d reorder failed: %v", step, err)
			}
		case operation == 2:
			target := current[random.Intn(len(current))]
			if err := service.Move(ctx, notes.KindItem, target, random.Intn(len(current))); err != nil {
				t.Fatalf("step %d move failed: %v", step, err)
			}
		default:
			target := current[random.Intn(len(current))]
			if err := service.Delete(ctx, notes.KindItem, target); err != nil {
				t.Fatalf("step %d delete failed: %v", step, err)
			}
		}

		records, err := service.List(ctx, notes.KindItem, note.ID)
		if err != nil {
			t.Fatalf("step %d list failed: %v", step, err)
		}
		if !ordering.Dense(records) && !onlyLeadingProvisional(records) {
			t.Fatalf("step %d: order indices are neither dense nor dense behind provisional prepends", step)
		}
	}

	current := listIDs(t, service, notes.KindItem, note.ID)
	if err := service.Reorder(ctx, notes.KindItem, note.ID, current); err != nil {
		t.Fatalf("final reorder failed: %v", err)
	}
	records, err := service.List(ctx, notes.KindItem, note.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !ordering.Dense(records) {
		t.Fatalf("expected dense indices after an explicit reorder")
	}
}

// onlyLeadingProvisional reports whether the sorted records are a run of negative provisional
// indices followed by a dense 0..k-1 tail.
func onlyLeadingProvisional(records []notes.Record) bool {
	expected := int64(0)
	for _, record := range records {
		index := record.Meta().OrderIndex
		if index < 0 {
			if expected != 0 {
				return false
			}
			continue
		}
		if index != expected {
			return false
		}
		expected++
	}
	return true
}

func cleanAll(t *testing.T, localStore *store.SQLiteStore, kind notes.Kind) {
	t.Helper()
	err := localStore.Update(context.Background(), func(tx store.Tx) error {
		dirty, err := tx.ListDirty(kind)
		if err != nil {
			return err
		}
		for _, record := range dirty {
			if _, err := tx.MarkSynced(kind, record.Meta().ID, record.Meta().Revision, time.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("clean failed: %v", err)
	}
}
