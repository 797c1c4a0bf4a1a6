package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/editor"
	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"go.uber.org/zap"
)

const (
	callCreate = "create"
	callUpdate = "update"
	callDelete = "delete"
	callFetch  = "fetch"
)

type remoteCall struct {
	Op    string
	Kind  notes.Kind
	ID    string
	Title string
}

// fakeRemote mimics the reference server: it stamps updated_at on every write, soft-deletes and
// answers change fetches with tombstones included.
type fakeRemote struct {
	clock func() time.Time

	mu    sync.Mutex
	rows  map[notes.Kind]map[string]notes.Record
	calls []remoteCall

	// before runs ahead of the effect; an error rejects the call.
	before func(remoteCall) error
	// after runs once the effect is applied; an error simulates a lost acknowledgment.
	after func(remoteCall) error
}

func newFakeRemote(clock func() time.Time) *fakeRemote {
	return &fakeRemote{
		clock: clock,
		rows: map[notes.Kind]map[string]notes.Record{
			notes.KindCollection: {},
			notes.KindNote:       {},
			notes.KindItem:       {},
		},
	}
}

func titleOf(record notes.Record) string {
	switch typed := record.(type) {
	case *notes.Collection:
		return typed.Name
	case *notes.Note:
		return typed.Title
	case *notes.ChecklistItem:
		return typed.Title
	default:
		return ""
	}
}

func (f *fakeRemote) invoke(call remoteCall, effect func() error) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	before, after := f.before, f.after
	f.mu.Unlock()

	if before != nil {
		if err := before(call); err != nil {
			return err
		}
	}
	f.mu.Lock()
	err := effect()
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if after != nil {
		return after(call)
	}
	return nil
}

func (f *fakeRemote) serverCopy(record notes.Record) notes.Record {
	copied := record.Clone()
	meta := copied.Meta()
	meta.IsDirty = false
	meta.SyncedAt = nil
	meta.Revision = 0
	meta.UpdatedAt = f.clock().UTC()
	return copied
}

func (f *fakeRemote) Create(ctx context.Context, record notes.Record) error {
	call := remoteCall{Op: callCreate, Kind: record.Kind(), ID: record.Meta().ID, Title: titleOf(record)}
	return f.invoke(call, func() error {
		if _, exists := f.rows[record.Kind()][record.Meta().ID]; exists {
			return fmt.Errorf("%w: %s", remote.ErrAlreadyExists, record.Meta().ID)
		}
		f.rows[record.Kind()][record.Meta().ID] = f.serverCopy(record)
		return nil
	})
}

func (f *fakeRemote) Update(ctx context.Context, record notes.Record) error {
	call := remoteCall{Op: callUpdate, Kind: record.Kind(), ID: record.Meta().ID, Title: titleOf(record)}
	return f.invoke(call, func() error {
		existing, exists := f.rows[record.Kind()][record.Meta().ID]
		if !exists || existing.Meta().IsDeleted {
			return fmt.Errorf("%w: %s", remote.ErrNotFound, record.Meta().ID)
		}
		f.rows[record.Kind()][record.Meta().ID] = f.serverCopy(record)
		return nil
	})
}

func (f *fakeRemote) Delete(ctx context.Context, kind notes.Kind, id string) error {
	return f.invoke(remoteCall{Op: callDelete, Kind: kind, ID: id}, func() error {
		existing, exists := f.rows[kind][id]
		if !exists || existing.Meta().IsDeleted {
			return fmt.Errorf("%w: %s", remote.ErrNotFound, id)
		}
		existing.Meta().IsDeleted = true
		existing.Meta().UpdatedAt = f.clock().UTC()
		return nil
	})
}

func (f *fakeRemote) FetchChanges(ctx context.Context, since *time.Time) (remote.Delta, error) {
	var delta remote.Delta
	err := f.invoke(remoteCall{Op: callFetch}, func() error {
		for _, kind := range notes.PushOrder {
			for _, row := range f.rows[kind] {
				if since != nil && !row.Meta().UpdatedAt.After(*since) {
					continue
				}
				switch typed := row.Clone().(type) {
				case *notes.Collection:
					delta.Collections = append(delta.Collections, typed)
				case *notes.Note:
					delta.Notes = append(delta.Notes, typed)
				case *notes.ChecklistItem:
					delta.Items = append(delta.Items, typed)
				}
			}
		}
		return nil
	})
	return delta, err
}

// serverEdit changes a row as if another device had written it.
func (f *fakeRemote) serverEdit(kind notes.Kind, id string, edit func(notes.Record)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[kind][id]
	edit(row)
	row.Meta().UpdatedAt = f.clock().UTC()
}

func (f *fakeRemote) row(kind notes.Kind, id string) (notes.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[kind][id]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

func (f *fakeRemote) count(kind notes.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[kind])
}

func (f *fakeRemote) callsOf(op string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []remoteCall
	for _, call := range f.calls {
		if call.Op == op {
			matched = append(matched, call)
		}
	}
	return matched
}

func (f *fakeRemote) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
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

type sequentialIDs struct {
	next atomic.Int64
}

func (p *sequentialIDs) NewID() (notes.RecordID, error) {
	return notes.RecordID(fmt.Sprintf("id-%03d", p.next.Add(1))), nil
}

var databaseCounter atomic.Int64

type harness struct {
	store       *store.SQLiteStore
	editor      *editor.Service
	remote      *fakeRemote
	coordinator *Coordinator
	clock       *steppingClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:syncengine_test_%d?mode=memory&cache=shared", databaseCounter.Add(1))
	localStore, err := store.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = localStore.Close() })

	clock := &steppingClock{now: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	fake := newFakeRemote(clock.Now)
	service, err := editor.NewService(editor.ServiceConfig{
		Store:      localStore,
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to construct editor: %v", err)
	}
	coordinator, err := NewCoordinator(CoordinatorConfig{Store: localStore, Remote: fake, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct coordinator: %v", err)
	}
	return &harness{store: localStore, editor: service, remote: fake, coordinator: coordinator, clock: clock}
}

func (h *harness) get(t *testing.T, kind notes.Kind, id string) notes.Record {
	t.Helper()
	var record notes.Record
	err := h.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		record, err = tx.Get(kind, id)
		return err
	})
	if err != nil {
		t.Fatalf("get %s %s failed: %v", kind, id, err)
	}
	return record
}

func (h *harness) exists(t *testing.T, kind notes.Kind, id string) bool {
	t.Helper()
	var found bool
	err := h.store.View(context.Background(), func(tx store.Tx) error {
		_, err := tx.Get(kind, id)
		if err == nil {
			found = true
			return nil
		}
		if isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	return found
}

func (h *harness) pusher(t *testing.T) *Pusher {
	t.Helper()
	pusher, err := NewPusher(PusherConfig{Store: h.store, Remote: h.remote, Clock: h.clock.Now})
	if err != nil {
		t.Fatalf("failed to construct pusher: %v", err)
	}
	return pusher
}

func (h *harness) puller(t *testing.T, localStore store.LocalStore) *Puller {
	t.Helper()
	puller, err := NewPuller(PullerConfig{Store: localStore, Remote: h.remote, Clock: h.clock.Now})
	if err != nil {
		t.Fatalf("failed to construct puller: %v", err)
	}
	return puller
}

func (h *harness) seedNote(t *testing.T) (*notes.Collection, *notes.Note) {
	t.Helper()
	ctx := context.Background()
	collection, err := h.editor.CreateCollection(ctx, editor.CollectionInput{Name: "Home"})
	if err != nil {
		t.Fatalf("create collection failed: %v", err)
	}
	note, err := h.editor.CreateNote(ctx, editor.NoteInput{CollectionID: collection.ID, Title: "Chores"})
	if err != nil {
		t.Fatalf("create note failed: %v", err)
	}
	return collection, note
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
