package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"go.uber.org/zap"
)

const (
	EventSyncStarted  = "sync-started"
	EventSyncFinished = "sync-finished"
)

// StatusMessage announces the start or end of a sync cycle. Report is set on EventSyncFinished.
type StatusMessage struct {
	EventType string
	Timestamp time.Time
	Report    *CycleReport
	Err       error
}

// StatusBroadcaster fans sync status messages out to subscribers. Slow subscribers miss messages
// rather than blocking a cycle.
type StatusBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]chan StatusMessage
	nextID      int64
	bufferSize  int
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		subscribers: make(map[int64]chan StatusMessage),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that stays open until ctx is done or the returned cleanup runs.
// The stream is closed once the subscription ends, so a subscriber may range over it.
func (b *StatusBroadcaster) Subscribe(ctx context.Context) (<-chan StatusMessage, func()) {
	stream := make(chan StatusMessage, b.bufferSize)
	done := make(chan struct{})
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = stream
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(stream)
			b.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return stream, cleanup
}

// Publish delivers message to every subscriber with buffer room. Sends happen under the read lock
// so a concurrent cleanup cannot close a stream mid-send.
func (b *StatusBroadcaster) Publish(message StatusMessage) {
	if b == nil || message.EventType == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stream := range b.subscribers {
		select {
		case stream <- message:
		default:
		}
	}
}

// Snapshot describes the local sync state without contacting the remote.
type Snapshot struct {
	Pending    map[notes.Kind]int64
	Checkpoint *time.Time
}

// Inspect reads the pending counts and the checkpoint from the store in one read transaction.
func Inspect(ctx context.Context, localStore store.LocalStore) (Snapshot, error) {
	if localStore == nil {
		return Snapshot{}, newServiceError(opInspect, "missing_store", errMissingStore)
	}
	return inspect(ctx, localStore, noOpLogger)
}

func inspect(ctx context.Context, localStore store.LocalStore, logger *zap.Logger) (Snapshot, error) {
	snapshot := Snapshot{Pending: make(map[notes.Kind]int64, len(notes.PushOrder))}
	err := localStore.View(ctx, func(tx store.Tx) error {
		for _, kind := range notes.PushOrder {
			count, err := tx.CountDirty(kind)
			if err != nil {
				return err
			}
			snapshot.Pending[kind] = count
		}
		checkpoint, err := tx.Checkpoint()
		if err != nil {
			return err
		}
		snapshot.Checkpoint = checkpoint
		return nil
	})
	if err != nil {
		logError(logger, opInspect, "read_failed", err)
		return Snapshot{}, newServiceError(opInspect, "read_failed", err)
	}
	return snapshot, nil
}
