package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
)

const (
	RealtimeEventRecordsChanged = "records-change"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceServer        = "syncnote-server"
	defaultHeartbeatInterval    = 25 * time.Second
)

// RecordsChanged lists the records of one kind written since a subscriber last drained its feed.
type RecordsChanged struct {
	Kind notes.Kind
	IDs  []string
}

// ChangeFeed tells a user's open event streams which records changed. Changes accumulate per
// subscription until drained, so a slow reader sees them merged instead of losing them.
type ChangeFeed struct {
	mu            sync.Mutex
	subscriptions map[string]map[*Subscription]struct{}
}

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subscriptions: make(map[string]map[*Subscription]struct{})}
}

// Subscription is one open stream of a user. Ready fires when Drain has something to return.
type Subscription struct {
	feed    *ChangeFeed
	userID  string
	ready   chan struct{}
	done    chan struct{}
	once    sync.Once
	pending map[notes.Kind]map[string]struct{}
}

// Subscribe opens a subscription for userID that ends when ctx does or Close is called.
func (f *ChangeFeed) Subscribe(ctx context.Context, userID string) *Subscription {
	subscription := &Subscription{
		feed:    f,
		userID:  userID,
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[notes.Kind]map[string]struct{}),
	}
	f.mu.Lock()
	if f.subscriptions[userID] == nil {
		f.subscriptions[userID] = make(map[*Subscription]struct{})
	}
	f.subscriptions[userID][subscription] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			subscription.Close()
		case <-subscription.done:
		}
	}()
	return subscription
}

// Announce records that the user wrote ids of kind. It never blocks on subscribers.
func (f *ChangeFeed) Announce(userID string, kind notes.Kind, ids ...string) {
	if f == nil || userID == "" || len(ids) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for subscription := range f.subscriptions[userID] {
		changed := subscription.pending[kind]
		if changed == nil {
			changed = make(map[string]struct{}, len(ids))
			subscription.pending[kind] = changed
		}
		for _, id := range ids {
			changed[id] = struct{}{}
		}
		select {
		case subscription.ready <- struct{}{}:
		default:
		}
	}
}

// Ready is signalled after an announcement reaches this subscription.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Drain returns and clears the pending changes, parents before children, ids sorted.
func (s *Subscription) Drain() []RecordsChanged {
	s.feed.mu.Lock()
	pending := s.pending
	s.pending = make(map[notes.Kind]map[string]struct{})
	s.feed.mu.Unlock()

	var changes []RecordsChanged
	for _, kind := range notes.PushOrder {
		changed := pending[kind]
		if len(changed) == 0 {
			continue
		}
		ids := make([]string, 0, len(changed))
		for id := range changed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		changes = append(changes, RecordsChanged{Kind: kind, IDs: ids})
	}
	return changes
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		if subscriptions := s.feed.subscriptions[s.userID]; subscriptions != nil {
			delete(subscriptions, s)
			if len(subscriptions) == 0 {
				delete(s.feed.subscriptions, s.userID)
			}
		}
		s.feed.mu.Unlock()
		close(s.done)
	})
}
