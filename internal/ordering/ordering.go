// Package ordering keeps sibling order_index values dense under a parent.
package ordering

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
)

var (
	// ErrOrderMismatch indicates that a requested order is not a permutation of the live siblings.
	ErrOrderMismatch = errors.New("ordering: order does not match siblings")
	// ErrPositionOutOfRange indicates a move source or target outside the sibling list.
	ErrPositionOutOfRange = errors.New("ordering: position out of range")
)

// Less reports whether a sorts before b among siblings: lower order_index first, then the more
// recently updated record, then the lower id.
func Less(a, b notes.Record) bool {
	left, right := a.Meta(), b.Meta()
	if left.OrderIndex != right.OrderIndex {
		return left.OrderIndex < right.OrderIndex
	}
	if !left.UpdatedAt.Equal(right.UpdatedAt) {
		return left.UpdatedAt.After(right.UpdatedAt)
	}
	return left.ID < right.ID
}

// Sort orders records in place by effective sibling order.
func Sort(records []notes.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}

// IDs returns the record identifiers in slice order.
func IDs(records []notes.Record) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.Meta().ID)
	}
	return ids
}

// Move returns a copy of order with the element at from relocated to position to.
func Move(order []string, from, to int) ([]string, error) {
	if from < 0 || from >= len(order) || to < 0 || to >= len(order) {
		return nil, fmt.Errorf("%w: move %d -> %d of %d", ErrPositionOutOfRange, from, to, len(order))
	}
	moved := order[from]
	result := make([]string, 0, len(order))
	result = append(result, order[:from]...)
	result = append(result, order[from+1:]...)
	result = append(result[:to], append([]string{moved}, result[to:]...)...)
	return result, nil
}

// Dense reports whether the records carry exactly the indices 0..n-1.
func Dense(records []notes.Record) bool {
	seen := make(map[int64]struct{}, len(records))
	for _, record := range records {
		index := record.Meta().OrderIndex
		if index < 0 || index >= int64(len(records)) {
			return false
		}
		if _, duplicate := seen[index]; duplicate {
			return false
		}
		seen[index] = struct{}{}
	}
	return true
}

// Allocator assigns order_index values for new and reordered siblings.
type Allocator struct {
	clock func() time.Time

	mu   sync.Mutex
	last int64
}

// NewAllocator constructs an Allocator. A nil clock defaults to time.Now.
func NewAllocator(clock func() time.Time) *Allocator {
	if clock == nil {
		clock = time.Now
	}
	return &Allocator{clock: clock}
}

// Provisional returns an index smaller than every sibling index and every provisional index issued
// before it, so a new record sorts first without renumbering its siblings. Siblings pulled from a
// device whose clock ran ahead keep the value below their own.
func (a *Allocator) Provisional(siblings []notes.Record) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	value := -a.clock().UnixMilli()
	if value >= 0 {
		value = -1
	}
	if a.last != 0 && value >= a.last {
		value = a.last - 1
	}
	for _, sibling := range siblings {
		if index := sibling.Meta().OrderIndex; value >= index {
			value = index - 1
		}
	}
	a.last = value
	return value
}

// Append returns the index that places a new record after every sibling.
func (a *Allocator) Append(siblings []notes.Record) int64 {
	next := int64(0)
	for _, sibling := range siblings {
		if candidate := sibling.Meta().OrderIndex + 1; candidate > next {
			next = candidate
		}
	}
	return next
}

// Apply assigns order_index = position for the given id order and writes every sibling whose index
// changed through the change tracker. It runs inside the caller's transaction, so the new order is
// committed as one write.
func (a *Allocator) Apply(tx store.Tx, kind notes.Kind, parentID string, order []string, now time.Time) (int, error) {
	siblings, err := tx.ListChildren(kind, parentID)
	if err != nil {
		return 0, err
	}
	if len(order) != len(siblings) {
		return 0, fmt.Errorf("%w: %d ids for %d siblings", ErrOrderMismatch, len(order), len(siblings))
	}

	byID := make(map[string]notes.Record, len(siblings))
	for _, sibling := range siblings {
		byID[sibling.Meta().ID] = sibling
	}

	changed := 0
	for position, id := range order {
		record, ok := byID[id]
		if !ok {
			return 0, fmt.Errorf("%w: unknown or repeated id %s", ErrOrderMismatch, id)
		}
		delete(byID, id)
		if record.Meta().OrderIndex == int64(position) {
			continue
		}
		record.Meta().OrderIndex = int64(position)
		notes.MarkChanged(record, now)
		if err := tx.Put(record); err != nil {
			return 0, err
		}
		changed++
	}
	return changed, nil
}

// Normalize renumbers the live siblings densely in their current effective order.
func (a *Allocator) Normalize(tx store.Tx, kind notes.Kind, parentID string, now time.Time) (int, error) {
	siblings, err := tx.ListChildren(kind, parentID)
	if err != nil {
		return 0, err
	}
	Sort(siblings)
	return a.Apply(tx, kind, parentID, IDs(siblings), now)
}
