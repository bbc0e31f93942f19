package pending

import (
	"sync"

	"github.com/google/uuid"
)

// Table is the PendingTable: a concurrent map from request
// identifier to Entry, with the "resolve once, remove once" invariant
// enforced by making removal (Take) the single race-decider every resolver
// must win before it is allowed to call Entry.Slot.Resolve.
type Table struct {
	mu           sync.Mutex
	entries      map[uuid.UUID]*Entry
	emptyWaiters []chan struct{}
}

// New returns an empty PendingTable.
func New() *Table {
	return &Table{entries: make(map[uuid.UUID]*Entry)}
}

// NotifyEmpty returns a channel that is closed the next time the table
// becomes empty (or immediately, if it already is). Used by the graceful
// stop path to wait for outstanding responses to drain without polling.
func (t *Table) NotifyEmpty() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{})
	if len(t.entries) == 0 {
		close(ch)
		return ch
	}
	t.emptyWaiters = append(t.emptyWaiters, ch)
	return ch
}

// notifyIfEmptyLocked wakes every registered NotifyEmpty waiter once the
// table has become empty. Must be called with t.mu held.
func (t *Table) notifyIfEmptyLocked() {
	if len(t.entries) != 0 || len(t.emptyWaiters) == 0 {
		return
	}
	for _, ch := range t.emptyWaiters {
		close(ch)
	}
	t.emptyWaiters = nil
}

// Insert registers entry under id. Reports false without mutating the table
// if an entry for id already exists.
func (t *Table) Insert(id uuid.UUID, entry *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return false
	}
	t.entries[id] = entry
	return true
}

// Take atomically removes and returns the entry for id, if present. Every
// resolver (ReadPump on a matching response, the caller's own deadline wake,
// caller cancellation, or forced shutdown) must call Take before resolving
// a slot; only the goroutine that observes ok == true may proceed to
// resolve — every other concurrent caller observes ok == false and becomes
// a no-op.
func (t *Table) Take(id uuid.UUID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	t.notifyIfEmptyLocked()
	return entry, true
}

// Drain removes and returns every entry currently registered, used by the
// forced-shutdown path.
func (t *Table) Drain() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for id, entry := range t.entries {
		out = append(out, entry)
		delete(t.entries, id)
	}
	t.notifyIfEmptyLocked()
	return out
}

// IsEmpty reports whether no entries are currently registered.
func (t *Table) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) == 0
}

// Len reports the number of currently registered entries, used for
// Multiplexer.Stats and metrics gauges.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
