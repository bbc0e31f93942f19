// Package pending implements the PendingTable: the identifier-indexed
// registry of in-flight requests and the one-shot completion slot each
// entry resolves through.
package pending

import (
	"sync"

	"github.com/google/uuid"
)

// Kind enumerates the ways a completion slot can resolve.
type Kind int

const (
	// Delivered means a matching Response arrived and is attached to Outcome.
	Delivered Kind = iota
	// TimedOut means the per-request deadline elapsed first.
	TimedOut
	// Cancelled means the caller's cancellation signal fired first.
	Cancelled
	// Shutdown means the Multiplexer stopped before a response arrived.
	Shutdown
	// TransportFailed means the underlying transport failed for this
	// request (write side) or for the whole channel (read side).
	TransportFailed
)

// Outcome is the terminal value a completion slot resolves to. Exactly one
// Outcome is ever attached to a given Slot.
type Outcome struct {
	Kind     Kind
	Payload  []byte // set when Kind == Delivered
	Cause    error  // set when Kind == TransportFailed
}

// Slot is a single-assignment rendezvous: exactly one resolver wins the
// race to complete it, every other resolver's attempt becomes a no-op. It
// uses an explicit done channel rather than a sync.WaitGroup/sync.Once
// pair so both a blocking wait and a context-aware wait can observe it.
type Slot struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	outcome  Outcome
}

// NewSlot allocates a fresh, unresolved completion slot.
func NewSlot() *Slot {
	return &Slot{done: make(chan struct{})}
}

// Resolve attempts to complete the slot with o. Reports whether this call
// was the winner; a losing call is a no-op and the original outcome stands.
func (s *Slot) Resolve(o Outcome) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved = true
	s.outcome = o
	s.mu.Unlock()
	close(s.done)
	return true
}

// Done returns a channel that is closed once the slot is resolved, for use
// in select statements alongside cancellation and deadline channels.
func (s *Slot) Done() <-chan struct{} { return s.done }

// Outcome returns the resolved outcome. Only valid to call after Done() has
// been observed to be closed.
func (s *Slot) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Entry is a PendingEntry: the per-in-flight-request state shared
// between the calling goroutine (awaits Slot) and the ReadPump, timer wakeup,
// and shutdown path (all race to take and resolve it). The deadline Timer
// itself is owned and released entirely within the Send call that armed it
// (see mux.go); Entry needs no reference to it; once Slot is resolved, the
// blocked Send wakes on Slot.Done() and releases its own Timer regardless
// of who won the race.
type Entry struct {
	ID   uuid.UUID
	Slot *Slot
}
