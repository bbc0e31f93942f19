// Package rpcmux implements a request/response multiplexer over a single
// full-duplex byte channel: a concurrent, thread-safe, cancellable,
// per-request-timed Send built on top of a borrowed TransportAdapter that
// permits one reader and one writer in flight at a time, each direction
// independent of the other.
//
// Start the Multiplexer once, issue Send calls from as many goroutines as
// needed, and Stop it when done:
//
//	m, err := rpcmux.New(transport, rpcmux.Options{RequestTimeout: 5 * time.Second})
//	if err != nil { ... }
//	if err := m.Start(ctx); err != nil { ... }
//	resp, err := m.Send(ctx, rpcmux.Request{ID: uuid.New(), Payload: body})
//	...
//	_ = m.Stop(context.Background())
package rpcmux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/internal/metrics"
	"github.com/nullchannel/rpcmux/internal/pending"
	"github.com/nullchannel/rpcmux/internal/readpump"
	"github.com/nullchannel/rpcmux/internal/writepump"
	"github.com/nullchannel/rpcmux/wire"
)

// Request and Response are aliases of the wire package's shapes, kept as
// the package's public vocabulary so callers never need to import wire
// directly for the common case of Send/Receive.
type (
	Request  = wire.Request
	Response = wire.Response
)

type lifecycle int32

const (
	created lifecycle = iota
	running
	stopping
	stopped
)

func (s lifecycle) String() string {
	switch s {
	case created:
		return "created"
	case running:
		return "running"
	case stopping:
		return "stopping"
	case stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of Multiplexer state.
type Stats struct {
	State        string
	PendingCount int
}

// Multiplexer is the public facade: it owns the PendingTable, the
// submission queue, and the two pump tasks, and implements Start/Send/Stop.
type Multiplexer struct {
	opts      Options
	transport wire.Transport

	table  *pending.Table
	timers *pending.TimerPool
	queue  chan wire.Request

	log *zap.Logger
	met *metrics.Registry

	state   atomic.Int32
	lcMu    sync.Mutex   // serializes Start/Stop transitions
	closeMu sync.RWMutex // guards queue-close races against concurrent Send

	pumpCancel context.CancelFunc
	wpDone     chan struct{}
	rpDone     chan struct{}
}

// New constructs a Multiplexer over transport. It fails with
// ErrInvalidArgument if opts is malformed.
func New(transport wire.Transport, opts Options) (*Multiplexer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Multiplexer{
		opts:      opts,
		transport: transport,
		table:     pending.New(),
		timers:    pending.NewTimerPool(),
		queue:     make(chan wire.Request, opts.SubmissionCapacity),
		log:       opts.Logger,
		met:       opts.Metrics,
	}, nil
}

// Start transitions Created -> Running, launching the WritePump and
// ReadPump. It fails with ErrInvalidLifecycle if the instance is not
// Created. If ctx is done before both pumps are armed, Start fails with
// ErrCancelled and the instance returns to Created with no side effects.
func (m *Multiplexer) Start(ctx context.Context) error {
	m.lcMu.Lock()
	defer m.lcMu.Unlock()

	if lifecycle(m.state.Load()) != created {
		return fmt.Errorf("start: %w", ErrInvalidLifecycle)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	wpReady := make(chan struct{})
	m.wpDone = make(chan struct{})
	wp := writepump.New(m.queue, m.transport, m.table, m.log)
	go func() {
		close(wpReady)
		wp.Run(pumpCtx)
		close(m.wpDone)
	}()

	rpReady := make(chan struct{})
	m.rpDone = make(chan struct{})
	rp := readpump.New(m.transport, m.table, m.log, m.onReadPumpFatal)
	go func() {
		close(rpReady)
		rp.Run(pumpCtx)
		close(m.rpDone)
	}()

	bothReady := make(chan struct{})
	go func() {
		<-wpReady
		<-rpReady
		close(bothReady)
	}()

	select {
	case <-bothReady:
		m.pumpCancel = cancel
		m.state.Store(int32(running))
		return nil
	case <-ctx.Done():
		cancel()
		<-m.wpDone
		<-m.rpDone
		// No entries could have been registered yet (Start holds lcMu and
		// Send requires Running), so rollback is side-effect free.
		return fmt.Errorf("start: %w", ErrCancelled)
	}
}

// onReadPumpFatal is invoked by the ReadPump when the transport fails in a
// way that makes demultiplexing irrecoverable. It moves the instance from
// Running to Stopping so subsequent Send calls fail fast with ErrShutdown
// instead of racing a dead transport.
func (m *Multiplexer) onReadPumpFatal(cause error) {
	m.state.CompareAndSwap(int32(running), int32(stopping))
}

// Send registers req in the PendingTable, enqueues it for the WritePump,
// and blocks until a response is delivered or req is resolved by a
// timeout, cancellation, or shutdown.
func (m *Multiplexer) Send(ctx context.Context, req Request) (Response, error) {
	switch lifecycle(m.state.Load()) {
	case stopped:
		return Response{}, fmt.Errorf("send: %w", ErrInvalidLifecycle)
	case stopping:
		return Response{}, fmt.Errorf("send: %w", ErrShutdown)
	case created:
		return Response{}, fmt.Errorf("send: %w", ErrInvalidLifecycle)
	}

	entry := &pending.Entry{ID: req.ID, Slot: pending.NewSlot()}
	if !m.table.Insert(req.ID, entry) {
		return Response{}, fmt.Errorf("send %s: %w", req.ID, ErrDuplicateRequestID)
	}
	m.met.SetPendingSize(m.table.Len())

	timer := m.timers.Acquire(m.opts.RequestTimeout)
	defer m.timers.Release(timer)

	if resp, err, done := m.enqueue(ctx, req, entry, timer); done {
		return resp, err
	}

	return m.await(ctx, req.ID, entry, timer)
}

// enqueue waits up to the caller's cancel or the request's own deadline,
// whichever fires first, to place req on the submission queue.
func (m *Multiplexer) enqueue(ctx context.Context, req Request, entry *pending.Entry, timer *pending.Timer) (Response, error, bool) {
	m.closeMu.RLock()
	if lifecycle(m.state.Load()) != running {
		m.closeMu.RUnlock()
		m.table.Take(req.ID)
		return Response{}, fmt.Errorf("send: %w", ErrShutdown), true
	}

	select {
	case m.queue <- req:
		m.closeMu.RUnlock()
		m.met.SetQueueDepth(len(m.queue))
		return Response{}, nil, false
	case <-ctx.Done():
		m.closeMu.RUnlock()
		m.resolveIfTaken(req.ID, pending.Outcome{Kind: pending.Cancelled})
		return Response{}, fmt.Errorf("send %s: %w", req.ID, ErrCancelled), true
	case <-timer.C():
		m.closeMu.RUnlock()
		m.resolveIfTaken(req.ID, pending.Outcome{Kind: pending.TimedOut})
		return Response{}, fmt.Errorf("send %s: %w", req.ID, ErrTimedOut), true
	}
}

// await blocks on the completion slot, racing the caller's cancel and the
// request's deadline. Whichever resolver wins the Take race on the
// PendingTable is the one that resolves the slot; the loser simply waits
// on the now-imminent resolution.
func (m *Multiplexer) await(ctx context.Context, id uuid.UUID, entry *pending.Entry, timer *pending.Timer) (Response, error) {
	select {
	case <-entry.Slot.Done():
		return m.outcomeToResult(id, entry.Slot.Outcome())
	case <-ctx.Done():
		if won := m.resolveIfTaken(id, pending.Outcome{Kind: pending.Cancelled}); won {
			return m.outcomeToResult(id, entry.Slot.Outcome())
		}
		<-entry.Slot.Done()
		return m.outcomeToResult(id, entry.Slot.Outcome())
	case <-timer.C():
		if won := m.resolveIfTaken(id, pending.Outcome{Kind: pending.TimedOut}); won {
			return m.outcomeToResult(id, entry.Slot.Outcome())
		}
		<-entry.Slot.Done()
		return m.outcomeToResult(id, entry.Slot.Outcome())
	}
}

// resolveIfTaken attempts to take id out of the PendingTable and, if it
// wins that race, resolves its slot with o. Reports whether it won.
func (m *Multiplexer) resolveIfTaken(id uuid.UUID, o pending.Outcome) bool {
	entry, ok := m.table.Take(id)
	if !ok {
		return false
	}
	return entry.Slot.Resolve(o)
}

func (m *Multiplexer) outcomeToResult(id uuid.UUID, o pending.Outcome) (Response, error) {
	switch o.Kind {
	case pending.Delivered:
		m.met.ObserveOutcome(metrics.OutcomeDelivered)
		return Response{ID: id, Payload: o.Payload}, nil
	case pending.TimedOut:
		m.met.ObserveOutcome(metrics.OutcomeTimedOut)
		return Response{}, fmt.Errorf("send %s: %w", id, ErrTimedOut)
	case pending.Cancelled:
		m.met.ObserveOutcome(metrics.OutcomeCancelled)
		return Response{}, fmt.Errorf("send %s: %w", id, ErrCancelled)
	case pending.Shutdown:
		m.met.ObserveOutcome(metrics.OutcomeShutdown)
		return Response{}, fmt.Errorf("send %s: %w", id, ErrShutdown)
	case pending.TransportFailed:
		m.met.ObserveOutcome(metrics.OutcomeTransportFailed)
		return Response{}, fmt.Errorf("send %s: %w", id, Transport(o.Cause))
	default:
		return Response{}, fmt.Errorf("send %s: unresolved outcome kind %d", id, o.Kind)
	}
}

// Stop transitions Running -> Stopping -> Stopped. It closes the
// submission queue to new submissions, waits for the WritePump to drain
// its backlog, then waits for the PendingTable to empty (graceful path) or
// for ctx to fire (forced path). On the forced path every still-pending
// entry resolves Shutdown and Stop itself fails with ErrCancelled.
func (m *Multiplexer) Stop(ctx context.Context) error {
	m.lcMu.Lock()
	defer m.lcMu.Unlock()

	switch lifecycle(m.state.Load()) {
	case created, stopped:
		return fmt.Errorf("stop: %w", ErrInvalidLifecycle)
	}

	m.closeMu.Lock()
	m.state.Store(int32(stopping))
	close(m.queue)
	m.closeMu.Unlock()

	forced := ctx.Err() != nil

	if !forced {
		select {
		case <-m.wpDone:
		case <-ctx.Done():
			forced = true
		}
	}

	if !forced {
		select {
		case <-m.table.NotifyEmpty():
		case <-ctx.Done():
			forced = true
		}
	}

	m.pumpCancel()
	<-m.rpDone
	<-m.wpDone

	m.state.Store(int32(stopped))

	if forced {
		return fmt.Errorf("stop: %w", ErrCancelled)
	}
	return nil
}

// Stats returns a point-in-time snapshot of the Multiplexer's lifecycle
// state and pending-table size.
func (m *Multiplexer) Stats() Stats {
	return Stats{
		State:        lifecycle(m.state.Load()).String(),
		PendingCount: m.table.Len(),
	}
}
