// Package writepump implements the WritePump: the single-consumer task
// that drains the submission queue and hands requests to the transport in
// submission order, applying the bulkhead rule: a single bad request must
// never tear the pump down.
package writepump

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/internal/pending"
	"github.com/nullchannel/rpcmux/wire"
)

// Failer removes the PendingEntry for a request id whose write failed, if
// the entry is still present, so the WritePump can resolve it with a
// transport failure outcome. The WritePump depends on this narrow interface
// rather than the full *pending.Table so it cannot reach into unrelated
// table operations.
type Failer interface {
	Take(id uuid.UUID) (*pending.Entry, bool)
}

// Pump is the WritePump. It owns no state beyond what it needs to drain
// queue in order; PendingTable and Transport are borrowed.
type Pump struct {
	queue     <-chan wire.Request
	transport wire.Transport
	pending   Failer
	log       *zap.Logger
}

// New constructs a WritePump draining queue, writing through transport, and
// resolving write failures against pending.
func New(queue <-chan wire.Request, transport wire.Transport, pending Failer, log *zap.Logger) *Pump {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pump{queue: queue, transport: transport, pending: pending, log: log}
}

// Run drains queue until it is closed and emptied, or shutdownCtx is done.
// For each request it invokes transport.Write; a write failure resolves
// that request's entry with TransportFailed and the loop continues — the
// bulkhead rule.
func (p *Pump) Run(shutdownCtx context.Context) {
	for {
		select {
		case req, ok := <-p.queue:
			if !ok {
				return
			}
			p.writeOne(shutdownCtx, req)
		case <-shutdownCtx.Done():
			return
		}
	}
}

func (p *Pump) writeOne(ctx context.Context, req wire.Request) {
	err := p.transport.Write(ctx, req)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutdown raced the write; the request's entry is handled by the
		// shutdown path, not by us.
		return
	}

	entry, ok := p.pending.Take(req.ID)
	if !ok {
		// Already resolved by a timeout, cancellation, or the ReadPump.
		p.log.Debug("write failed for a request no longer pending", zap.String("id", req.ID.String()), zap.Error(err))
		return
	}

	p.log.Warn("write failed for request; resolving with transport failure",
		zap.String("id", req.ID.String()), zap.Error(err))

	entry.Slot.Resolve(pending.Outcome{Kind: pending.TransportFailed, Cause: err})
}
