// Package readpump implements the ReadPump: the single-consumer task that
// repeatedly reads one response at a time from the transport and routes it
// to the matching PendingTable entry.
package readpump

import (
	"context"

	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/internal/pending"
	"github.com/nullchannel/rpcmux/wire"
)

// Pump is the ReadPump.
type Pump struct {
	transport wire.Transport
	table     *pending.Table
	log       *zap.Logger

	// onFatal is invoked exactly once if the transport read fails for a
	// reason other than the pump's own shutdown context — it signals the
	// Multiplexer to begin transitioning Running -> Stopping.
	onFatal func(cause error)
}

// New constructs a ReadPump reading from transport and resolving entries in
// table. onFatal is called at most once, when a channel-fatal read error
// occurs (not on ordinary shutdown cancellation).
func New(transport wire.Transport, table *pending.Table, log *zap.Logger, onFatal func(cause error)) *Pump {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pump{transport: transport, table: table, log: log, onFatal: onFatal}
}

// Run repeatedly reads responses and routes them until shutdownCtx is done
// or the transport fails fatally.
//
// Graceful drain: Run keeps reading for as long as shutdownCtx is not done,
// whether or not the table has entries, so outstanding responses can still
// be delivered. Once a read fails because shutdownCtx is done (cancelled or
// past its deadline), Run resolves every entry still in the table as
// Shutdown and exits; with an empty table that resolves nothing.
func (p *Pump) Run(shutdownCtx context.Context) {
	for {
		resp, err := p.transport.Read(shutdownCtx)
		if err != nil {
			p.handleReadError(shutdownCtx, err)
			return
		}

		entry, ok := p.table.Take(resp.ID)
		if !ok {
			p.log.Debug("discarding response for an id with no pending entry", zap.String("id", resp.ID.String()))
			continue
		}

		entry.Slot.Resolve(pending.Outcome{Kind: pending.Delivered, Payload: resp.Payload})
	}
}

func (p *Pump) handleReadError(shutdownCtx context.Context, err error) {
	if shutdownCtx.Err() != nil {
		// Ordinary shutdown: resolve whatever is left as Shutdown and exit
		// cleanly. If the table was already empty this is a no-op drain.
		p.resolveAll(pending.Outcome{Kind: pending.Shutdown})
		return
	}

	// Channel-fatal: demultiplexing cannot recover once reads stop. Fail
	// every pending entry and ask the Multiplexer to begin stopping.
	p.log.Error("transport read failed; failing all pending requests", zap.Error(err))
	p.resolveAll(pending.Outcome{Kind: pending.TransportFailed, Cause: err})
	if p.onFatal != nil {
		p.onFatal(err)
	}
}

func (p *Pump) resolveAll(o pending.Outcome) {
	for _, entry := range p.table.Drain() {
		entry.Slot.Resolve(o)
	}
}
