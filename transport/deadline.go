package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// applyDeadline projects ctx's deadline (if any) onto the connection via
// setDeadline, and fails fast if ctx is already done. A net.Conn has no
// native context support, so this is the standard bridge: set a deadline
// derived from ctx before every blocking call.
func applyDeadline(ctx context.Context, setDeadline func(time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		return setDeadline(dl)
	}
	return setDeadline(time.Time{})
}

// watchCancel arms a goroutine that forces the pending blocking call to
// return early by pushing its deadline into the past the moment ctx is
// cancelled mid-call — a plain deadline set before the call can't react
// to a context.Context that carries no deadline of its own. The returned
// func must be deferred by the caller to stop the watcher once the
// blocking call has already returned on its own.
func watchCancel(ctx context.Context, setDeadline func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			setDeadline(time.Unix(0, 1))
		case <-stop:
		}
	}()
	return func() { close(stop) }
}

// classifyIOErr maps a net.Conn I/O error back to ctx cancellation when
// that's what actually caused it (a deadline expiring because ctx was
// done looks identical to a stalled peer at the net.Conn level), so
// callers can distinguish "this call was cancelled" from "the channel is
// broken."
func classifyIOErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
