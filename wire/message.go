// Package wire holds the request/response shapes and the TransportAdapter
// collaborator interface the multiplexer core and its pumps share. It has
// no dependency on the mux package itself so both the public API
// (package rpcmux, via type aliases) and the internal pumps can depend on
// it without an import cycle.
package wire

import (
	"context"

	"github.com/google/uuid"
)

// Request is an opaque record carrying a unique identifier and an arbitrary
// payload. Uniqueness of ID among concurrently in-flight requests on a given
// Multiplexer is a caller precondition; the core never mints ids.
type Request struct {
	ID      uuid.UUID
	Payload []byte
}

// Response is an opaque record carrying the identifier of the request it
// answers. The core performs no validation on Payload beyond matching ID.
type Response struct {
	ID      uuid.UUID
	Payload []byte
}

// Transport is the borrowed collaborator that moves bytes across the wire.
// Read and Write may proceed concurrently with each other, but the
// Multiplexer never calls either one from more than one goroutine at a
// time: Write is driven solely by the WritePump, Read solely by the
// ReadPump.
type Transport interface {
	// Read blocks for at most one response. It fails with ctx's error on
	// cancellation, or with a transport-specific error otherwise.
	Read(ctx context.Context) (Response, error)

	// Write blocks until req has been handed off to the wire, or fails.
	// A write failure for one request must not corrupt the transport for
	// subsequent writes: writes are atomic from the caller's perspective.
	Write(ctx context.Context, req Request) error
}
