// Package transport provides wire.Transport implementations over a raw
// net.Conn: a length-prefixed framing codec carrying the Multiplexer's own
// correlation id ahead of the payload, so request/response matching works
// over any byte stream the Multiplexer is handed.
//
// The frame codec pools its per-frame buffers with bytebufferpool to keep
// them off the garbage collector under sustained throughput.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"github.com/nullchannel/rpcmux/wire"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupted or hostile length prefix forcing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// frameHeaderSize is 4 bytes of big-endian payload length followed by the
// 16 raw bytes of the correlation id.
const frameHeaderSize = 4 + 16

// Framed implements wire.Transport over a net.Conn using a simple
// length-prefixed frame: [4-byte big-endian length][16-byte uuid][payload].
// Exactly one goroutine may call Read at a time; Framed does not serialize
// reads, which is the Multiplexer's job (its ReadPump). Write holds an
// internal mutex while writing, so concurrent Write calls are serialized.
type Framed struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	bufPool bytebufferpool.Pool
}

// NewFramed wraps conn in the length-prefixed framing codec. Framed closes
// conn only when its Close method is called.
func NewFramed(conn net.Conn) *Framed {
	return &Framed{conn: conn, r: bufio.NewReader(conn)}
}

var _ wire.Transport = (*Framed)(nil)

// Read blocks until a full frame is available, ctx is done, or the
// connection fails. It honors ctx cancellation by racing a deadline
// derived from ctx against the underlying read.
func (f *Framed) Read(ctx context.Context) (wire.Response, error) {
	if err := applyDeadline(ctx, f.conn.SetReadDeadline); err != nil {
		return wire.Response{}, err
	}
	defer watchCancel(ctx, f.conn.SetReadDeadline)()

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(f.r, header[:]); err != nil {
		return wire.Response{}, classifyIOErr(ctx, err)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length > MaxFrameSize {
		return wire.Response{}, fmt.Errorf("transport: frame of %d bytes exceeds max %d", length, MaxFrameSize)
	}

	id, err := uuid.FromBytes(header[4:20])
	if err != nil {
		return wire.Response{}, fmt.Errorf("transport: malformed frame id: %w", err)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return wire.Response{}, classifyIOErr(ctx, err)
		}
	}

	return wire.Response{ID: id, Payload: payload}, nil
}

// Write blocks until req has been written in full, ctx is done, or the
// connection fails.
func (f *Framed) Write(ctx context.Context, req wire.Request) error {
	if err := applyDeadline(ctx, f.conn.SetWriteDeadline); err != nil {
		return err
	}
	defer watchCancel(ctx, f.conn.SetWriteDeadline)()

	buf := f.bufPool.Get()
	defer f.bufPool.Put(buf)

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(req.Payload)))
	copy(header[4:20], req.ID[:])
	buf.Write(header[:])
	buf.Write(req.Payload)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.conn.Write(buf.B); err != nil {
		return classifyIOErr(ctx, err)
	}
	return nil
}

// Close releases the underlying connection.
func (f *Framed) Close() error {
	return f.conn.Close()
}
