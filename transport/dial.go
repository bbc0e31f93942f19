package transport

import (
	"context"
	"net"
)

// Dialer establishes new framed connections to a remote endpoint, so a
// dial-retry loop (see cmd/muxdemo) can be written against an interface
// instead of a concrete net.Dial call.
type Dialer interface {
	Dial(ctx context.Context) (*Framed, error)
}

// NetDialer dials addr over network using net.Dialer and wraps the
// resulting connection in the framing codec.
type NetDialer struct {
	Network string
	Addr    string
	Dialer  net.Dialer
}

// Dial implements Dialer.
func (d *NetDialer) Dial(ctx context.Context) (*Framed, error) {
	conn, err := d.Dialer.DialContext(ctx, d.Network, d.Addr)
	if err != nil {
		return nil, err
	}
	return NewFramed(conn), nil
}
