package main

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/transport"
	"github.com/nullchannel/rpcmux/wire"
)

// runEchoServer accepts connections on addr and echoes every framed
// request's payload straight back under the same correlation id, so
// `muxdemo send` has something real to exercise the Multiplexer against.
func runEchoServer(ctx context.Context, addr string) error {
	log := newLogger()
	defer log.Sync()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Info("echo server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serveConn(ctx, conn, log)
	}
}

func serveConn(ctx context.Context, conn net.Conn, log *zap.Logger) {
	defer conn.Close()
	framed := transport.NewFramed(conn)

	for {
		req, err := framed.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug("connection closed", zap.Error(err))
			}
			return
		}

		resp := wire.Request{ID: req.ID, Payload: req.Payload}
		if err := framed.Write(ctx, resp); err != nil {
			log.Debug("echo write failed", zap.Error(err))
			return
		}
	}
}
