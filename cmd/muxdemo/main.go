// Command muxdemo is a reference client exercising the Multiplexer over a
// real TCP connection: dial (retrying with backoff while the server cannot
// be reached) and send a handful of echo requests concurrently. A
// connection that drops after the dial succeeded is not re-established;
// the requests still in flight then fail. It exists to give
// the framed transport (package transport) and the Multiplexer something
// to run against outside of tests; it is not part of the multiplexer's
// core contract.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux"
	"github.com/nullchannel/rpcmux/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "muxdemo",
		Short: "exercise the multiplexer over a TCP connection",
	}
	root.AddCommand(newEchoServerCmd(), newSendCmd())
	return root
}

func newEchoServerCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a framed echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEchoServer(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9601", "address to listen on")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		addr    string
		count   int
		timeout time.Duration
		payload string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "connect, start a multiplexer, and send count requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), addr, count, timeout, payload)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9601", "server address to dial")
	cmd.Flags().IntVar(&count, "count", 8, "number of requests to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	cmd.Flags().StringVar(&payload, "payload", "ping", "request payload")
	return cmd
}

func newLogger() *zap.Logger {
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// dialWithBackoff retries the dial with jittered exponential backoff,
// capped at 8 attempts, so a transient listener restart doesn't sink the
// whole demo.
func dialWithBackoff(ctx context.Context, addr string, log *zap.Logger) (*transport.Framed, error) {
	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
	}
	dialer := &transport.NetDialer{Network: "tcp", Addr: addr}

	var lastErr error
	for attempt := 0; attempt < 8; attempt++ {
		conn, err := dialer.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		d := b.Duration()
		log.Warn("dial failed, retrying", zap.String("addr", addr), zap.Error(err), zap.Duration("backoff", d))

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("muxdemo: giving up dialing %s: %w", addr, lastErr)
}

func runSend(ctx context.Context, addr string, count int, timeout time.Duration, payload string) error {
	log := newLogger()
	defer log.Sync()

	conn, err := dialWithBackoff(ctx, addr, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := rpcmux.New(conn, rpcmux.Options{
		RequestTimeout: timeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	errCh := make(chan error, count)
	for i := 0; i < count; i++ {
		go func(i int) {
			resp, err := m.Send(ctx, rpcmux.Request{
				ID:      uuid.New(),
				Payload: []byte(fmt.Sprintf("%s-%d", payload, i)),
			})
			if err != nil {
				errCh <- fmt.Errorf("request %d: %w", i, err)
				return
			}
			log.Info("got response", zap.Int("i", i), zap.ByteString("payload", resp.Payload))
			errCh <- nil
		}(i)
	}

	var firstErr error
	for i := 0; i < count; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		log.Warn("stop did not complete gracefully", zap.Error(err))
	}

	return firstErr
}
