package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nullchannel/rpcmux/wire"
)

func TestFramedRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	clientFramed := NewFramed(client)
	serverFramed := NewFramed(server)

	id := uuid.New()
	payload := []byte("hello over the wire")

	errCh := make(chan error, 1)
	go func() {
		errCh <- clientFramed.Write(context.Background(), wire.Request{ID: id, Payload: payload})
	}()

	resp, err := serverFramed.Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, id, resp.ID)
	require.Equal(t, payload, resp.Payload)
}

func TestFramedReadHonorsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramed := NewFramed(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, err := serverFramed.Read(ctx)
		require.Error(t, err)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read did not return after context cancellation")
	}
}

func TestFramedRejectsOversizedFrame(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramed := NewFramed(server)

	var header [frameHeaderSize]byte
	// encode a length far beyond MaxFrameSize
	header[0], header[1], header[2], header[3] = 0xff, 0xff, 0xff, 0xff

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := client.Write(header[:])
		writeErrCh <- err
	}()

	_, err := serverFramed.Read(context.Background())
	require.Error(t, err)
	require.NoError(t, <-writeErrCh)
}
