package writepump

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/internal/pending"
	"github.com/nullchannel/rpcmux/wire"
)

type fakeTransport struct {
	mu       sync.Mutex
	written  []wire.Request
	failWith map[uuid.UUID]error
}

func (f *fakeTransport) Read(ctx context.Context) (wire.Response, error) {
	<-ctx.Done()
	return wire.Response{}, ctx.Err()
}

func (f *fakeTransport) Write(ctx context.Context, req wire.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[req.ID]; ok {
		return err
	}
	f.written = append(f.written, req)
	return nil
}

func TestWritePumpDrainsUntilQueueClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	table := pending.New()
	queue := make(chan wire.Request, 4)

	pump := New(queue, transport, table, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		queue <- wire.Request{ID: id, Payload: []byte("x")}
	}
	close(queue)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after queue closed and drained")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.written, len(ids))
}

func TestWritePumpBulkheadsAFailingWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	failID := uuid.New()
	okID := uuid.New()

	transport := &fakeTransport{failWith: map[uuid.UUID]error{failID: errors.New("broken pipe")}}
	table := pending.New()

	failEntry := &pending.Entry{ID: failID, Slot: pending.NewSlot()}
	require.True(t, table.Insert(failID, failEntry))

	queue := make(chan wire.Request, 2)
	pump := New(queue, transport, table, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()

	queue <- wire.Request{ID: failID, Payload: []byte("x")}
	queue <- wire.Request{ID: okID, Payload: []byte("y")}
	close(queue)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after queue closed and drained")
	}

	<-failEntry.Slot.Done()
	outcome := failEntry.Slot.Outcome()
	require.Equal(t, pending.TransportFailed, outcome.Kind)
	require.Error(t, outcome.Cause)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.written, 1)
	require.Equal(t, okID, transport.written[0].ID)
}
