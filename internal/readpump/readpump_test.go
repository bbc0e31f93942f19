package readpump

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/internal/pending"
	"github.com/nullchannel/rpcmux/wire"
)

type scriptedTransport struct {
	responses []wire.Response
	failWith  error
	i         int
	readCh    chan struct{}
}

func (s *scriptedTransport) Read(ctx context.Context) (wire.Response, error) {
	if s.i < len(s.responses) {
		resp := s.responses[s.i]
		s.i++
		if s.readCh != nil {
			s.readCh <- struct{}{}
		}
		return resp, nil
	}
	if s.failWith != nil {
		return wire.Response{}, s.failWith
	}
	if s.readCh != nil {
		s.readCh <- struct{}{}
	}
	<-ctx.Done()
	return wire.Response{}, ctx.Err()
}

func (s *scriptedTransport) Write(ctx context.Context, req wire.Request) error {
	return nil
}

func TestReadPumpResolvesMatchingEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	id := uuid.New()
	transport := &scriptedTransport{responses: []wire.Response{{ID: id, Payload: []byte("hi")}}}
	table := pending.New()
	entry := &pending.Entry{ID: id, Slot: pending.NewSlot()}
	require.True(t, table.Insert(id, entry))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pump := New(transport, table, zap.NewNop(), nil)
	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()

	select {
	case <-entry.Slot.Done():
	case <-time.After(time.Second):
		t.Fatal("entry was never resolved")
	}
	require.Equal(t, pending.Delivered, entry.Slot.Outcome().Kind)
	require.Equal(t, []byte("hi"), entry.Slot.Outcome().Payload)

	cancel()
	<-done
}

func TestReadPumpDiscardsResponseWithNoPendingEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	orphan := uuid.New()
	readCh := make(chan struct{}, 2)
	transport := &scriptedTransport{
		responses: []wire.Response{{ID: orphan, Payload: []byte("nobody home")}},
		readCh:    readCh,
	}
	table := pending.New()

	ctx, cancel := context.WithCancel(context.Background())
	pump := New(transport, table, zap.NewNop(), nil)
	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()

	<-readCh // the orphan response was read and discarded
	<-readCh // pump moved on to its next read without dying
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after cancellation")
	}
}

func TestReadPumpFailsAllPendingOnChannelFatalError(t *testing.T) {
	defer goleak.VerifyNone(t)

	idA, idB := uuid.New(), uuid.New()
	cause := errors.New("connection reset")
	transport := &scriptedTransport{failWith: cause}
	table := pending.New()

	entryA := &pending.Entry{ID: idA, Slot: pending.NewSlot()}
	entryB := &pending.Entry{ID: idB, Slot: pending.NewSlot()}
	require.True(t, table.Insert(idA, entryA))
	require.True(t, table.Insert(idB, entryB))

	var fatalCause error
	onFatal := func(c error) { fatalCause = c }

	ctx := context.Background() // never cancelled by us; failWith fires instead
	pump := New(transport, table, zap.NewNop(), onFatal)

	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after a channel-fatal read error")
	}

	require.Equal(t, pending.TransportFailed, entryA.Slot.Outcome().Kind)
	require.Equal(t, pending.TransportFailed, entryB.Slot.Outcome().Kind)
	require.ErrorIs(t, fatalCause, cause)
	require.True(t, table.IsEmpty())
}

func TestReadPumpResolvesShutdownOnOrdinaryCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	id := uuid.New()
	transport := &scriptedTransport{}
	table := pending.New()
	entry := &pending.Entry{ID: id, Slot: pending.NewSlot()}
	require.True(t, table.Insert(id, entry))

	ctx, cancel := context.WithCancel(context.Background())
	pump := New(transport, table, zap.NewNop(), nil)

	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after cancellation")
	}
	require.Equal(t, pending.Shutdown, entry.Slot.Outcome().Kind)
}
