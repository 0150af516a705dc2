package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/participant/wire"
)

func TestInprocRoundTripsAllEventKinds(t *testing.T) {
	local, remote := NewInprocPair()
	localSend, _ := local.Split()
	_, remoteRecv := remote.Split()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := []wire.Event{
		{Kind: wire.KindOpenStream, Sid: 1000, Prio: 7, Promises: 1, Bandwidth: 1_000_000},
		{Kind: wire.KindMessage, Sid: 1000, Mid: 1, Buffer: []byte("hello")},
		{Kind: wire.KindCloseStream, Sid: 1000},
		{Kind: wire.KindShutdown},
	}

	done := make(chan error, 1)
	go func() {
		for _, ev := range events {
			if err := localSend.Send(ctx, ev); err != nil {
				done <- err
				return
			}
		}
		done <- localSend.Flush(ctx, 1_000_000, time.Second)
	}()

	for _, want := range events {
		got, err := remoteRecv.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, want.Kind, got.Kind)
		require.Equal(t, want.Sid, got.Sid)
		require.Equal(t, want.Buffer, got.Buffer)
	}
	require.NoError(t, <-done)
}
