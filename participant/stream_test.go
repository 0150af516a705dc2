package participant

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamTableCreateRejectsDuplicateSid(t *testing.T) {
	st := newStreamTable()
	_, ok := st.create(1, 0, 0, 0)
	require.True(t, ok)
	_, ok = st.create(1, 0, 0, 0)
	require.False(t, ok, "a sid must only ever be inserted once")
}

func TestStreamTableDeleteIsIdempotent(t *testing.T) {
	st := newStreamTable()
	st.create(1, 0, 0, 0)

	_, ok := st.delete(1)
	require.True(t, ok)

	_, ok = st.delete(1)
	require.False(t, ok, "deleting an absent sid is not an error, just a no-op")
}

func TestStreamTableCloseAllSendsMarksEveryEntry(t *testing.T) {
	st := newStreamTable()
	e1, _ := st.create(1, 0, 0, 0)
	e2, _ := st.create(2, 0, 0, 0)

	st.closeAllSends()

	require.True(t, e1.sendClosed.Load())
	require.True(t, e2.sendClosed.Load())
}

func TestStreamHandleRecvReturnsEOFAfterClose(t *testing.T) {
	st := newStreamTable()
	entry, _ := st.create(1, 0, 0, 0)
	handle := &StreamHandle{
		Sid:        1,
		sendClosed: entry.sendClosed,
		mailbox:    entry.mailbox,
		msgQ:       make(chan sendRequest, 1),
		closeQ:     nil,
	}

	entry.mailbox.push([]byte("hello"))
	entry.mailbox.closeMailbox()

	ctx := context.Background()
	buf, err := handle.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf)

	_, err = handle.Recv(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamHandleSendFailsOnceClosed(t *testing.T) {
	closed := &atomic.Bool{}
	closed.Store(true)
	handle := &StreamHandle{sendClosed: closed, msgQ: make(chan sendRequest, 1)}

	err := handle.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamHandleSendRespectsContextCancellation(t *testing.T) {
	handle := &StreamHandle{sendClosed: &atomic.Bool{}, msgQ: make(chan sendRequest)} // unbuffered, never drained

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := handle.Send(ctx, []byte("x"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
