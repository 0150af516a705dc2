package participant

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gosuda/participant/internal/queue"
)

// streamEntry is one row of the stream table (spec section 3/4.5). The
// table itself is guarded by a RWMutex held briefly and never across an
// await on peer I/O, per spec section 5.
type streamEntry struct {
	sid       Sid
	prio      uint8
	promises  Promises
	bandwidth uint64

	sendClosed *atomic.Bool
	mailbox    *mailbox
}

// streamTable implements spec section 4.5's create_stream/delete_stream.
type streamTable struct {
	mu sync.RWMutex
	m  map[Sid]*streamEntry
}

func newStreamTable() *streamTable {
	return &streamTable{m: make(map[Sid]*streamEntry)}
}

// create inserts sid into the table. It must not already exist (invariant
// 1: a Sid is inserted exactly once).
func (t *streamTable) create(sid Sid, prio uint8, promises Promises, bandwidth uint64) (*streamEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.m[sid]; exists {
		return nil, false
	}
	e := &streamEntry{
		sid:        sid,
		prio:       prio,
		promises:   promises,
		bandwidth:  bandwidth,
		sendClosed: &atomic.Bool{},
		mailbox:    newMailbox(),
	}
	t.m[sid] = e
	return e, true
}

// delete removes sid if present, marking it send_closed and closing its
// mailbox so readers observe end-of-stream. Absence is not an error — it
// indicates a simultaneous close from the other side (spec section 4.5).
func (t *streamTable) delete(sid Sid) (*streamEntry, bool) {
	t.mu.Lock()
	e, ok := t.m[sid]
	if ok {
		delete(t.m, sid)
	}
	t.mu.Unlock()
	if ok {
		e.sendClosed.Store(true)
		e.mailbox.closeMailbox()
	}
	return e, ok
}

func (t *streamTable) get(sid Sid) (*streamEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.m[sid]
	return e, ok
}

// closeAllSends marks every live stream's send_closed flag, per the
// Shutdown Coordinator's first step (spec section 4.4.1).
func (t *streamTable) closeAllSends() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.m {
		e.sendClosed.Store(true)
	}
}

// sendRequest is one item on the shared, participant-wide bounded send
// queue (spec section 6's "bounded-10k (sid, buffer) send queue").
type sendRequest struct {
	sid Sid
	buf MessageBuffer
}

// StreamHandle is the caller-facing handle for one stream, bundling
// together everything spec section 6 lists: remote_pid, sid, prio,
// promises, bandwidth, the send_closed flag, the shared send/close queues
// and this stream's own inbound mailbox.
type StreamHandle struct {
	RemotePid Pid
	Sid       Sid
	Prio      uint8
	Promises  Promises
	Bandwidth uint64

	sendClosed *atomic.Bool
	mailbox    *mailbox
	msgQ       chan sendRequest
	closeQ     *queue.Unbounded[Sid]
	closeOnce  sync.Once
}

// Send pushes buf onto the shared bounded send queue. It blocks when that
// queue is full (spec section 5's backpressure rule), until ctx is done or
// the stream's send side is already closed.
func (h *StreamHandle) Send(ctx context.Context, buf MessageBuffer) error {
	if h.sendClosed.Load() {
		return ErrStreamClosed
	}
	select {
	case h.msgQ <- sendRequest{sid: h.Sid, buf: buf}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests the stream be torn down. Safe to call more than once; only
// the first call enqueues a CloseStream request.
func (h *StreamHandle) Close() {
	h.closeOnce.Do(func() {
		h.closeQ.Push(h.Sid)
	})
}

// Recv returns the next inbound message buffer, or io.EOF once the stream
// has been closed from either side and every already-queued buffer has been
// delivered.
func (h *StreamHandle) Recv(ctx context.Context) (MessageBuffer, error) {
	select {
	case buf, ok := <-h.mailbox.out():
		if !ok {
			return nil, io.EOF
		}
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendClosed reports whether further sends on this stream will fail.
func (h *StreamHandle) SendClosed() bool {
	return h.sendClosed.Load()
}
