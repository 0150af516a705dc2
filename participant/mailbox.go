package participant

import "github.com/gosuda/participant/internal/queue"

// mailbox is a stream's unbounded inbound queue (spec section 3's
// b2a_msg_recv): only the Recv Manager ever pushes into it, but it is
// handed out for external inspection via the stream handle, so pushes must
// never block on a slow or stuck consumer (spec section 5's backpressure
// rule — per-stream mailboxes are unbounded on purpose; a stuck consumer's
// memory growth is its own problem, not the demux's).
type mailbox struct {
	q *queue.Unbounded[MessageBuffer]
}

func newMailbox() *mailbox {
	return &mailbox{q: queue.NewUnbounded[MessageBuffer]()}
}

// push enqueues buf. Called only by the Recv Manager.
func (m *mailbox) push(buf MessageBuffer) {
	m.q.Push(buf)
}

// closeMailbox ends the stream: StreamHandle.Recv's caller observes end-of-stream
// once every already-queued buffer has drained.
func (m *mailbox) closeMailbox() {
	m.q.Close()
}

// out is the channel StreamHandle.Recv selects on.
func (m *mailbox) out() <-chan MessageBuffer {
	return m.q.Out()
}
