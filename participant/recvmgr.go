package participant

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/gosuda/participant/internal/queue"
	"github.com/gosuda/participant/wire"
)

type addRecvProtocolRequest struct {
	cid  Cid
	half wire.RecvHalf
}

// funnelEvent is what a per-channel receive task reports back to the Recv
// Manager after one blocking Recv call (spec section 4.2's "per-channel
// receive task").
type funnelEvent struct {
	cid  Cid
	ev   wire.Event
	err  error
	half wire.RecvHalf
}

// recvManager owns every recv half and demultiplexes inbound protocol
// events into the stream table and the two outward-facing API channels
// (spec section 4.2).
type recvManager struct {
	log       zerolog.Logger
	metrics   Metrics
	remotePid Pid

	streams  *streamTable
	channels *recvChannelRegistry

	streamOpenedOut   *queue.Unbounded[*StreamHandle]
	addRecvProtocol   *queue.Unbounded[addRecvProtocolRequest]
	forceCloseRecv    *queue.Unbounded[Cid]
	closeSendProtocol *queue.Unbounded[Cid] // sender end of the Send Manager's queue (one-way, spec section 9)

	msgQ   chan sendRequest              // shared with StreamHandle.Send, needed only to build handles
	closeQ *queue.Unbounded[Sid]         // shared with StreamHandle.Close
	funnel chan funnelEvent

	barrier *atomic.Int32
}

func (m *recvManager) run(ctx context.Context) {
	for {
		select {
		case fe := <-m.funnel:
			m.handleFunnelEvent(ctx, fe)
			if m.channels.empty() {
				m.exit()
				return
			}

		case add, ok := <-m.addRecvProtocol.Out():
			if !ok {
				m.exit()
				return
			}
			m.launch(ctx, add.cid, add.half)

		case cid, ok := <-m.forceCloseRecv.Out():
			if !ok {
				m.exit()
				return
			}
			m.forceClose(cid)
			if m.channels.empty() {
				m.exit()
				return
			}

		case <-ctx.Done():
			m.exit()
			return
		}
	}
}

// exit decrements the shutdown barrier and closes streamOpenedOut: once the
// Recv Manager is gone, no further remotely-opened streams will ever be
// published, so a caller blocked in Participant.StreamOpened must observe
// end-of-stream rather than hang forever (spec section 6's external
// interface; mirrors the Rust reference dropping b2a_stream_opened_s when
// its recv task exits).
func (m *recvManager) exit() {
	m.barrier.Add(-barrRecv)
	m.streamOpenedOut.Close()
}

// launch starts the per-channel receive task for cid (spec section 4.2):
// it calls Recv once, forwards the result through the funnel, and exits —
// the manager relaunches it after handling the event, so at most one Recv
// call per channel is ever in flight.
func (m *recvManager) launch(ctx context.Context, cid Cid, half wire.RecvHalf) {
	m.log.Debug().Uint64("cid", cid).Msg("recv protocol attached")
	taskCtx, cancel := context.WithCancel(ctx)
	m.channels.insert(cid, half, taskCtx, cancel)
	if m.metrics != nil {
		m.metrics.ChannelAttached()
	}
	go m.recvOnce(taskCtx, cid, half)
}

func (m *recvManager) recvOnce(ctx context.Context, cid Cid, half wire.RecvHalf) {
	ev, err := half.Recv(ctx)
	select {
	case m.funnel <- funnelEvent{cid: cid, ev: ev, err: err, half: half}:
	case <-ctx.Done():
	}
}

func (m *recvManager) handleFunnelEvent(ctx context.Context, fe funnelEvent) {
	if _, ok := m.channels.get(fe.cid); !ok {
		// The channel was force-closed while this Recv call was in flight;
		// its task's ctx is already canceled, so just drop the stale event.
		return
	}

	if fe.err != nil {
		m.log.Warn().Uint64("cid", fe.cid).Err(fe.err).Msg("recv error, treating as shutdown for this channel")
		m.peerGone(fe.cid)
		return
	}

	switch fe.ev.Kind {
	case wire.KindOpenStream:
		m.log.Debug().Uint64("cid", fe.cid).Uint64("sid", fe.ev.Sid).Msg("dispatched OpenStream")
		m.handleOpenStream(fe.cid, fe.ev)
		m.rearm(fe.cid, fe.half)

	case wire.KindMessage:
		m.log.Debug().Uint64("cid", fe.cid).Uint64("sid", fe.ev.Sid).Uint64("mid", fe.ev.Mid).Int("bytes", len(fe.ev.Buffer)).Msg("dispatched Message")
		m.handleMessage(fe.ev)
		m.rearm(fe.cid, fe.half)

	case wire.KindCloseStream:
		m.log.Debug().Uint64("cid", fe.cid).Uint64("sid", fe.ev.Sid).Msg("dispatched CloseStream")
		m.streams.delete(fe.ev.Sid)
		if m.metrics != nil {
			m.metrics.StreamClosed()
		}
		m.rearm(fe.cid, fe.half)

	case wire.KindShutdown:
		m.log.Debug().Uint64("cid", fe.cid).Msg("dispatched Shutdown")
		m.peerGone(fe.cid)

	default:
		m.log.Warn().Uint64("cid", fe.cid).Uint8("kind", uint8(fe.ev.Kind)).Msg("unknown event kind, dropping")
		m.rearm(fe.cid, fe.half)
	}
}

func (m *recvManager) rearm(cid Cid, half wire.RecvHalf) {
	entry, ok := m.channels.get(cid)
	if !ok {
		return
	}
	go m.recvOnce(entry.ctx, cid, half)
}

func (m *recvManager) handleOpenStream(cid Cid, ev wire.Event) {
	entry, created := m.streams.create(ev.Sid, ev.Prio, Promises(ev.Promises), ev.Bandwidth)
	if !created {
		m.log.Warn().Uint64("sid", ev.Sid).Msg("remote OpenStream for an already-open sid, dropping")
		return
	}
	handle := &StreamHandle{
		RemotePid:  m.remotePid,
		Sid:        ev.Sid,
		Prio:       ev.Prio,
		Promises:   Promises(ev.Promises),
		Bandwidth:  ev.Bandwidth,
		sendClosed: entry.sendClosed,
		mailbox:    entry.mailbox,
		msgQ:       m.msgQ,
		closeQ:     m.closeQ,
	}
	if m.metrics != nil {
		m.metrics.StreamOpened(false)
	}
	m.streamOpenedOut.Push(handle)
}

func (m *recvManager) handleMessage(ev wire.Event) {
	entry, ok := m.streams.get(ev.Sid)
	if !ok {
		m.log.Warn().Uint64("sid", ev.Sid).Msg("message for unknown stream, dropping (simultaneous close)")
		return
	}
	if m.metrics != nil {
		m.metrics.MessageReceived(len(ev.Buffer))
	}
	entry.mailbox.push(ev.Buffer)
}

// peerGone handles both an explicit Shutdown event and a transport error:
// ask the Send Manager to close its matching half, drop ours, and exit if
// that was the last one (spec section 4.2's event table and section 7's
// error surface item 5).
func (m *recvManager) peerGone(cid Cid) {
	m.closeSendProtocol.Push(cid)
	m.forceClose(cid)
}

func (m *recvManager) forceClose(cid Cid) {
	entry, ok := m.channels.remove(cid)
	if !ok {
		return
	}
	entry.cancel()
	_ = entry.half.Close()
	if m.metrics != nil {
		m.metrics.ChannelClosed(true)
	}
}
