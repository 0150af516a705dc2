package participant

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gosuda/participant/internal/queue"
	"github.com/gosuda/participant/wire"
)

const (
	tickInterval      = 10 * time.Millisecond
	flushByteBudget   = 1_000_000
	flushTimeBudget   = time.Second
	closeByteBudget   = 1 << 30 // effectively unbounded, per spec 4.1 channel-close flush
	closeTimeBudget   = time.Second
	sendQueueCapacity = 10_000
)

type openStreamRequest struct {
	prio      uint8
	promises  Promises
	bandwidth uint64
	reply     chan *StreamHandle
}

type addSendProtocolRequest struct {
	cid  Cid
	half wire.SendHalf
}

// sendManager owns every send half and serves open_stream/close_stream/
// message requests plus channel-lifecycle requests, per spec section 4.1.
type sendManager struct {
	log       zerolog.Logger
	metrics   Metrics
	remotePid Pid

	streams  *streamTable
	channels *sendChannelRegistry

	nextSid uint64 // minted by +2 starting at offsetSid, keeping local/remote Sid ranges disjoint
	nextMid atomic.Uint64

	openStreamIn      *queue.Unbounded[openStreamRequest]
	closeStreamIn     *queue.Unbounded[Sid]
	msgIn             chan sendRequest
	addSendProtocol   *queue.Unbounded[addSendProtocolRequest]
	closeSendProtocol *queue.Unbounded[Cid]

	barrier *atomic.Int32
}

func (m *sendManager) run(ctx context.Context) {
	// Startup rule (spec 4.1): block on the first add_send_protocol before
	// honoring any API request — there must be somewhere to send before we
	// can open a stream.
	first, ok := <-m.addSendProtocol.Out()
	if !ok {
		m.exit()
		return
	}
	m.channels.insert(first.cid, first.half)
	if m.metrics != nil {
		m.metrics.ChannelAttached()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-m.openStreamIn.Out():
			if !ok {
				m.exit()
				return
			}
			m.handleOpenStream(ctx, req)
			m.flushActive(ctx, flushByteBudget, flushTimeBudget)
			if m.channels.empty() {
				m.exit()
				return
			}

		case sid, ok := <-m.closeStreamIn.Out():
			if !ok {
				m.exit()
				return
			}
			// Drain pending messages before the close, so CloseStream is
			// never emitted ahead of messages queued before this call
			// (spec section 5's ordering guarantee).
			m.drainMessages(ctx)
			m.handleCloseStream(ctx, sid)
			m.flushActive(ctx, flushByteBudget, flushTimeBudget)
			if m.channels.empty() {
				m.exit()
				return
			}

		case req := <-m.msgIn:
			m.emitMessage(ctx, req)
			m.drainMessages(ctx)
			m.flushActive(ctx, flushByteBudget, flushTimeBudget)
			if m.channels.empty() {
				m.exit()
				return
			}

		case add, ok := <-m.addSendProtocol.Out():
			if !ok {
				m.exit()
				return
			}
			m.log.Debug().Uint64("cid", add.cid).Msg("send protocol attached")
			m.channels.insert(add.cid, add.half)
			if m.metrics != nil {
				m.metrics.ChannelAttached()
			}
			m.flushActive(ctx, flushByteBudget, flushTimeBudget)
			if m.channels.empty() {
				m.exit()
				return
			}

		case cid, ok := <-m.closeSendProtocol.Out():
			if !ok {
				m.exit()
				return
			}
			m.closeChannel(ctx, cid)
			m.flushActive(ctx, flushByteBudget, flushTimeBudget)
			if m.channels.empty() {
				m.exit()
				return
			}

		case <-ticker.C:
			m.flushActive(ctx, flushByteBudget, flushTimeBudget)
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

func (m *sendManager) exit() {
	m.barrier.Add(-barrSend)
	// No further open can be served: reject new ones at Push and fail the
	// ones already queued by closing their replies.
	m.openStreamIn.Close()
	for req := range m.openStreamIn.Out() {
		close(req.reply)
	}
}

func (m *sendManager) handleOpenStream(ctx context.Context, req openStreamRequest) {
	sid := m.allocSid()
	entry, created := m.streams.create(sid, req.prio, req.promises, req.bandwidth)
	if !created {
		// Invariant 1 violation would mean a locally-minted sid collided;
		// this cannot happen with a monotonic counter, so surface nothing
		// but also don't hand back a handle for a table entry we don't own.
		close(req.reply)
		return
	}

	handle := &StreamHandle{
		RemotePid:  m.remotePid,
		Sid:        sid,
		Prio:       req.prio,
		Promises:   req.promises,
		Bandwidth:  req.bandwidth,
		sendClosed: entry.sendClosed,
		mailbox:    entry.mailbox,
		msgQ:       m.msgIn,
		closeQ:     m.closeStreamIn,
	}
	req.reply <- handle
	close(req.reply)

	if m.metrics != nil {
		m.metrics.StreamOpened(true)
	}

	m.log.Debug().Uint64("sid", sid).Uint8("prio", req.prio).Msg("dispatching OpenStream")
	m.emit(ctx, wire.Event{
		Kind:      wire.KindOpenStream,
		Sid:       sid,
		Prio:      req.prio,
		Promises:  uint32(req.promises),
		Bandwidth: req.bandwidth,
	})
}

// allocSid mints the next local Sid, stepping by two so local and remote
// ids never collide (invariant 6, spec section 3).
func (m *sendManager) allocSid() Sid {
	sid := m.nextSid
	m.nextSid += 2
	return sid
}

func (m *sendManager) drainMessages(ctx context.Context) {
	for {
		select {
		case req := <-m.msgIn:
			m.emitMessage(ctx, req)
		default:
			return
		}
	}
}

func (m *sendManager) emitMessage(ctx context.Context, req sendRequest) {
	mid := m.nextMid.Add(1)
	if m.metrics != nil {
		m.metrics.MessageSent(len(req.buf))
	}
	m.log.Debug().Uint64("sid", req.sid).Uint64("mid", mid).Int("bytes", len(req.buf)).Msg("dispatching Message")
	m.emit(ctx, wire.Event{Kind: wire.KindMessage, Sid: req.sid, Mid: mid, Buffer: req.buf})
}

func (m *sendManager) handleCloseStream(ctx context.Context, sid Sid) {
	m.streams.delete(sid)
	if m.metrics != nil {
		m.metrics.StreamClosed()
	}
	m.log.Debug().Uint64("sid", sid).Msg("dispatching CloseStream")
	m.emit(ctx, wire.Event{Kind: wire.KindCloseStream, Sid: sid})
}

// emit sends ev on the active channel (spec section 4.1: smallest live
// Cid). A protocol error drops that channel — the peer's recv side will
// observe the disconnect and reciprocate (spec section 4.1's failure rule).
func (m *sendManager) emit(ctx context.Context, ev wire.Event) {
	cid, half, ok := m.channels.active()
	if !ok {
		m.log.Warn().Str("event", ev.Kind.String()).Err(ErrNoChannel).Msg("dropping event")
		return
	}
	if err := half.Send(ctx, ev); err != nil {
		m.log.Warn().Uint64("cid", cid).Err(err).Msg("send failed, dropping channel")
		m.dropChannel(cid, half)
		return
	}
	m.log.Debug().Uint64("cid", cid).Str("event", ev.Kind.String()).Msg("event sent on active channel")
}

func (m *sendManager) flushActive(ctx context.Context, byteBudget int, timeBudget time.Duration) {
	cid, half, ok := m.channels.active()
	if !ok {
		return
	}
	if err := half.Flush(ctx, byteBudget, timeBudget); err != nil {
		m.log.Warn().Uint64("cid", cid).Err(err).Msg("flush failed, dropping channel")
		m.dropChannel(cid, half)
	}
}

// closeChannel implements the close_send_protocol(cid) path (spec section
// 4.1): flush with an effectively unbounded budget, emit Shutdown, drop the
// half.
func (m *sendManager) closeChannel(ctx context.Context, cid Cid) {
	half, ok := m.channels.remove(cid)
	if !ok {
		return
	}
	if err := half.Flush(ctx, closeByteBudget, closeTimeBudget); err != nil {
		m.log.Warn().Uint64("cid", cid).Err(err).Msg("flush on close failed")
	}
	if err := half.Send(ctx, wire.Event{Kind: wire.KindShutdown}); err != nil {
		m.log.Warn().Uint64("cid", cid).Err(err).Msg("shutdown emit failed")
	}
	_ = half.Close()
	if m.metrics != nil {
		m.metrics.ChannelClosed(false)
	}
}

func (m *sendManager) dropChannel(cid Cid, half wire.SendHalf) {
	if _, ok := m.channels.remove(cid); ok {
		_ = half.Close()
		if m.metrics != nil {
			m.metrics.ChannelClosed(true)
		}
	}
}
