package participant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/participant/internal/queue"
	"github.com/gosuda/participant/wire"
)

// Config bundles the knobs New needs beyond the remote peer's identity.
// Logger and Metrics are both optional: a zero Config gets zerolog's
// global logger and a NopMetrics sink.
type Config struct {
	// Logger is used as-is when non-nil; a nil Logger falls back to
	// zerolog's global log.Logger, the same default the rest of the
	// corpus's services use when no logger is explicitly wired in.
	Logger  *zerolog.Logger
	Metrics Metrics

	// OffsetSid is where this side's Sid counter starts (spec section 3,
	// invariant 6: local and remote ids must never collide). Dialing and
	// accepting sides of a connection should pass different offsets, e.g.
	// 0 and 1, so the +2 step keeps the two half-open ranges disjoint.
	OffsetSid uint64

	// AttachConcurrency bounds how many AttachChannel calls the Channel
	// Attach Manager processes at once. Zero means unbounded.
	AttachConcurrency int
}

// Participant multiplexes many streams over one or more channels to a
// single remote peer (spec section 1). It owns three long-running manager
// goroutines (send, recv, attach); the Shutdown Coordinator runs inside
// Shutdown. Construct with New and start with Run.
type Participant struct {
	remotePid Pid

	streams  *streamTable
	sendCh   *sendChannelRegistry
	recvCh   *recvChannelRegistry
	known    *knownChannels

	openStreamIn      *queue.Unbounded[openStreamRequest]
	closeStreamIn     *queue.Unbounded[Sid]
	msgIn             chan sendRequest
	addSendProtocol   *queue.Unbounded[addSendProtocolRequest]
	addRecvProtocol   *queue.Unbounded[addRecvProtocolRequest]
	closeSendProtocol *queue.Unbounded[Cid]
	forceCloseRecv    *queue.Unbounded[Cid]
	attachIn          *queue.Unbounded[attachRequest]
	streamOpenedOut   *queue.Unbounded[*StreamHandle]

	barrier atomic.Int32

	send   *sendManager
	recv   *recvManager
	attach *attachManager

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Participant for the given remote peer. Call Run to start
// its managers before using any other method.
func New(remotePid Pid, cfg Config) *Participant {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}

	p := &Participant{
		remotePid: remotePid,

		streams: newStreamTable(),
		sendCh:  newSendChannelRegistry(),
		recvCh:  newRecvChannelRegistry(),
		known:   newKnownChannels(),

		openStreamIn:      queue.NewUnbounded[openStreamRequest](),
		closeStreamIn:     queue.NewUnbounded[Sid](),
		msgIn:             make(chan sendRequest, sendQueueCapacity),
		addSendProtocol:   queue.NewUnbounded[addSendProtocolRequest](),
		addRecvProtocol:   queue.NewUnbounded[addRecvProtocolRequest](),
		closeSendProtocol: queue.NewUnbounded[Cid](),
		forceCloseRecv:    queue.NewUnbounded[Cid](),
		attachIn:          queue.NewUnbounded[attachRequest](),
		streamOpenedOut:   queue.NewUnbounded[*StreamHandle](),
	}
	p.barrier.Store(barrAll)

	p.send = &sendManager{
		log:               logger.With().Str("component", "send").Logger(),
		metrics:           metrics,
		remotePid:         remotePid,
		streams:           p.streams,
		channels:          p.sendCh,
		nextSid:           cfg.OffsetSid,
		openStreamIn:      p.openStreamIn,
		closeStreamIn:     p.closeStreamIn,
		msgIn:             p.msgIn,
		addSendProtocol:   p.addSendProtocol,
		closeSendProtocol: p.closeSendProtocol,
		barrier:           &p.barrier,
	}
	p.recv = &recvManager{
		log:               logger.With().Str("component", "recv").Logger(),
		metrics:           metrics,
		remotePid:         remotePid,
		streams:           p.streams,
		channels:          p.recvCh,
		streamOpenedOut:   p.streamOpenedOut,
		addRecvProtocol:   p.addRecvProtocol,
		forceCloseRecv:    p.forceCloseRecv,
		closeSendProtocol: p.closeSendProtocol,
		msgQ:              p.msgIn,
		closeQ:            p.closeStreamIn,
		funnel:            make(chan funnelEvent),
		barrier:           &p.barrier,
	}
	p.attach = &attachManager{
		log:         logger.With().Str("component", "attach").Logger(),
		in:          p.attachIn,
		known:       p.known,
		addSnd:      p.addSendProtocol,
		addRcv:      p.addRecvProtocol,
		concurrency: cfg.AttachConcurrency,
		barrier:     &p.barrier,
	}

	return p
}

// Run starts the Send, Recv and Channel Attach Manager goroutines and blocks
// until all three have exited, normally once Shutdown has drained the
// barrier. Canceling ctx stops the Send and Recv Managers once they are in
// their main loops; the Attach Manager returns only after CloseAttachInput.
func (p *Participant) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.send.run(ctx) }()
	go func() { defer wg.Done(); p.recv.run(ctx) }()
	go func() { defer wg.Done(); p.attach.run(ctx) }()
	wg.Wait()
}

// AttachChannel registers transport as a new channel identified by cid,
// splitting it into send/recv halves for the Send and Recv Managers (spec
// section 4.3). initialSid is accepted for parity with the external
// interface; this implementation's Sid allocation is local-counter-only.
func (p *Participant) AttachChannel(ctx context.Context, cid Cid, initialSid Sid, transport wire.Transport) error {
	reply := make(chan struct{})
	req := attachRequest{cid: cid, initialSid: initialSid, transport: transport, reply: reply}
	if !p.attachIn.Push(req) {
		return ErrShuttingDown
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAttachInput signals that no further channels will be attached,
// letting the Channel Attach Manager exit once its queue drains (spec
// section 4.4 step 1).
func (p *Participant) CloseAttachInput() {
	p.attachIn.Close()
}

// OpenStream requests a new local stream and returns its handle once the
// Send Manager has registered it; the OpenStream event is emitted on the
// active channel right after the handle is handed back (spec section 4.1/6).
func (p *Participant) OpenStream(ctx context.Context, prio uint8, promises Promises, bandwidth uint64) (*StreamHandle, error) {
	reply := make(chan *StreamHandle, 1)
	req := openStreamRequest{prio: prio, promises: promises, bandwidth: bandwidth, reply: reply}
	if !p.openStreamIn.Push(req) {
		return nil, ErrShuttingDown
	}
	select {
	case handle, ok := <-reply:
		if !ok || handle == nil {
			return nil, fmt.Errorf("participant: open stream rejected: %w", ErrShuttingDown)
		}
		return handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StreamOpened blocks until the remote peer opens a new stream, or returns
// ctx.Err() / io.EOF-equivalent ErrShuttingDown once the Recv Manager has
// exited and this queue is drained and closed.
func (p *Participant) StreamOpened(ctx context.Context) (*StreamHandle, error) {
	select {
	case handle, ok := <-p.streamOpenedOut.Out():
		if !ok {
			return nil, ErrShuttingDown
		}
		return handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown runs the ordered teardown procedure (spec section 4.4) and
// blocks until either every manager has exited cleanly or timeout has
// elapsed and the forced path has also completed. Safe to call more than
// once; later calls return the result of the first.
//
// Shutdown's precondition (spec section 4.4): the channel table must be
// non-empty. A Participant with no channel ever attached has already torn
// itself down via the managers' own empty-table exit rules, so there is
// nothing left for the coordinator to do.
func (p *Participant) Shutdown(ctx context.Context, timeout time.Duration) error {
	p.shutdownOnce.Do(func() {
		if !p.known.nonEmpty() {
			p.shutdownErr = &ParticipantError{Reason: "no channel has ever been attached"}
			return
		}
		coordinator := &shutdownCoordinator{
			log:               p.send.log,
			streams:           p.streams,
			known:             p.known,
			closeSendProtocol: p.closeSendProtocol,
			forceCloseRecv:    p.forceCloseRecv,
			barrier:           &p.barrier,
		}
		p.shutdownErr = coordinator.run(ctx, timeout)
	})
	return p.shutdownErr
}
