package participant

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/participant/internal/queue"
	"github.com/gosuda/participant/wire"
)

// attachRequest is one item on attach_channel_in (spec section 6).
// initialSid is accepted per the external interface but, like the
// reference, isn't otherwise consulted by this package — local Sid
// allocation is entirely the Send Manager's own monotonic counter.
type attachRequest struct {
	cid        Cid
	initialSid Sid
	transport  wire.Transport
	reply      chan struct{}
}

// attachManager accepts new transports, splits each into its send/recv
// halves, and hands those halves to the Send and Recv Managers (spec
// section 4.3). Concurrency across attaches is bounded with an errgroup
// limit, the same pattern pkg/p2p's sibling in the wider pack
// (dveeden-tiflow's pkg/p2p/server.go) uses for bounding concurrent peer
// work with golang.org/x/sync/errgroup.
type attachManager struct {
	log zerolog.Logger

	in     *queue.Unbounded[attachRequest]
	known  *knownChannels
	addSnd *queue.Unbounded[addSendProtocolRequest]
	addRcv *queue.Unbounded[addRecvProtocolRequest]

	concurrency int
	barrier     *atomic.Int32
}

func (m *attachManager) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}

	for req := range m.in.Out() {
		req := req
		g.Go(func() error {
			m.attach(gctx, req)
			return nil
		})
	}

	_ = g.Wait()
	m.barrier.Add(-barrChannel)
}

func (m *attachManager) attach(ctx context.Context, req attachRequest) {
	sendHalf, recvHalf := req.transport.Split()
	m.known.add(req.cid)
	m.addSnd.Push(addSendProtocolRequest{cid: req.cid, half: sendHalf})
	m.addRcv.Push(addRecvProtocolRequest{cid: req.cid, half: recvHalf})
	m.log.Debug().Uint64("cid", req.cid).Msg("channel attached")
	close(req.reply)
}
