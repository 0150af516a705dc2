package participant

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gosuda/participant/internal/queue"
)

const (
	barrChannel int32 = 1
	barrSend    int32 = 2
	barrRecv    int32 = 4
	barrAll     int32 = barrChannel | barrSend | barrRecv

	backoffInitial = 10 * time.Millisecond
	backoffFactor  = 1.4
)

// shutdownCoordinator runs Shutdown's ordered procedure (spec section 4.4):
// stop accepting new sends, tell every channel to say goodbye, wait for the
// three managers to report themselves done, and force things along if the
// peer doesn't cooperate within the caller's timeout.
type shutdownCoordinator struct {
	log zerolog.Logger

	streams *streamTable
	known   *knownChannels

	closeSendProtocol *queue.Unbounded[Cid]
	forceCloseRecv    *queue.Unbounded[Cid]

	barrier *atomic.Int32
}

// run executes the shutdown sequence and always returns nil: a timeout
// means data loss is implicit in the fact shutdown took this long, not a
// distinct error the caller must branch on (spec section 7, item 4).
func (s *shutdownCoordinator) run(ctx context.Context, timeout time.Duration) error {
	s.streams.closeAllSends()

	// Precondition (spec section 4.4): the caller must already have closed
	// attach_channel_in before invoking Shutdown. The coordinator only relies
	// on that having happened; it does not close it itself.

	for _, cid := range s.known.list() {
		s.closeSendProtocol.Push(cid)
	}

	deadline := time.Now().Add(timeout)
	if s.pollBarrier(ctx, deadline) {
		return nil
	}

	s.log.Warn().Dur("timeout", timeout).Msg("shutdown timed out waiting for managers, forcing channel close")
	for _, cid := range s.known.list() {
		s.forceCloseRecv.Push(cid)
	}

	// No further deadline: the managers must exit once every channel is
	// gone, however long the underlying Close calls take.
	s.pollBarrier(ctx, time.Time{})
	return nil
}

// pollBarrier waits for the barrier to reach zero, backing off
// exponentially from backoffInitial. A zero deadline means poll forever.
func (s *shutdownCoordinator) pollBarrier(ctx context.Context, deadline time.Time) bool {
	wait := backoffInitial
	for {
		if s.barrier.Load() == 0 {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return s.barrier.Load() == 0
		}

		wait = time.Duration(float64(wait) * backoffFactor)
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < wait && remaining > 0 {
				wait = remaining
			}
		}
	}
}
