package participant

import (
	"context"
	"sort"
	"sync"

	"github.com/gosuda/participant/wire"
)

// sendChannelRegistry is the Send Manager's private table of live channel
// send halves (invariant 4: exactly one send half per live Cid, owned
// solely by the Send Manager).
type sendChannelRegistry struct {
	mu sync.RWMutex
	m  map[Cid]wire.SendHalf
}

func newSendChannelRegistry() *sendChannelRegistry {
	return &sendChannelRegistry{m: make(map[Cid]wire.SendHalf)}
}

func (r *sendChannelRegistry) insert(cid Cid, half wire.SendHalf) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[cid] = half
}

func (r *sendChannelRegistry) remove(cid Cid) (wire.SendHalf, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	half, ok := r.m[cid]
	if ok {
		delete(r.m, cid)
	}
	return half, ok
}

func (r *sendChannelRegistry) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m) == 0
}

// active selects the smallest live Cid, per spec section 4.1's "simplest
// conforming rule": the reference always uses cid 0 rather than
// load-balancing, which generalizes cleanly to "smallest live cid" without
// touching the per-stream ordering invariant.
func (r *sendChannelRegistry) active() (Cid, wire.SendHalf, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.m) == 0 {
		return 0, nil, false
	}
	best := Cid(0)
	first := true
	for cid := range r.m {
		if first || cid < best {
			best = cid
			first = false
		}
	}
	return best, r.m[best], true
}

// recvChannelRegistry is the Recv Manager's private table of live channel
// recv halves plus the cancel func for that channel's helper task.
type recvChannelRegistry struct {
	mu sync.RWMutex
	m  map[Cid]recvChannelEntry
}

type recvChannelEntry struct {
	half   wire.RecvHalf
	ctx    context.Context
	cancel context.CancelFunc
}

func newRecvChannelRegistry() *recvChannelRegistry {
	return &recvChannelRegistry{m: make(map[Cid]recvChannelEntry)}
}

func (r *recvChannelRegistry) insert(cid Cid, half wire.RecvHalf, ctx context.Context, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[cid] = recvChannelEntry{half: half, ctx: ctx, cancel: cancel}
}

func (r *recvChannelRegistry) remove(cid Cid) (recvChannelEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[cid]
	if ok {
		delete(r.m, cid)
	}
	return e, ok
}

func (r *recvChannelRegistry) get(cid Cid) (recvChannelEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[cid]
	return e, ok
}

func (r *recvChannelRegistry) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m) == 0
}

// knownChannels is the shared, append-mostly set of every Cid the Channel
// Attach Manager has ever handed out, so the Shutdown Coordinator can
// enumerate "every known cid" (spec section 4.4 step 2/4) without reaching
// into either manager's private registry.
type knownChannels struct {
	mu  sync.RWMutex
	set map[Cid]struct{}
}

func newKnownChannels() *knownChannels {
	return &knownChannels{set: make(map[Cid]struct{})}
}

func (k *knownChannels) add(cid Cid) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.set[cid] = struct{}{}
}

func (k *knownChannels) list() []Cid {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Cid, 0, len(k.set))
	for cid := range k.set {
		out = append(out, cid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (k *knownChannels) nonEmpty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.set) > 0
}
