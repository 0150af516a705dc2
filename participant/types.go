// Package participant implements the per-peer multiplexed stream manager.
// One Participant serves one remote peer, multiplexing many ordered,
// prioritized, flow-control-hinted byte-message streams over one or more
// attached channels.
package participant

import "github.com/google/uuid"

// Pid identifies a remote peer. It is an opaque 128-bit value, the same
// size and role as relaydns's lease/credential identifiers, minted with
// google/uuid the way the rest of the corpus mints session and connection
// identifiers rather than hand-rolling a random-byte generator.
type Pid [16]byte

// NewPid mints a random Pid.
func NewPid() Pid {
	return Pid(uuid.Must(uuid.NewRandom()))
}

func (p Pid) String() string {
	return uuid.UUID(p).String()
}

// Cid identifies an attached channel. Locally unique per Participant;
// assigned by the caller of AttachChannel.
type Cid = uint64

// Sid identifies a stream. Monotonically increasing per Participant; the
// local side mints ids disjoint from the remote side via OffsetSid/step.
type Sid = uint64

// Mid identifies a message within a stream, monotonically increasing per
// Participant (spec section 9: the reference always emits zero; this
// implementation mints a real one so a lower protocol that needs
// uniqueness gets it for free).
type Mid = uint64

// Promises is a bitset of guarantees requested for a stream at open time.
type Promises uint32

const (
	PromiseOrdered Promises = 1 << iota
	PromiseReliable
	PromiseEncrypted
	PromiseCompressed
	PromiseGuaranteedDelivery
)

func (p Promises) Has(flag Promises) bool {
	return p&flag != 0
}

// MessageBuffer is an opaque byte buffer. The send path shares a caller's
// buffer by reference; the receive path delivers an owned buffer per
// message (transport.codecRecvHalf already copies each frame's payload out
// of its read buffer before returning it).
type MessageBuffer = []byte
