package transport

import (
	"net"

	"github.com/gosuda/participant/wire"
)

// NewInprocPair returns two wire.Transport endpoints connected by an
// in-memory, synchronous duplex pipe (net.Pipe). This is the "in-process
// pipes" channel kind called out in spec section 1 — useful for wiring two
// local Participants together in tests and demos without touching a real
// socket.
func NewInprocPair() (local, remote wire.Transport) {
	a, b := net.Pipe()
	return NewCodecTransport(a), NewCodecTransport(b)
}
