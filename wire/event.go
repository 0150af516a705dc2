// Package wire defines the protocol event vocabulary and the send/recv
// transport contract shared between a Participant and whatever carries its
// bytes over the network (TCP, QUIC, a libp2p stream, a websocket, an
// in-process pipe). It deliberately says nothing about how those bytes are
// framed on the wire beyond the four-variant event union below — that
// framing is left to the transport package.
package wire

import (
	"context"
	"time"
)

// Kind tags a protocol event.
type Kind uint8

const (
	// KindOpenStream announces a new stream. Carries Sid/Prio/Promises/Bandwidth.
	KindOpenStream Kind = iota + 1
	// KindMessage carries one message buffer for an already-open stream.
	KindMessage
	// KindCloseStream tears down a stream. Carries Sid.
	KindCloseStream
	// KindShutdown announces that the sender will emit nothing further on
	// this channel.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindOpenStream:
		return "OpenStream"
	case KindMessage:
		return "Message"
	case KindCloseStream:
		return "CloseStream"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Event is the tagged union of protocol events carried by a channel. Which
// fields are meaningful depends on Kind.
type Event struct {
	Kind Kind

	Sid       uint64 // OpenStream, Message, CloseStream
	Prio      uint8  // OpenStream
	Promises  uint32 // OpenStream
	Bandwidth uint64 // OpenStream

	Mid    uint64 // Message
	Buffer []byte // Message; owned by the receiver once returned from Recv
}

// SendHalf is the send side of one attached channel. Implementations must
// make Send safe to call from a single goroutine only (the Send Manager
// never calls it concurrently with itself), but Close may race a last Send
// as the manager tears the channel down.
type SendHalf interface {
	// Send emits ev. An error means the channel is no longer usable and
	// should be dropped by the caller.
	Send(ctx context.Context, ev Event) error
	// Flush pushes any buffered-but-unsent bytes out, honoring a soft byte
	// budget and a hard time budget. Implementations that don't buffer may
	// treat this as a no-op.
	Flush(ctx context.Context, byteBudget int, timeBudget time.Duration) error
	// Close releases the underlying transport resources for this half.
	Close() error
}

// RecvHalf is the receive side of one attached channel. Recv is a single
// blocking call per invocation; the Recv Manager is responsible for calling
// it again (or not) depending on whether the channel is still registered.
type RecvHalf interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Transport is anything that can be split into a send half and a recv half
// once attached to a Participant. Splitting is one-shot: once Split is
// called the halves are owned by the Send and Recv Managers respectively,
// and Transport itself should not be reused.
type Transport interface {
	Split() (SendHalf, RecvHalf)
}
