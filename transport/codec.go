// Package transport provides concrete wire.Transport implementations over
// real byte streams: an in-process pipe for tests and demos, a yamux stream
// multiplexed over a net.Conn, a websocket connection, and a libp2p stream.
// All of them share one binary framing (codec.go) so a Participant never has
// to know which one it's talking to.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/gosuda/participant/wire"
)

// maxRawEventSize bounds a single encoded event, guarding against a
// corrupt or hostile peer claiming an unbounded buffer length.
const maxRawEventSize = 16 << 20 // 16 MiB

// deadlineSetter is implemented by net.Conn and the handful of other
// io.ReadWriteClosers we wrap (yamux.Stream, libp2p network.Stream). Flush
// uses it to honor its time budget without a generic io.ReadWriteCloser
// growing a context-aware API.
type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// codecTransport frames wire.Event values over an io.ReadWriteCloser using a
// single binary encoding: [4-byte BE length][1-byte kind][kind-specific
// fields]. This mirrors the length-prefixed framing relaydns uses for its
// own packets (handlers.go's readPacket/writePacket), generalized from one
// fixed payload type to the four-variant wire.Event union.
type codecTransport struct {
	conn io.ReadWriteCloser
}

// NewCodecTransport wraps conn with the shared event framing. conn is
// owned by the returned Transport once Split is called.
func NewCodecTransport(conn io.ReadWriteCloser) wire.Transport {
	return &codecTransport{conn: conn}
}

func (t *codecTransport) Split() (wire.SendHalf, wire.RecvHalf) {
	return &codecSendHalf{conn: t.conn, w: bufio.NewWriter(t.conn)},
		&codecRecvHalf{conn: t.conn, r: bufio.NewReader(t.conn)}
}

type codecSendHalf struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	w    *bufio.Writer
}

func (s *codecSendHalf) Send(ctx context.Context, ev wire.Event) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	encodeEvent(buf, ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := s.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.B); err != nil {
		return err
	}
	// A soft flush keeps a single oversized message from sitting unsent
	// until the next periodic Flush tick.
	if s.w.Buffered() >= 1_000_000 {
		return s.w.Flush()
	}
	return nil
}

func (s *codecSendHalf) Flush(ctx context.Context, byteBudget int, timeBudget time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.conn.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(timeBudget))
		defer d.SetWriteDeadline(time.Time{})
	}
	return s.w.Flush()
}

func (s *codecSendHalf) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.conn.Close()
}

type codecRecvHalf struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
}

func (s *codecRecvHalf) Recv(ctx context.Context) (wire.Event, error) {
	if d, ok := s.conn.(interface {
		SetReadDeadline(time.Time) error
	}); ok {
		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			_ = d.SetReadDeadline(deadline)
			defer d.SetReadDeadline(time.Time{})
		}
	}

	var lenPrefix [4]byte
	if _, err := io.ReadFull(s.r, lenPrefix[:]); err != nil {
		return wire.Event{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxRawEventSize {
		return wire.Event{}, fmt.Errorf("transport: frame too large (%d bytes)", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return wire.Event{}, err
	}
	return decodeEvent(payload)
}

func (s *codecRecvHalf) Close() error {
	return s.conn.Close()
}

func encodeEvent(buf *bytebufferpool.ByteBuffer, ev wire.Event) {
	buf.WriteByte(byte(ev.Kind))
	switch ev.Kind {
	case wire.KindOpenStream:
		writeUint64(buf, ev.Sid)
		buf.WriteByte(ev.Prio)
		writeUint32(buf, ev.Promises)
		writeUint64(buf, ev.Bandwidth)
	case wire.KindMessage:
		writeUint64(buf, ev.Sid)
		writeUint64(buf, ev.Mid)
		writeUint32(buf, uint32(len(ev.Buffer)))
		buf.Write(ev.Buffer)
	case wire.KindCloseStream:
		writeUint64(buf, ev.Sid)
	case wire.KindShutdown:
		// no payload
	}
}

func decodeEvent(payload []byte) (wire.Event, error) {
	if len(payload) == 0 {
		return wire.Event{}, fmt.Errorf("transport: empty frame")
	}
	kind := wire.Kind(payload[0])
	body := payload[1:]

	switch kind {
	case wire.KindOpenStream:
		if len(body) < 8+1+4+8 {
			return wire.Event{}, fmt.Errorf("transport: short OpenStream frame")
		}
		sid := binary.BigEndian.Uint64(body[0:8])
		prio := body[8]
		promises := binary.BigEndian.Uint32(body[9:13])
		bw := binary.BigEndian.Uint64(body[13:21])
		return wire.Event{Kind: kind, Sid: sid, Prio: prio, Promises: promises, Bandwidth: bw}, nil
	case wire.KindMessage:
		if len(body) < 8+8+4 {
			return wire.Event{}, fmt.Errorf("transport: short Message frame")
		}
		sid := binary.BigEndian.Uint64(body[0:8])
		mid := binary.BigEndian.Uint64(body[8:16])
		n := binary.BigEndian.Uint32(body[16:20])
		rest := body[20:]
		if uint32(len(rest)) < n {
			return wire.Event{}, fmt.Errorf("transport: truncated Message buffer")
		}
		owned := make([]byte, n)
		copy(owned, rest[:n])
		return wire.Event{Kind: kind, Sid: sid, Mid: mid, Buffer: owned}, nil
	case wire.KindCloseStream:
		if len(body) < 8 {
			return wire.Event{}, fmt.Errorf("transport: short CloseStream frame")
		}
		sid := binary.BigEndian.Uint64(body[0:8])
		return wire.Event{Kind: kind, Sid: sid}, nil
	case wire.KindShutdown:
		return wire.Event{Kind: kind}, nil
	default:
		return wire.Event{}, fmt.Errorf("transport: unknown event kind %d", kind)
	}
}

func writeUint64(buf *bytebufferpool.ByteBuffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytebufferpool.ByteBuffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
