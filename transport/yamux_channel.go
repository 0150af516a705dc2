package transport

import (
	"net"

	"github.com/hashicorp/yamux"

	"github.com/gosuda/participant/wire"
)

// DialYamuxChannel opens a single yamux stream over conn as the client side
// and wraps it in the shared event framing. Many Participant channels can
// share one physical connection this way, each mapping to its own yamux
// stream — the same session.OpenStream()/session.AcceptStream() pattern
// relaydns's RelayClient/RelayServer use for their own application streams,
// just one layer further out: here a yamux stream carries wire.Events
// instead of raw relayed bytes.
func DialYamuxChannel(conn net.Conn, cfg *yamux.Config) (wire.Transport, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	sess, err := yamux.Client(conn, cfg)
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenStream()
	if err != nil {
		sess.Close()
		return nil, err
	}
	return NewCodecTransport(stream), nil
}

// AcceptYamuxChannel is the server-side counterpart of DialYamuxChannel: it
// accepts the next yamux stream on conn and wraps it in the shared framing.
func AcceptYamuxChannel(conn net.Conn, cfg *yamux.Config) (wire.Transport, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	sess, err := yamux.Server(conn, cfg)
	if err != nil {
		return nil, err
	}
	stream, err := sess.AcceptStream()
	if err != nil {
		sess.Close()
		return nil, err
	}
	return NewCodecTransport(stream), nil
}
