package transport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/gosuda/participant/wire"
)

// NewLibp2pChannel wraps an already-open libp2p stream in the shared event
// framing, treating it as one Participant channel. Establishing the stream
// itself (dialing, protocol negotiation) is transport establishment, which
// spec section 1 calls out as out of scope for the Participant core; it
// lives here instead, one layer below. network.Stream already satisfies
// io.ReadWriteCloser plus SetWriteDeadline/SetReadDeadline, so the shared
// codec's Flush/Recv deadlines apply to it unchanged.
func NewLibp2pChannel(stream network.Stream) wire.Transport {
	return NewCodecTransport(stream)
}

// MakeHost boots a libp2p host listening on the given TCP+QUIC port,
// adapted from relaydns's own host bootstrap (relaydns/host.go) and its
// pkg/p2p.go twin: NAT traversal, hole punching and default muxers/security
// are kept, the optional circuit-relay capability is left as a caller
// choice, and the gossip-based directory/picker that those two files built
// on top is dropped — this package only needs a connected host to open
// streams on, not a peer directory (discovery is a non-goal here).
func MakeHost(ctx context.Context, port int, enableRelay bool) (host.Host, error) {
	addrs := []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", port),
		fmt.Sprintf("/ip6/::/tcp/%d", port),
		fmt.Sprintf("/ip6/::/udp/%d/quic-v1", port),
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addrs...),
		libp2p.DefaultTransports,
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
	}
	if enableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	return libp2p.New(opts...)
}

// ConnectPeer dials addr (a multiaddr with a trailing /p2p/<id>) and opens a
// fresh stream on protoID, ready to be handed to NewLibp2pChannel.
func ConnectPeer(ctx context.Context, h host.Host, addr string, protoID protocol.ID) (network.Stream, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bad multiaddr %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return nil, fmt.Errorf("transport: multiaddr missing /p2p/: %w", err)
	}
	if err := h.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", info.ID, err)
	}
	stream, err := h.NewStream(ctx, info.ID, protoID)
	if err != nil {
		return nil, fmt.Errorf("transport: new stream to %s: %w", info.ID, err)
	}
	return stream, nil
}
