package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/gosuda/participant/wire"
)

// DialWebsocketChannel dials url and wraps the resulting connection in the
// shared event framing, treating the whole websocket connection as one
// channel.
func DialWebsocketChannel(ctx context.Context, url string, opts *websocket.DialOptions) (wire.Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxRawEventSize)
	return NewCodecTransport(websocket.NetConn(ctx, conn, websocket.MessageBinary)), nil
}

// AcceptWebsocketChannel upgrades an inbound HTTP request to a websocket and
// wraps it in the shared event framing.
func AcceptWebsocketChannel(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (wire.Transport, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxRawEventSize)
	return NewCodecTransport(websocket.NetConn(r.Context(), conn, websocket.MessageBinary)), nil
}
