// Package wsconn adapts a gorilla/websocket connection to the
// internal/rpc.Transport contract: text frames carry RPC envelopes,
// ping/pong are handled transparently by the underlying library, and any
// binary frame terminates the session as a client protocol error.
package wsconn

import (
	"fmt"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Conn wraps a *websocket.Conn to satisfy rpc.Transport.
type Conn struct {
	ws *websocket.Conn
}

// New wraps an established websocket connection. Pong handling is left to
// gorilla's default handler, which is sufficient for transparent
// keepalive; callers that need liveness beyond TCP should rely on the
// peer's own $/ping RPC instead of websocket control frames.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadMessage blocks for the next text frame. A binary frame is treated as
// a protocol violation and ends the session; close and network errors are
// surfaced to the caller as the end-of-stream signal.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch kind {
		case websocket.TextMessage:
			return data, nil
		case websocket.BinaryMessage:
			log.Warn("wsconn: received binary frame, terminating session as a client protocol error")
			_ = c.ws.Close()
			return nil, fmt.Errorf("wsconn: unexpected binary frame")
		default:
			// Ping/pong/close control frames are handled internally by
			// gorilla's read loop; nothing else should reach us here.
		}
	}
}

// WriteMessage sends data as a single text frame.
func (c *Conn) WriteMessage(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
