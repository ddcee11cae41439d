package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"
	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/orchestra-mcp/pulse/src/types"
)

// Dialer opens the physical stream connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (types.Conn, error)
}

// WebsocketDialer dials the stream over WebSocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWebsocketDialer creates a dialer with the given handshake timeout.
// The credential is never placed in the URL or headers; it is sent in the
// first message after the socket opens.
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		header: http.Header{},
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (types.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrTransport, "websocket dial "+url)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn wraps websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error { return c.conn.WriteJSON(v) }
func (c *wsConn) Close() error          { return c.conn.Close() }

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// closeStatus extracts the close code from a read error. Anything that is
// not a close frame from the peer counts as an abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err != nil {
		return websocket.CloseAbnormalClosure, err.Error()
	}
	return websocket.CloseAbnormalClosure, ""
}
