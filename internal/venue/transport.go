package venue

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

// Conn is one established venue session.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Transport establishes venue sessions. Production wires a websocket dialer;
// tests inject a fake to drive the connection state machine.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

type websocketTransport struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebsocketTransport creates a transport dialing the given ws/wss URL.
func NewWebsocketTransport(url string, handshakeTimeout time.Duration) Transport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &websocketTransport{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (t *websocketTransport) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, errors.Wrap(err, "dial "+t.url+" status "+resp.Status)
		}
		return nil, errors.Wrap(err, "dial "+t.url)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

// ReadMessage returns the next text frame, skipping other frame types.
func (c *websocketConn) ReadMessage() ([]byte, error) {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return payload, nil
	}
}

func (c *websocketConn) WriteMessage(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
