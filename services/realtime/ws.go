package realtime

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	pingText = "ping"
	pongText = "pong"
)

// WSConn is a Conn over a gorilla websocket.
type WSConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex // one writer at a time
	closeOnce sync.Once
}

var _ Conn = (*WSConn)(nil)

func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration) *WSConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSConn{id: uuid.NewString(), ws: ws, writeTimeout: writeTimeout}
}

func (c *WSConn) ID() string { return c.id }

// Send writes msg as a text frame. A failed write closes the connection.
func (c *WSConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		_ = c.ws.Close()
		return errors.Wrap(err, "writing message")
	}
	return nil
}

func (c *WSConn) Ping() error {
	err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
	if err != nil {
		_ = c.ws.Close()
		return errors.Wrap(err, "writing ping")
	}
	return nil
}

// ReadJSON reads the next frame into v within timeout.
func (c *WSConn) ReadJSON(v interface{}, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	}
	return c.ws.ReadJSON(v)
}

// Listen reads until the peer goes away or stays silent for idleTimeout.
// Any frame, pong included, extends the deadline; a "ping" text is answered with "pong".
func (c *WSConn) Listen(idleTimeout time.Duration) error {
	extend := func() {
		if idleTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(idleTimeout))
		} else {
			_ = c.ws.SetReadDeadline(time.Time{})
		}
	}
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		extend()
		if typ == websocket.TextMessage && strings.TrimSpace(string(data)) == pingText {
			if err = c.Send([]byte(pongText)); err != nil {
				return err
			}
		}
	}
}

// Close sends a close frame with code and reason, then closes the connection.
func (c *WSConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		err = c.ws.Close()
	})
	return err
}
