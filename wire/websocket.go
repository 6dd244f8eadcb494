package wire

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketConn carries the byte stream of a Conn in binary websocket
// messages. A background goroutine reads messages as they arrive, so the
// peer's writes never stall on this side and InputPending never blocks.
type WebSocketConn struct {
	ws *websocket.Conn

	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	err  error

	wmu sync.Mutex
}

// NewWebSocketConn starts reading from ws.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{ws: ws}
	c.cond = sync.NewCond(&c.mu)
	go c.readLoop()
	return c
}

var _ InputPender = (*WebSocketConn)(nil)

func (c *WebSocketConn) readLoop() {
	for {
		typ, data, err := c.ws.ReadMessage()
		c.mu.Lock()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			c.err = err
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		if typ == websocket.BinaryMessage || typ == websocket.TextMessage {
			c.buf = append(c.buf, data...)
			c.cond.Broadcast()
		}
		c.mu.Unlock()
	}
}

func (c *WebSocketConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) == 0 && c.err == nil {
		c.cond.Wait()
	}
	if len(c.buf) == 0 {
		return 0, c.err
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *WebSocketConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// InputPending reports whether buffered input or a read error is waiting.
func (c *WebSocketConn) InputPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) > 0 || c.err != nil
}

// Close sends a close message and closes the socket.
func (c *WebSocketConn) Close() error {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.wmu.Unlock()
	return c.ws.Close()
}
