package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/signadot/raedit/wire"
)

// WebSocketListener carries the tuple protocol in binary websocket
// messages, one session per upgraded connection.
type WebSocketListener struct {
	listener net.Listener
	server   *Server
	http     *http.Server
	upgrader websocket.Upgrader
	sessions *sessionSet

	closed atomic.Bool
}

// NewWebSocketListener creates a new websocket listener.
func NewWebSocketListener(addr string, server *Server) (*WebSocketListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l := &WebSocketListener{
		listener: listener,
		server:   server,
		sessions: newSessionSet(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	l.http = &http.Server{Handler: mux}
	return l, nil
}

// Addr returns the listener's network address.
func (l *WebSocketListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve blocks until Close is called or an error occurs.
func (l *WebSocketListener) Serve() error {
	l.server.Setup.Log.Info("websocket listener started", "addr", l.listener.Addr().String())
	err := l.http.Serve(l.listener)
	if errors.Is(err, http.ErrServerClosed) || l.closed.Load() {
		return nil
	}
	return err
}

func (l *WebSocketListener) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has answered with an HTTP error.
		l.server.Setup.Log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	l.sessions.run(l.server, wire.NewWebSocketConn(ws), "ws", r.RemoteAddr)
}

// Close shuts down the listener and all sessions.
func (l *WebSocketListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	// hijacked connections are not closed by the HTTP server.
	err := l.http.Close()
	l.sessions.closeAll()
	l.server.Setup.Log.Info("websocket listener stopped")
	return err
}

// SessionCount returns the number of active sessions.
func (l *WebSocketListener) SessionCount() int {
	return l.sessions.count()
}
