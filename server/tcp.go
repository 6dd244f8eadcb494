package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// TCPListener accepts tuple protocol connections over TCP.
type TCPListener struct {
	listener net.Listener
	server   *Server
	sessions *sessionSet

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(addr string, server *Server) (*TCPListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &TCPListener{
		listener: listener,
		server:   server,
		sessions: newSessionSet(),
	}, nil
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections and creates sessions.
// Blocks until Close is called or an error occurs.
func (l *TCPListener) Serve() error {
	log := l.server.Setup.Log
	log.Info("TCP listener started", "addr", l.listener.Addr().String())

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			log.Error("accept error", "error", err)
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.sessions.run(l.server, conn, "tcp", conn.RemoteAddr().String())
		}()
	}
}

// Close shuts down the listener and all sessions.
func (l *TCPListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.listener.Close(); err != nil {
		l.server.Setup.Log.Error("error closing listener", "error", err)
	}
	l.sessions.closeAll()
	l.wg.Wait()
	l.server.Setup.Log.Info("TCP listener stopped")
	return nil
}

// SessionCount returns the number of active sessions.
func (l *TCPListener) SessionCount() int {
	return l.sessions.count()
}
