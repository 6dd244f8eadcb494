// Package server serves a repository to working copies over the tuple
// protocol: commits arrive as edits, updates answer reports with edits.
package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/repos"
)

// Setup is what New needs to serve a repository. A nil Repo is replaced
// by an empty in-memory repository starting at the configured head.
type Setup struct {
	// Config holds the settings read by LoadConfig, including the commit
	// policy sessions check edits against. Nil means DefaultConfig.
	Config *Config
	// Repo is the repository sessions commit to and update from.
	Repo *repos.Repo
	Log  *slog.Logger
}

// Server represents the raedit server.
type Server struct {
	Setup Setup

	policy *Policy

	tcpListener *TCPListener
	wsListener  *WebSocketListener
}

// New creates a new Server instance.
func New(setup *Setup) (*Server, error) {
	if setup.Log == nil {
		setup.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slogLevel(),
		}))
	}
	if setup.Config == nil {
		setup.Config = DefaultConfig()
	}
	if err := setup.Config.Validate(); err != nil {
		return nil, err
	}
	if setup.Repo == nil {
		setup.Repo = repos.New(&repos.Options{
			Log:  setup.Log,
			Head: delta.Revnum(setup.Config.Head),
		})
	}

	s := &Server{Setup: *setup}
	if pc := setup.Config.Policy; pc != nil {
		p, err := CompilePolicy(pc.Allow)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		s.policy = p
		setup.Log.Info("configured commit policy", "allow", pc.Allow)
	}
	return s, nil
}

func slogLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Start starts the listeners named by the configuration.
func (s *Server) Start() error {
	if addr := s.Setup.Config.Listen; addr != "" {
		if err := s.StartTCP(addr); err != nil {
			return err
		}
	}
	if addr := s.Setup.Config.WebSocket; addr != "" {
		if err := s.StartWebSocket(addr); err != nil {
			s.StopTCP()
			return err
		}
	}
	return nil
}

// Stop stops all listeners.
func (s *Server) Stop() error {
	werr := s.StopWebSocket()
	if err := s.StopTCP(); err != nil {
		return err
	}
	return werr
}

// StartTCP starts the TCP listener on the given address.
// The listener runs in a separate goroutine.
func (s *Server) StartTCP(addr string) error {
	if s.tcpListener != nil {
		return fmt.Errorf("TCP listener already running")
	}
	listener, err := NewTCPListener(addr, s)
	if err != nil {
		return err
	}
	s.tcpListener = listener

	go func() {
		if err := listener.Serve(); err != nil {
			s.Setup.Log.Error("TCP listener error", "error", err)
		}
	}()
	return nil
}

// StopTCP stops the TCP listener.
func (s *Server) StopTCP() error {
	if s.tcpListener == nil {
		return nil
	}
	err := s.tcpListener.Close()
	s.tcpListener = nil
	return err
}

// TCPAddr returns the TCP listener's address, or "" if not running.
func (s *Server) TCPAddr() string {
	if s.tcpListener == nil {
		return ""
	}
	return s.tcpListener.Addr().String()
}

// StartWebSocket starts the websocket listener on the given address.
func (s *Server) StartWebSocket(addr string) error {
	if s.wsListener != nil {
		return fmt.Errorf("websocket listener already running")
	}
	listener, err := NewWebSocketListener(addr, s)
	if err != nil {
		return err
	}
	s.wsListener = listener

	go func() {
		if err := listener.Serve(); err != nil {
			s.Setup.Log.Error("websocket listener error", "error", err)
		}
	}()
	return nil
}

// StopWebSocket stops the websocket listener.
func (s *Server) StopWebSocket() error {
	if s.wsListener == nil {
		return nil
	}
	err := s.wsListener.Close()
	s.wsListener = nil
	return err
}

// WebSocketAddr returns the websocket listener's address, or "" if not
// running.
func (s *Server) WebSocketAddr() string {
	if s.wsListener == nil {
		return ""
	}
	return s.wsListener.Addr().String()
}
