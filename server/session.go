package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/editorp"
	"github.com/signadot/raedit/ra"
	"github.com/signadot/raedit/repos"
	"github.com/signadot/raedit/wire"
)

// DefaultAuthor is recorded for commits which name no author.
const DefaultAuthor = "anonymous"

// Session serves one client connection. Commands are handled one at a
// time; an edit or report occupies the connection until it ends.
type Session struct {
	ID     string
	rwc    io.ReadWriteCloser
	conn   *wire.Conn
	repo   *repos.Repo
	policy *Policy
	log    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// SessionConfig contains configuration for creating a session.
type SessionConfig struct {
	Repo      *repos.Repo
	Policy    *Policy
	Log       *slog.Logger
	BlockPoll time.Duration
}

// NewSession creates a new session for the given connection.
func NewSession(id string, rwc io.ReadWriteCloser, cfg *SessionConfig) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", id)
	return &Session{
		ID:     id,
		rwc:    rwc,
		conn:   wire.NewConn(rwc, &wire.Options{Log: log, BlockPoll: cfg.BlockPoll}),
		repo:   cfg.Repo,
		policy: cfg.Policy,
		log:    log,
		done:   make(chan struct{}),
	}
}

type sessionHandler func(s *Session, p *wire.Parser) error

var sessionHandlers map[string]sessionHandler

func init() {
	sessionHandlers = map[string]sessionHandler{
		"get-latest-rev": (*Session).getLatestRev,
		"commit":         (*Session).commit,
		"update":         (*Session).update,
	}
}

// Run reads and dispatches commands until the client disconnects or the
// session is closed.
func (s *Session) Run() error {
	defer s.rwc.Close()
	for {
		name, params, err := s.conn.ReadCmd()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, wire.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		h, ok := sessionHandlers[name]
		if !ok {
			s.log.Warn("unknown command", "cmd", name)
			err = s.conn.WriteCmdFailure(wire.NewError(wire.CodeUnknownCmd, fmt.Sprintf("unknown command %q", name)))
		} else {
			err = h(s, wire.NewParser(params))
		}
		if err == nil {
			err = s.conn.Flush()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
}

// Close signals the session to shut down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return s.rwc.Close()
}

// fail reports a command failure to the client; the session goes on.
func (s *Session) fail(err error) error {
	s.log.Warn("command failed", "error", err)
	return s.conn.WriteCmdFailure(err)
}

func (s *Session) getLatestRev(p *wire.Parser) error {
	return s.conn.WriteCmdResponse(wire.Num(uint64(s.repo.Head())))
}

// commit ( log-msg:string ?author:string ) acknowledges, consumes the
// client's edit and answers ( rev:number date:string author:string ).
func (s *Session) commit(p *wire.Parser) error {
	msg := p.Str()
	author, _ := p.OptStr()
	if err := p.Err(); err != nil {
		return s.fail(err)
	}
	if author == "" {
		author = DefaultAuthor
	}
	txn := s.repo.Begin(author, msg)
	var ed delta.Editor = txn
	if s.policy != nil {
		ed = s.policy.Editor(ed, author)
	}
	if s.log.Enabled(context.Background(), slog.LevelDebug) {
		ed = delta.NewTraceEditor(ed, s.log)
	}
	if err := s.conn.WriteCmdResponse(); err != nil {
		return err
	}
	aborted, err := editorp.DriveEditor(s.conn, ed, &editorp.DriverOptions{Log: s.log})
	var ce *editorp.CommandError
	if errors.As(err, &ce) {
		// the client already has the failure.
		s.log.Warn("commit failed", "base", txn.Base(), "error", ce.Err)
		return nil
	}
	if err != nil {
		return err
	}
	if aborted {
		s.log.Info("commit aborted by client", "base", txn.Base())
		return nil
	}
	rv := txn.Committed()
	return s.conn.WriteCmdResponse(
		wire.Num(uint64(rv.Rev)),
		wire.Str(rv.Date.Format(time.RFC3339Nano)),
		wire.Str(rv.Author),
	)
}

// update ( ?rev:number ?target:string ) acknowledges, reads the client's
// report and answers it with an edit to rev, or the head, followed by the
// final status.
func (s *Session) update(p *wire.Parser) error {
	rev := delta.Revnum(p.OptRev())
	target, _ := p.OptStr()
	if err := p.Err(); err != nil {
		return s.fail(err)
	}
	if rev.Valid() {
		if _, err := s.repo.Revision(rev); err != nil {
			return s.fail(err)
		}
	}
	if err := s.conn.WriteCmdResponse(); err != nil {
		return err
	}
	ed := editorp.NewEditor(s.conn, &editorp.EditorOptions{Log: s.log})
	col := &ra.Collector{
		OnFinish: func(entries []ra.Entry) error {
			s.log.Debug("report finished", "target", target, "rev", rev, "entries", len(entries))
			return s.repo.DriveUpdate(target, rev, entries, ed)
		},
	}
	aborted, err := ra.DriveReport(s.conn, col)
	var ce *editorp.CommandError
	if err != nil && !errors.As(err, &ce) {
		return err
	}
	if !aborted && err != nil {
		if aerr := ed.AbortEdit(); aerr != nil {
			return aerr
		}
	}
	if err != nil {
		return s.fail(err)
	}
	return s.conn.WriteCmdResponse()
}

// sessionSet tracks the running sessions of a listener.
type sessionSet struct {
	mu     sync.RWMutex
	m      map[string]*Session
	closed bool
	wg     sync.WaitGroup
}

func newSessionSet() *sessionSet {
	return &sessionSet{m: make(map[string]*Session)}
}

// run creates and runs a session for rwc, blocking until it ends.
func (ss *sessionSet) run(srv *Server, rwc io.ReadWriteCloser, kind, remote string) {
	id := kind + "-" + ulid.Make().String()
	log := srv.Setup.Log
	log.Debug("new connection", "session", id, "remote", remote)

	session := NewSession(id, rwc, &SessionConfig{
		Repo:      srv.Setup.Repo,
		Policy:    srv.policy,
		Log:       log,
		BlockPoll: srv.Setup.Config.BlockPollDuration(),
	})

	ss.mu.Lock()
	if ss.closed {
		ss.mu.Unlock()
		rwc.Close()
		return
	}
	ss.wg.Add(1)
	defer ss.wg.Done()
	ss.m[id] = session
	ss.mu.Unlock()

	if err := session.Run(); err != nil {
		log.Error("session error", "session", id, "error", err)
	}

	ss.mu.Lock()
	delete(ss.m, id)
	ss.mu.Unlock()

	log.Debug("session ended", "session", id)
}

// closeAll closes every session and waits for them to end.
func (ss *sessionSet) closeAll() {
	ss.mu.Lock()
	ss.closed = true
	for _, session := range ss.m {
		session.Close()
	}
	ss.mu.Unlock()
	ss.wg.Wait()
}

func (ss *sessionSet) count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.m)
}
