package ra

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/editorp"
	"github.com/signadot/raedit/wire"
)

// Options configures the wire reporter.
type Options struct {
	Log *slog.Logger
}

// WireReporter sends a report over a connection. Report commands are
// pipelined; FinishReport then receives the server's edit into an editor.
type WireReporter struct {
	conn     *wire.Conn
	editor   delta.Editor
	log      *slog.Logger
	finished bool
}

var _ Reporter = (*WireReporter)(nil)

// NewReporter returns a WireReporter whose FinishReport applies the
// answering edit to editor. A nil editor expects no edit.
func NewReporter(conn *wire.Conn, editor delta.Editor, opts *Options) *WireReporter {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &WireReporter{conn: conn, editor: editor, log: log}
}

func (r *WireReporter) SetPath(path string, rev delta.Revnum) error {
	if !rev.Valid() {
		return fmt.Errorf("set-path %q: invalid revision", path)
	}
	return r.conn.WriteCmd("set-path", wire.Str(path), wire.Num(uint64(rev)))
}

func (r *WireReporter) DeletePath(path string) error {
	return r.conn.WriteCmd("delete-path", wire.Str(path))
}

// FinishReport ends the report, drives the editor with the server's edit
// and reads the server's final status.
func (r *WireReporter) FinishReport() error {
	r.finished = true
	if err := r.conn.WriteCmd("finish-report"); err != nil {
		return err
	}
	if r.editor != nil {
		aborted, err := editorp.DriveEditor(r.conn, r.editor, &editorp.DriverOptions{Log: r.log})
		var ce *editorp.CommandError
		if errors.As(err, &ce) {
			// the server still sends its status.
			r.conn.ReadCmdResponse()
			return err
		}
		if err != nil {
			return err
		}
		if aborted {
			r.log.Info("server aborted the update edit")
		}
	}
	_, err := r.conn.ReadCmdResponse()
	return err
}

// AbortReport tells the server to drop the report. Once finish-report was
// sent the server has already ended the report, so nothing is written.
func (r *WireReporter) AbortReport() error {
	if r.finished {
		return nil
	}
	if err := r.conn.WriteCmd("abort-report"); err != nil {
		return err
	}
	_, err := r.conn.ReadCmdResponse()
	return err
}

// DriveReport reads report commands from conn into r until finish-report
// or abort-report. aborted is true when the client aborted.
//
// A failing reporter call does not end the loop: the rest of the report is
// consumed, r is aborted at its end and the failure returned as a
// *editorp.CommandError. Any other error means the stream is unusable. The
// caller writes the final response.
func DriveReport(conn *wire.Conn, r Reporter) (aborted bool, err error) {
	var failed error
	fail := func(cmd string, err error) {
		if err != nil && failed == nil {
			failed = &editorp.CommandError{Cmd: cmd, Err: err}
		}
	}
	for {
		name, params, err := conn.ReadCmd()
		if err != nil {
			return false, err
		}
		p := wire.NewParser(params)
		switch name {
		case "set-path":
			pth := p.Str()
			rev := p.Rev()
			if err := p.Err(); err != nil {
				return false, err
			}
			if failed == nil {
				fail(name, r.SetPath(cleanPath(pth), delta.Revnum(rev)))
			}
		case "delete-path":
			pth := p.Str()
			if err := p.Err(); err != nil {
				return false, err
			}
			if failed == nil {
				fail(name, r.DeletePath(cleanPath(pth)))
			}
		case "finish-report":
			if failed != nil {
				r.AbortReport()
				return false, failed
			}
			fail(name, r.FinishReport())
			return false, failed
		case "abort-report":
			fail(name, r.AbortReport())
			return true, failed
		default:
			return false, wire.NewError(wire.CodeUnknownCmd, fmt.Sprintf("unknown report command %q", name))
		}
	}
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
