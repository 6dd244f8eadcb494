package editorp

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/svndiff"
	"github.com/signadot/raedit/wire"
)

// CommandError is a failure of the local editor while executing a command.
// Unlike protocol errors it leaves the connection usable: the peer is told
// about it and the rest of its edit is drained.
type CommandError struct {
	Cmd string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DriverOptions configures DriveEditor.
type DriverOptions struct {
	Log *slog.Logger
}

type driver struct {
	conn   *wire.Conn
	editor delta.Editor
	log    *slog.Logger
	tokens *tokenTable

	root     *arena
	filePool *arena
	fileRefs int

	done    bool
	aborted bool
}

func newDriver(conn *wire.Conn, editor delta.Editor, opts *DriverOptions) *driver {
	if opts == nil {
		opts = &DriverOptions{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	root := newArena(nil)
	return &driver{
		conn:     conn,
		editor:   editor,
		log:      log,
		tokens:   newTokenTable(log),
		root:     root,
		filePool: newArena(root),
	}
}

// DriveEditor reads edit commands from conn and replays them on editor
// until the edit is closed or aborted. aborted reports whether the edit
// ended by abort-edit or a command error.
//
// When editor fails a command, the edit is aborted locally, the failure is
// sent to the peer and commands are discarded until the peer's abort-edit;
// the editor's error is returned as a *CommandError. Malformed input and
// unknown commands are returned as is without recovery.
func DriveEditor(conn *wire.Conn, editor delta.Editor, opts *DriverOptions) (aborted bool, err error) {
	d := newDriver(conn, editor, opts)
	defer d.root.destroy()
	return d.run()
}

func (d *driver) run() (bool, error) {
	var failed *CommandError
	for !d.done {
		name, params, err := d.conn.ReadCmd()
		if err != nil {
			return d.aborted, err
		}
		err = d.dispatch(name, params)
		if err == nil {
			continue
		}
		if !errors.As(err, &failed) {
			return d.aborted, err
		}
		d.log.Warn("edit command failed", "cmd", name, "error", failed.Err)
		d.aborted = true
		if !d.done {
			d.editor.AbortEdit()
			d.conn.SetBlockHandler(d.blocked)
		}
		werr := d.conn.WriteCmdFailure(failed.Err)
		if werr == nil {
			werr = d.conn.Flush()
		}
		d.conn.SetBlockHandler(nil)
		if werr != nil {
			return true, werr
		}
		break
	}
	if failed == nil {
		return d.aborted, d.conn.Flush()
	}
	for !d.done {
		name, _, err := d.conn.ReadCmd()
		if err != nil {
			return true, err
		}
		if name == "abort-edit" {
			d.done = true
		}
	}
	return true, failed
}

// blocked runs while the failure response cannot be written because the
// peer is itself blocked writing commands.
func (d *driver) blocked(c *wire.Conn) error {
	name, _, err := c.ReadCmd()
	if err != nil {
		return err
	}
	if name == "abort-edit" {
		d.done = true
		c.SetBlockHandler(nil)
	}
	return nil
}

type cmdHandler func(d *driver, p *wire.Parser) error

var handlers map[string]cmdHandler

func init() {
	handlers = map[string]cmdHandler{
		"target-rev":       (*driver).targetRev,
		"open-root":        (*driver).openRoot,
		"delete-entry":     (*driver).deleteEntry,
		"add-dir":          (*driver).addDir,
		"open-dir":         (*driver).openDir,
		"change-dir-prop":  (*driver).changeDirProp,
		"close-dir":        (*driver).closeDir,
		"add-file":         (*driver).addFile,
		"open-file":        (*driver).openFile,
		"apply-textdelta":  (*driver).applyTextDelta,
		"textdelta-chunk":  (*driver).textDeltaChunk,
		"textdelta-end":    (*driver).textDeltaEnd,
		"change-file-prop": (*driver).changeFileProp,
		"close-file":       (*driver).closeFile,
		"close-edit":       (*driver).closeEdit,
		"abort-edit":       (*driver).abortEdit,
	}
}

func (d *driver) dispatch(name string, params []wire.Item) error {
	h, ok := handlers[name]
	if !ok {
		return wire.NewError(wire.CodeUnknownCmd, fmt.Sprintf("unknown edit command %q", name))
	}
	err := h(d, wire.NewParser(params))
	var ce *CommandError
	if errors.As(err, &ce) && ce.Cmd == "" {
		ce.Cmd = name
	}
	return err
}

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Err: err}
}

// canonicalize cleans a relative path or the path part of a URL.
func canonicalize(p string) string {
	if i := strings.Index(p, "://"); i > 0 {
		host, rest, _ := strings.Cut(p[i+3:], "/")
		rest = strings.TrimPrefix(path.Clean("/"+rest), "/")
		if rest == "" {
			return p[:i+3] + host
		}
		return p[:i+3] + host + "/" + rest
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func parseCopy(p *wire.Parser) (string, delta.Revnum, error) {
	t := p.List()
	if err := p.Err(); err != nil {
		return "", delta.InvalidRevnum, err
	}
	if t.Len() == 0 {
		return "", delta.InvalidRevnum, nil
	}
	cp := t.Str()
	rev := t.Rev()
	if err := t.Err(); err != nil {
		return "", delta.InvalidRevnum, err
	}
	return canonicalize(cp), delta.Revnum(rev), nil
}

func (d *driver) targetRev(p *wire.Parser) error {
	rev := p.Rev()
	if err := p.Err(); err != nil {
		return err
	}
	return cmdErr(d.editor.SetTargetRevision(delta.Revnum(rev)))
}

func (d *driver) openRoot(p *wire.Parser) error {
	rev := p.OptRev()
	token := p.Str()
	if err := p.Err(); err != nil {
		return err
	}
	b, err := d.editor.OpenRoot(delta.Revnum(rev))
	if err != nil {
		return cmdErr(err)
	}
	_, err = d.tokens.add(token, kindDir, b, newArena(d.root))
	return err
}

func (d *driver) deleteEntry(p *wire.Parser) error {
	pth := p.Str()
	rev := p.OptRev()
	token := p.Str()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	return cmdErr(d.editor.DeleteEntry(canonicalize(pth), delta.Revnum(rev), e.baton))
}

func (d *driver) addDir(p *wire.Parser) error {
	pth := p.Str()
	token := p.Str()
	child := p.Str()
	cp, crev, err := parseCopy(p)
	if err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	b, err := d.editor.AddDirectory(canonicalize(pth), e.baton, cp, crev)
	if err != nil {
		return cmdErr(err)
	}
	_, err = d.tokens.add(child, kindDir, b, newArena(e.arena))
	return err
}

func (d *driver) openDir(p *wire.Parser) error {
	pth := p.Str()
	token := p.Str()
	child := p.Str()
	rev := p.OptRev()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	b, err := d.editor.OpenDirectory(canonicalize(pth), e.baton, delta.Revnum(rev))
	if err != nil {
		return cmdErr(err)
	}
	_, err = d.tokens.add(child, kindDir, b, newArena(e.arena))
	return err
}

func (d *driver) changeDirProp(p *wire.Parser) error {
	token := p.Str()
	name := p.Str()
	value := p.OptBytes()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	return cmdErr(d.editor.ChangeDirProp(e.baton, name, value))
}

func (d *driver) closeDir(p *wire.Parser) error {
	token := p.Str()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	if err := d.editor.CloseDirectory(e.baton); err != nil {
		return cmdErr(err)
	}
	d.tokens.remove(token)
	e.arena.destroy()
	return nil
}

// fileOpened registers a file token in the shared file arena.
func (d *driver) fileOpened(token string, b delta.Baton) error {
	if _, err := d.tokens.add(token, kindFile, b, d.filePool); err != nil {
		return err
	}
	d.fileRefs++
	return nil
}

func (d *driver) addFile(p *wire.Parser) error {
	pth := p.Str()
	token := p.Str()
	child := p.Str()
	cp, crev, err := parseCopy(p)
	if err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	b, err := d.editor.AddFile(canonicalize(pth), e.baton, cp, crev)
	if err != nil {
		return cmdErr(err)
	}
	return d.fileOpened(child, b)
}

func (d *driver) openFile(p *wire.Parser) error {
	pth := p.Str()
	token := p.Str()
	child := p.Str()
	rev := p.OptRev()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindDir)
	if err != nil {
		return err
	}
	b, err := d.editor.OpenFile(canonicalize(pth), e.baton, delta.Revnum(rev))
	if err != nil {
		return cmdErr(err)
	}
	return d.fileOpened(child, b)
}

func (d *driver) applyTextDelta(p *wire.Parser) error {
	token := p.Str()
	base, _ := p.OptStr()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindFile)
	if err != nil {
		return err
	}
	if e.stream != nil {
		return wire.Malformed("apply-textdelta already active")
	}
	h, err := d.editor.ApplyTextDelta(e.baton, base)
	if err != nil {
		return cmdErr(err)
	}
	if h == nil {
		h = func(*delta.Window) error { return nil }
	}
	sub := newArena(d.filePool)
	e.stream = svndiff.NewDecoder(h)
	e.streamArena = sub
	sub.onCleanup(func() {
		e.stream = nil
		e.streamArena = nil
	})
	return nil
}

func (d *driver) textDeltaChunk(p *wire.Parser) error {
	token := p.Str()
	data := p.Bytes()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindFile)
	if err != nil {
		return err
	}
	if e.stream == nil {
		return wire.Malformed("apply-textdelta not active")
	}
	_, err = e.stream.Write(data)
	return cmdErr(err)
}

func (d *driver) textDeltaEnd(p *wire.Parser) error {
	token := p.Str()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindFile)
	if err != nil {
		return err
	}
	if e.stream == nil {
		return wire.Malformed("apply-textdelta not active")
	}
	err = e.stream.Close()
	e.streamArena.destroy()
	return cmdErr(err)
}

func (d *driver) changeFileProp(p *wire.Parser) error {
	token := p.Str()
	name := p.Str()
	value := p.OptBytes()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindFile)
	if err != nil {
		return err
	}
	return cmdErr(d.editor.ChangeFileProp(e.baton, name, value))
}

func (d *driver) closeFile(p *wire.Parser) error {
	token := p.Str()
	checksum, _ := p.OptStr()
	if err := p.Err(); err != nil {
		return err
	}
	e, err := d.tokens.lookup(token, kindFile)
	if err != nil {
		return err
	}
	if err := d.editor.CloseFile(e.baton, checksum); err != nil {
		return cmdErr(err)
	}
	d.tokens.remove(token)
	d.fileRefs--
	if d.fileRefs == 0 {
		d.filePool.clear()
	}
	return nil
}

func (d *driver) closeEdit(p *wire.Parser) error {
	if err := d.editor.CloseEdit(); err != nil {
		return cmdErr(err)
	}
	d.done = true
	d.aborted = false
	return d.conn.WriteCmdResponse()
}

func (d *driver) abortEdit(p *wire.Parser) error {
	d.done = true
	d.aborted = true
	if err := d.editor.AbortEdit(); err != nil {
		return cmdErr(err)
	}
	return d.conn.WriteCmdResponse()
}
