package editorp

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/svndiff"
	"github.com/signadot/raedit/wire"
)

// ErrCopySourceMismatch is returned when only one of copy path and copy
// revision is given.
var ErrCopySourceMismatch = errors.New("copy path and copy revision must both be present or both be absent")

// EditorOptions configures the producing editor.
type EditorOptions struct {
	Log *slog.Logger
	// OnClose runs after the peer acknowledged close-edit.
	OnClose func() error
}

// Editor is a delta.Editor which sends every call over a connection as a
// command. Commands are pipelined: the only reply read is the one to
// close-edit or abort-edit, unless the peer reports a failure early.
type Editor struct {
	conn      *wire.Conn
	log       *slog.Logger
	onClose   func() error
	nextToken uint64
	gotStatus bool
}

type baton struct {
	token string
	kind  entryKind
}

var _ delta.Editor = (*Editor)(nil)

// NewEditor returns an Editor writing to conn. opts may be nil.
func NewEditor(conn *wire.Conn, opts *EditorOptions) *Editor {
	if opts == nil {
		opts = &EditorOptions{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Editor{conn: conn, log: log, onClose: opts.OnClose}
}

func (e *Editor) makeToken(kind entryKind) *baton {
	c := 'd'
	if kind == kindFile {
		c = 'c'
	}
	b := &baton{token: fmt.Sprintf("%c%d", c, e.nextToken), kind: kind}
	e.nextToken++
	return b
}

func asBaton(b delta.Baton, kind entryKind) (*baton, error) {
	pb, ok := b.(*baton)
	if !ok || pb == nil {
		return nil, fmt.Errorf("baton %T was not created by this editor", b)
	}
	if pb.kind != kind {
		return nil, fmt.Errorf("%s baton %s used as a %s", pb.kind, pb.token, kind)
	}
	return pb, nil
}

// checkForError is called before each write. A peer which has something to
// say before close-edit has given up on the edit.
func (e *Editor) checkForError() error {
	if e.gotStatus {
		panic("editorp: edit command after the final edit status")
	}
	if !e.conn.InputWaiting() {
		return nil
	}
	e.gotStatus = true
	if err := e.conn.WriteCmd("abort-edit"); err != nil {
		return err
	}
	if _, err := e.conn.ReadCmdResponse(); err != nil {
		return err
	}
	return wire.Malformed("successful edit status returned too soon")
}

func (e *Editor) writeCmd(name string, params ...wire.Item) error {
	if err := e.checkForError(); err != nil {
		return err
	}
	return e.conn.WriteCmd(name, params...)
}

func copyItem(copyPath string, copyRev delta.Revnum) (wire.Item, error) {
	if (copyPath != "") != copyRev.Valid() {
		return wire.Item{}, ErrCopySourceMismatch
	}
	if copyPath == "" {
		return wire.List(), nil
	}
	return wire.List(wire.Str(copyPath), wire.Num(uint64(copyRev))), nil
}

func (e *Editor) SetTargetRevision(rev delta.Revnum) error {
	if !rev.Valid() {
		return fmt.Errorf("target-rev: invalid revision")
	}
	return e.writeCmd("target-rev", wire.Num(uint64(rev)))
}

func (e *Editor) OpenRoot(baseRev delta.Revnum) (delta.Baton, error) {
	b := e.makeToken(kindDir)
	if err := e.writeCmd("open-root", wire.OptRev(int64(baseRev)), wire.Str(b.token)); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Editor) DeleteEntry(path string, rev delta.Revnum, parent delta.Baton) error {
	pb, err := asBaton(parent, kindDir)
	if err != nil {
		return err
	}
	return e.writeCmd("delete-entry", wire.Str(path), wire.OptRev(int64(rev)), wire.Str(pb.token))
}

func (e *Editor) AddDirectory(path string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	pb, err := asBaton(parent, kindDir)
	if err != nil {
		return nil, err
	}
	cp, err := copyItem(copyPath, copyRev)
	if err != nil {
		return nil, err
	}
	b := e.makeToken(kindDir)
	if err := e.writeCmd("add-dir", wire.Str(path), wire.Str(pb.token), wire.Str(b.token), cp); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Editor) OpenDirectory(path string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	pb, err := asBaton(parent, kindDir)
	if err != nil {
		return nil, err
	}
	b := e.makeToken(kindDir)
	if err := e.writeCmd("open-dir", wire.Str(path), wire.Str(pb.token), wire.Str(b.token), wire.OptRev(int64(baseRev))); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Editor) ChangeDirProp(dir delta.Baton, name string, value []byte) error {
	b, err := asBaton(dir, kindDir)
	if err != nil {
		return err
	}
	return e.writeCmd("change-dir-prop", wire.Str(b.token), wire.Str(name), wire.OptBytes(value))
}

func (e *Editor) CloseDirectory(dir delta.Baton) error {
	b, err := asBaton(dir, kindDir)
	if err != nil {
		return err
	}
	return e.writeCmd("close-dir", wire.Str(b.token))
}

func (e *Editor) AddFile(path string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	pb, err := asBaton(parent, kindDir)
	if err != nil {
		return nil, err
	}
	cp, err := copyItem(copyPath, copyRev)
	if err != nil {
		return nil, err
	}
	b := e.makeToken(kindFile)
	if err := e.writeCmd("add-file", wire.Str(path), wire.Str(pb.token), wire.Str(b.token), cp); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Editor) OpenFile(path string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	pb, err := asBaton(parent, kindDir)
	if err != nil {
		return nil, err
	}
	b := e.makeToken(kindFile)
	if err := e.writeCmd("open-file", wire.Str(path), wire.Str(pb.token), wire.Str(b.token), wire.OptRev(int64(baseRev))); err != nil {
		return nil, err
	}
	return b, nil
}

// chunkWriter sends each svndiff write as a textdelta-chunk.
type chunkWriter struct {
	e     *Editor
	token string
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if err := w.e.writeCmd("textdelta-chunk", wire.Str(w.token), wire.Bytes(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *chunkWriter) Close() error {
	return w.e.writeCmd("textdelta-end", wire.Str(w.token))
}

func (e *Editor) ApplyTextDelta(file delta.Baton, baseChecksum string) (delta.WindowHandler, error) {
	b, err := asBaton(file, kindFile)
	if err != nil {
		return nil, err
	}
	if err := e.writeCmd("apply-textdelta", wire.Str(b.token), wire.OptStr(baseChecksum)); err != nil {
		return nil, err
	}
	enc := svndiff.NewEncoder(&chunkWriter{e: e, token: b.token})
	return enc.Handle, nil
}

func (e *Editor) ChangeFileProp(file delta.Baton, name string, value []byte) error {
	b, err := asBaton(file, kindFile)
	if err != nil {
		return err
	}
	return e.writeCmd("change-file-prop", wire.Str(b.token), wire.Str(name), wire.OptBytes(value))
}

func (e *Editor) CloseFile(file delta.Baton, textChecksum string) error {
	b, err := asBaton(file, kindFile)
	if err != nil {
		return err
	}
	return e.writeCmd("close-file", wire.Str(b.token), wire.OptStr(textChecksum))
}

// CloseEdit sends close-edit and waits for the peer's verdict. If the peer
// failed, the edit is aborted and the peer's error returned.
func (e *Editor) CloseEdit() error {
	if e.gotStatus {
		panic("editorp: close-edit after the final edit status")
	}
	e.gotStatus = true
	if err := e.conn.WriteCmd("close-edit"); err != nil {
		return err
	}
	if _, err := e.conn.ReadCmdResponse(); err != nil {
		if e.conn.WriteCmd("abort-edit") == nil {
			e.conn.Flush()
		}
		return err
	}
	if e.onClose != nil {
		return e.onClose()
	}
	return nil
}

// AbortEdit sends abort-edit unless the edit already has a final status.
func (e *Editor) AbortEdit() error {
	if e.gotStatus {
		return nil
	}
	e.gotStatus = true
	if err := e.conn.WriteCmd("abort-edit"); err != nil {
		return err
	}
	_, err := e.conn.ReadCmdResponse()
	return err
}
