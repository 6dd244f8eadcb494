package editorp

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/wire"
)

// recorder is a delta.Editor writing each call as a line.
type recorder struct {
	ops    []string
	fail   map[string]error
	aborts int
}

type recBaton struct {
	path string
}

func newRecorder() *recorder {
	return &recorder{fail: map[string]error{}}
}

var _ delta.Editor = (*recorder)(nil)

func (r *recorder) rec(format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	r.ops = append(r.ops, op)
	return r.fail[op]
}

func bpath(b delta.Baton) string {
	return b.(*recBaton).path
}

func propOp(value []byte) string {
	if value == nil {
		return " deleted"
	}
	return "=" + string(value)
}

func (r *recorder) SetTargetRevision(rev delta.Revnum) error {
	return r.rec("target-rev %d", rev)
}

func (r *recorder) OpenRoot(rev delta.Revnum) (delta.Baton, error) {
	if err := r.rec("open-root %d", rev); err != nil {
		return nil, err
	}
	return &recBaton{}, nil
}

func (r *recorder) DeleteEntry(p string, rev delta.Revnum, parent delta.Baton) error {
	return r.rec("delete-entry %s %d", p, rev)
}

func (r *recorder) AddDirectory(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	op := "add-dir " + p
	if copyPath != "" {
		op += fmt.Sprintf(" from %s@%d", copyPath, copyRev)
	}
	if err := r.rec("%s", op); err != nil {
		return nil, err
	}
	return &recBaton{path: p}, nil
}

func (r *recorder) OpenDirectory(p string, parent delta.Baton, rev delta.Revnum) (delta.Baton, error) {
	if err := r.rec("open-dir %s %d", p, rev); err != nil {
		return nil, err
	}
	return &recBaton{path: p}, nil
}

func (r *recorder) ChangeDirProp(dir delta.Baton, name string, value []byte) error {
	return r.rec("change-dir-prop %s %s%s", bpath(dir), name, propOp(value))
}

func (r *recorder) CloseDirectory(dir delta.Baton) error {
	return r.rec("close-dir %s", bpath(dir))
}

func (r *recorder) AddFile(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	op := "add-file " + p
	if copyPath != "" {
		op += fmt.Sprintf(" from %s@%d", copyPath, copyRev)
	}
	if err := r.rec("%s", op); err != nil {
		return nil, err
	}
	return &recBaton{path: p}, nil
}

func (r *recorder) OpenFile(p string, parent delta.Baton, rev delta.Revnum) (delta.Baton, error) {
	if err := r.rec("open-file %s %d", p, rev); err != nil {
		return nil, err
	}
	return &recBaton{path: p}, nil
}

func (r *recorder) ApplyTextDelta(file delta.Baton, base string) (delta.WindowHandler, error) {
	p := bpath(file)
	if err := r.rec("apply-textdelta %s %s", p, base); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	a := delta.NewApplier(nil, &buf)
	return func(w *delta.Window) error {
		if err := a.Handle(w); err != nil {
			return err
		}
		if w == nil {
			return r.rec("text %s %q", p, buf.String())
		}
		return nil
	}, nil
}

func (r *recorder) ChangeFileProp(file delta.Baton, name string, value []byte) error {
	return r.rec("change-file-prop %s %s%s", bpath(file), name, propOp(value))
}

func (r *recorder) CloseFile(file delta.Baton, checksum string) error {
	return r.rec("close-file %s %s", bpath(file), checksum)
}

func (r *recorder) CloseEdit() error {
	return r.rec("close-edit")
}

func (r *recorder) AbortEdit() error {
	r.aborts++
	return r.rec("abort-edit")
}

func pipeConns(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	opts := &wire.Options{BlockPoll: time.Millisecond}
	return wire.NewConn(a, opts), wire.NewConn(b, opts)
}

// scriptConn reads a fixed input and collects output.
type scriptConn struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (s *scriptConn) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *scriptConn) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s *scriptConn) Close() error                { return nil }

func newScriptConn(cmds ...string) (*wire.Conn, *scriptConn) {
	var in bytes.Buffer
	for _, c := range cmds {
		in.WriteString(c)
	}
	s := &scriptConn{in: bytes.NewReader(in.Bytes())}
	return wire.NewConn(s, nil), s
}

func cmd(name string, params ...wire.Item) string {
	return wire.List(wire.Word(name), wire.List(params...)).String()
}
