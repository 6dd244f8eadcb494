package ra

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/editorp"
	"github.com/signadot/raedit/wire"
)

type countingEditor struct {
	delta.NoopEditor
	roots, closes, aborts int
}

func (e *countingEditor) OpenRoot(delta.Revnum) (delta.Baton, error) {
	e.roots++
	return nil, nil
}

func (e *countingEditor) CloseEdit() error {
	e.closes++
	return nil
}

func (e *countingEditor) AbortEdit() error {
	e.aborts++
	return nil
}

func pipe(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	opts := &wire.Options{BlockPoll: time.Millisecond}
	return wire.NewConn(a, opts), wire.NewConn(b, opts)
}

// serve answers one report the way an update session does.
func serve(conn *wire.Conn, r *Collector) (bool, error) {
	ed := editorp.NewEditor(conn, nil)
	if r.OnFinish == nil {
		r.OnFinish = func(entries []Entry) error {
			root, err := ed.OpenRoot(entries[0].Rev)
			if err != nil {
				return err
			}
			if err := ed.CloseDirectory(root); err != nil {
				return err
			}
			return ed.CloseEdit()
		}
	}
	aborted, err := DriveReport(conn, r)
	var ce *editorp.CommandError
	if err != nil && !errors.As(err, &ce) {
		return aborted, err
	}
	if !aborted && err != nil {
		ed.AbortEdit()
	}
	if err != nil {
		conn.WriteCmdFailure(err)
	} else {
		conn.WriteCmdResponse()
	}
	return aborted, conn.Flush()
}

func TestReportRoundTrip(t *testing.T) {
	cc, sc := pipe(t)
	col := &Collector{}
	res := make(chan error, 1)
	go func() {
		_, err := serve(sc, col)
		res <- err
	}()

	ed := &countingEditor{}
	r := NewReporter(cc, ed, nil)
	steps := []func() error{
		func() error { return r.SetPath("", 5) },
		func() error { return r.SetPath("a//b/", 3) },
		func() error { return r.DeletePath("gone") },
		r.FinishReport,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	if err := <-res; err != nil {
		t.Fatal(err)
	}
	want := []Entry{{Path: "", Rev: 5}, {Path: "a/b", Rev: 3}, {Path: "gone", Deleted: true}}
	if diff := cmp.Diff(want, col.Entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if !col.Finished {
		t.Error("report not finished")
	}
	if ed.roots != 1 || ed.closes != 1 || ed.aborts != 0 {
		t.Errorf("editor saw roots=%d closes=%d aborts=%d", ed.roots, ed.closes, ed.aborts)
	}
}

type failingCollector struct {
	Collector
}

func (f *failingCollector) SetPath(path string, rev delta.Revnum) error {
	if path == "bad" {
		return errors.New("no such path in repository")
	}
	return f.Collector.SetPath(path, rev)
}

func TestReportFailure(t *testing.T) {
	cc, sc := pipe(t)
	fc := &failingCollector{}
	res := make(chan error, 1)
	go func() {
		ed := editorp.NewEditor(sc, nil)
		_, err := DriveReport(sc, fc)
		ed.AbortEdit()
		sc.WriteCmdFailure(err)
		sc.Flush()
		res <- err
	}()

	ed := &countingEditor{}
	r := NewReporter(cc, ed, nil)
	r.SetPath("", 4)
	r.SetPath("bad", 2)
	r.DeletePath("later")
	err := r.FinishReport()
	if err == nil || !strings.Contains(err.Error(), "no such path") {
		t.Fatalf("got %v, want the reporter failure", err)
	}
	// the server ended the report with finish-report.
	if err := r.AbortReport(); err != nil {
		t.Errorf("abort after finish: %v", err)
	}
	serr := <-res
	var ce *editorp.CommandError
	if !errors.As(serr, &ce) || ce.Cmd != "set-path" {
		t.Errorf("server got %v, want a set-path command error", serr)
	}
	if !fc.Aborted {
		t.Error("failed report was not aborted")
	}
	if len(fc.Entries) != 1 {
		t.Errorf("entries after failure were applied: %v", fc.Entries)
	}
	if ed.aborts != 1 || ed.roots != 0 {
		t.Errorf("editor saw roots=%d aborts=%d", ed.roots, ed.aborts)
	}
}

func TestAbortReport(t *testing.T) {
	cc, sc := pipe(t)
	col := &Collector{}
	res := make(chan bool, 1)
	go func() {
		aborted, _ := serve(sc, col)
		res <- aborted
	}()
	r := NewReporter(cc, nil, nil)
	r.SetPath("", 1)
	if err := r.AbortReport(); err != nil {
		t.Fatal(err)
	}
	if !<-res {
		t.Error("server did not see the abort")
	}
	if !col.Aborted || col.Finished {
		t.Errorf("collector finished=%v aborted=%v", col.Finished, col.Aborted)
	}
}

func TestDriveReportUnknown(t *testing.T) {
	cc, sc := pipe(t)
	go func() {
		cc.WriteCmd("set-path", wire.Str(""), wire.Num(1))
		cc.WriteCmd("link-path", wire.Str("x"))
		cc.Flush()
	}()
	_, err := DriveReport(sc, &Collector{})
	if !errors.Is(err, wire.ErrUnknownCmd) {
		t.Errorf("got %v, want unknown command", err)
	}
}
