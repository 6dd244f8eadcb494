package wc

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/ra"
)

func crawl(t *testing.T, w *WC, target string, opts *CrawlOptions) *ra.Collector {
	t.Helper()
	col := &ra.Collector{}
	if err := CrawlRevisions(w, target, col, opts); err != nil {
		t.Fatal(err)
	}
	if !col.Finished || col.Aborted {
		t.Errorf("report finished=%v aborted=%v", col.Finished, col.Aborted)
	}
	return col
}

func TestCrawlRevisions(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, w *WC)
		target string
		opts   *CrawlOptions
		want   []ra.Entry
	}{
		{
			name: "only differing revisions",
			setup: func(t *testing.T, w *WC) {
				addFile(t, w, "a.txt", 5, "a")
				addFile(t, w, "b.txt", 7, "b")
			},
			want: []ra.Entry{{Path: "", Rev: 7}, {Path: "a.txt", Rev: 5}},
		},
		{
			name: "missing directory is deleted without descent",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 9)
				addFile(t, w, "sub/f", 3, "f")
				os.RemoveAll(w.Abs("sub"))
			},
			want: []ra.Entry{{Path: "", Rev: 7}, {Path: "sub", Deleted: true}},
		},
		{
			name: "subdirectories use their own baseline",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 3)
				addFile(t, w, "sub/f", 3, "f")
				addFile(t, w, "sub/g", 4, "g")
				addDir(t, w, "sub/same", 3)
				addFile(t, w, "z", 7, "z")
			},
			want: []ra.Entry{{Path: "", Rev: 7}, {Path: "sub", Rev: 3}, {Path: "sub/g", Rev: 4}},
		},
		{
			name: "no recursion",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 3)
				addFile(t, w, "sub/g", 4, "g")
				addFile(t, w, "x", 2, "x")
			},
			opts: &CrawlOptions{},
			want: []ra.Entry{{Path: "", Rev: 7}, {Path: "x", Rev: 2}},
		},
		{
			name: "file replaced by a directory",
			setup: func(t *testing.T, w *WC) {
				addFile(t, w, "f", 7, "f")
				os.Remove(w.Abs("f"))
				os.Mkdir(w.Abs("f"), 0o755)
			},
			want: []ra.Entry{{Path: "", Rev: 7}, {Path: "f", Deleted: true}},
		},
		{
			name: "scheduled entries are skipped",
			setup: func(t *testing.T, w *WC) {
				addFile(t, w, "added", 0, "new")
				addFile(t, w, "deleted", 4, "old")
				addFile(t, w, "replaced", 2, "r")
				for rel, s := range map[string]Schedule{"added": ScheduleAdd, "deleted": ScheduleDelete, "replaced": ScheduleReplace} {
					e, _ := w.Entry(rel)
					e.Schedule = s
					w.SetEntry(rel, e)
				}
				os.Remove(w.Abs("deleted"))
			},
			opts: &CrawlOptions{Recurse: true, RestoreFiles: true},
			want: []ra.Entry{{Path: "", Rev: 7}},
		},
		{
			name: "missing file is not restored by default",
			setup: func(t *testing.T, w *WC) {
				addFile(t, w, "gone", 6, "g")
				os.Remove(w.Abs("gone"))
			},
			want: []ra.Entry{{Path: "", Rev: 7}, {Path: "gone", Rev: 6}},
		},
		{
			name: "file target",
			setup: func(t *testing.T, w *WC) {
				addFile(t, w, "a.txt", 5, "a")
			},
			target: "a.txt",
			want:   []ra.Entry{{Path: "", Rev: 5}},
		},
		{
			name: "directory target",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 4)
				addFile(t, w, "sub/f", 2, "f")
			},
			target: "sub",
			want:   []ra.Entry{{Path: "", Rev: 4}, {Path: "f", Rev: 2}},
		},
		{
			name:   "unversioned target",
			target: "nothing/here",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "nothing", 5)
			},
			want: []ra.Entry{{Path: "", Rev: 5}, {Path: "", Deleted: true}},
		},
		{
			name: "added directory target takes the parent baseline",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 0)
				addFile(t, w, "sub/new", 0, "n")
				addFile(t, w, "sub/kept", 3, "k")
				for _, rel := range []string{"sub", "sub/new"} {
					e, _ := w.Entry(rel)
					e.Schedule = ScheduleAdd
					w.SetEntry(rel, e)
				}
			},
			target: "sub",
			want:   []ra.Entry{{Path: "", Rev: 7}, {Path: "kept", Rev: 3}},
		},
		{
			name: "missing added directory target",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 0)
				e, _ := w.Entry("sub")
				e.Schedule = ScheduleAdd
				w.SetEntry("sub", e)
				os.RemoveAll(w.Abs("sub"))
			},
			target: "sub",
			want:   []ra.Entry{{Path: "", Rev: 7}, {Path: "", Deleted: true}},
		},
		{
			name: "missing directory target",
			setup: func(t *testing.T, w *WC) {
				addDir(t, w, "sub", 4)
				os.RemoveAll(w.Abs("sub"))
			},
			target: "sub",
			want:   []ra.Entry{{Path: "", Rev: 4}, {Path: "", Deleted: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWC(t, 7)
			tt.setup(t, w)
			col := crawl(t, w, tt.target, tt.opts)
			if diff := cmp.Diff(tt.want, col.Entries); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCrawlRestore(t *testing.T) {
	w := newWC(t, 7)
	addFile(t, w, "a.txt", 5, "one\ntwo\n")
	if err := w.SetProps("a.txt", Props{PropEOLStyle: []byte("CRLF")}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(w.Abs("a.txt")); err != nil {
		t.Fatal(err)
	}

	var notes []Notification
	col := crawl(t, w, "", &CrawlOptions{
		RestoreFiles: true,
		Recurse:      true,
		Notify:       func(n Notification) { notes = append(notes, n) },
	})
	if diff := cmp.Diff([]Notification{{Path: "a.txt", Action: NotifyRestore, Kind: delta.KindFile}}, notes); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
	if got := readWorking(t, w, "a.txt"); got != "one\r\ntwo\r\n" {
		t.Errorf("restored %q", got)
	}
	if diff := cmp.Diff([]ra.Entry{{Path: "", Rev: 7}, {Path: "a.txt", Rev: 5}}, col.Entries); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	e, err := w.Entry("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.TextTime.IsZero() {
		t.Error("text time not recorded")
	}
}

func TestCrawlRestoreTarget(t *testing.T) {
	w := newWC(t, 7)
	addFile(t, w, "a.txt", 7, "a")
	os.Remove(w.Abs("a.txt"))
	n := 0
	crawl(t, w, "a.txt", &CrawlOptions{RestoreFiles: true, Notify: func(Notification) { n++ }})
	if n != 1 {
		t.Errorf("%d notifications, want 1", n)
	}
	if got := readWorking(t, w, "a.txt"); got != "a" {
		t.Errorf("restored %q", got)
	}
}

func TestCrawlObstructed(t *testing.T) {
	w := newWC(t, 7)
	addDir(t, w, "sub", 7)
	os.RemoveAll(w.Abs("sub"))
	if err := os.WriteFile(w.Abs("sub"), []byte("file"), 0o644); err != nil {
		t.Fatal(err)
	}
	col := &ra.Collector{}
	err := CrawlRevisions(w, "", col, nil)
	if !errors.Is(err, ErrObstructedUpdate) {
		t.Fatalf("got %v, want ErrObstructedUpdate", err)
	}
	if !strings.Contains(err.Error(), `"sub"`) {
		t.Errorf("error %q does not name the path", err)
	}
	if !col.Aborted || col.Finished {
		t.Errorf("report finished=%v aborted=%v", col.Finished, col.Aborted)
	}
}

type failingReporter struct {
	ra.Collector
	setErr    error
	finishErr error
	abortErr  error
}

func (f *failingReporter) SetPath(p string, rev delta.Revnum) error {
	if p != "" {
		return f.setErr
	}
	return f.Collector.SetPath(p, rev)
}

func (f *failingReporter) FinishReport() error {
	if err := f.Collector.FinishReport(); err != nil {
		return err
	}
	return f.finishErr
}

func (f *failingReporter) AbortReport() error {
	f.Collector.AbortReport()
	return f.abortErr
}

func TestCrawlAbort(t *testing.T) {
	setErr := errors.New("connection reset")
	abortErr := errors.New("abort failed")

	t.Run("reporter error", func(t *testing.T) {
		w := newWC(t, 7)
		addFile(t, w, "a.txt", 5, "a")
		r := &failingReporter{setErr: setErr}
		err := CrawlRevisions(w, "", r, nil)
		if err != setErr {
			t.Errorf("got %v, want the reporter error", err)
		}
		if !r.Aborted || r.Finished {
			t.Errorf("report finished=%v aborted=%v", r.Finished, r.Aborted)
		}
	})

	t.Run("abort error takes precedence", func(t *testing.T) {
		w := newWC(t, 7)
		addFile(t, w, "a.txt", 5, "a")
		r := &failingReporter{setErr: setErr, abortErr: abortErr}
		err := CrawlRevisions(w, "", r, nil)
		if !errors.Is(err, abortErr) || !errors.Is(err, setErr) {
			t.Fatalf("got %v, want both errors", err)
		}
		if !strings.HasPrefix(err.Error(), "error aborting report: abort failed") {
			t.Errorf("abort error is not first: %q", err)
		}
	})

	t.Run("finish error", func(t *testing.T) {
		w := newWC(t, 7)
		addFile(t, w, "a.txt", 5, "a")
		finishErr := errors.New("finish failed")
		r := &failingReporter{finishErr: finishErr}
		err := CrawlRevisions(w, "", r, nil)
		if err != finishErr {
			t.Errorf("got %v, want the finish error", err)
		}
		if !r.Aborted {
			t.Error("failed finish did not abort the report")
		}
	})

	t.Run("abort error precedes finish error", func(t *testing.T) {
		w := newWC(t, 7)
		addFile(t, w, "a.txt", 5, "a")
		finishErr := errors.New("finish failed")
		r := &failingReporter{finishErr: finishErr, abortErr: abortErr}
		err := CrawlRevisions(w, "", r, nil)
		if !errors.Is(err, abortErr) || !errors.Is(err, finishErr) {
			t.Fatalf("got %v, want both errors", err)
		}
		if !strings.HasPrefix(err.Error(), "error aborting report: abort failed") {
			t.Errorf("abort error is not first: %q", err)
		}
	})
}
