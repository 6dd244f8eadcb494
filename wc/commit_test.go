package wc

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/raedit/delta"
)

// checkout builds the same small tree at rev 1 in a fresh working copy.
func checkout(t *testing.T) *WC {
	t.Helper()
	w := newWC(t, 1)
	addFile(t, w, "keep", 1, "keep\n")
	addFile(t, w, "mod", 1, "line one\nline two\n")
	addFile(t, w, "old", 1, "old\n")
	addDir(t, w, "sub", 1)
	addFile(t, w, "sub/f", 1, "f\n")
	return w
}

func TestCommitRoundTrip(t *testing.T) {
	src, dst := checkout(t), checkout(t)

	os.WriteFile(src.Abs("mod"), []byte("line one\nline 2\n"), 0o644)
	os.WriteFile(src.Abs("new.txt"), []byte("brand new\n"), 0o644)
	os.Mkdir(src.Abs("nd"), 0o755)
	os.WriteFile(src.Abs("nd/x"), []byte("x\n"), 0o644)
	for _, rel := range []string{"new.txt", "nd"} {
		if err := src.Add(rel); err != nil {
			t.Fatal(err)
		}
	}
	if err := src.Delete("old"); err != nil {
		t.Fatal(err)
	}
	if err := src.SetProps("sub/f", Props{"color": []byte("blue")}); err != nil {
		t.Fatal(err)
	}

	items, err := src.Harvest()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, it := range items {
		got = append(got, it.String())
	}
	want := []string{"M  mod", "AM nd", "AM nd/x", "AM new.txt", "D  old", " M sub/f"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("harvest mismatch (-want +got):\n%s", diff)
	}

	bases, err := DriveCommit(src, items, NewUpdateEditor(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(bases) != 3 {
		t.Errorf("tmp bases %v, want mod, nd/x and new.txt", bases)
	}

	for rel, text := range map[string]string{
		"keep":    "keep\n",
		"mod":     "line one\nline 2\n",
		"new.txt": "brand new\n",
		"nd/x":    "x\n",
		"sub/f":   "f\n",
	} {
		if got := readWorking(t, dst, rel); got != text {
			t.Errorf("%s: %q, want %q", rel, got, text)
		}
	}
	if _, err := os.Stat(dst.Abs("old")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("old still on disk: %v", err)
	}
	if _, err := dst.Entry("old"); !errors.Is(err, ErrNotVersioned) {
		t.Errorf("old still versioned: %v", err)
	}
	props, err := dst.BaseProps("sub/f")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Props{"color": []byte("blue")}, props); diff != "" {
		t.Errorf("props mismatch (-want +got):\n%s", diff)
	}

	ci := CommitInfo{Rev: 2, Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Author: "harry"}
	for _, it := range items {
		if err := src.PostCommit(it.Path, ci); err != nil {
			t.Fatalf("post-commit %s: %v", it.Path, err)
		}
	}
	e, err := src.Entry("mod")
	if err != nil {
		t.Fatal(err)
	}
	if e.Revision != 2 || e.CommittedRev != 2 || e.LastAuthor != "harry" || e.Schedule != ScheduleNormal {
		t.Errorf("mod entry after commit %+v", e)
	}
	if e.Checksum != delta.Checksum([]byte("line one\nline 2\n")) {
		t.Errorf("mod text base not installed")
	}
	if _, err := src.Entry("old"); !errors.Is(err, ErrNotVersioned) {
		t.Errorf("deleted entry survived the commit: %v", err)
	}
	left, err := src.Harvest()
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("changes left after commit: %v", left)
	}
}

type failingEditor struct {
	*recEditor
	aborts int
}

func (f *failingEditor) AddFile(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	return nil, errors.New("out of space")
}

func (f *failingEditor) AbortEdit() error {
	f.aborts++
	return nil
}

func TestDriveCommitAborts(t *testing.T) {
	w := checkout(t)
	os.WriteFile(w.Abs("mod"), []byte("changed\n"), 0o644)
	os.WriteFile(w.Abs("z"), []byte("z\n"), 0o644)
	if err := w.Add("z"); err != nil {
		t.Fatal(err)
	}
	items, err := w.Harvest()
	if err != nil {
		t.Fatal(err)
	}
	ed := &failingEditor{recEditor: newRecEditor()}
	ed.bases["mod"] = "line one\nline two\n"
	if _, err := DriveCommit(w, items, ed); err == nil {
		t.Fatal("commit succeeded")
	}
	if ed.aborts != 1 {
		t.Errorf("edit aborted %d times, want 1", ed.aborts)
	}
	if _, err := os.Stat(w.TmpTextBasePath("mod")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("tmp base of mod survived the abort: %v", err)
	}
}

func TestUpdateEditor(t *testing.T) {
	w := checkout(t)
	u := NewUpdateEditor(w)
	drive := func() error {
		if err := u.SetTargetRevision(9); err != nil {
			return err
		}
		root, err := u.OpenRoot(1)
		if err != nil {
			return err
		}
		f, err := u.AddFile("sub/n", root, "", delta.InvalidRevnum)
		if err != nil {
			return err
		}
		h, err := u.ApplyTextDelta(f, "")
		if err != nil {
			return err
		}
		if err := delta.SendWindows(nil, []byte("rev $Rev$\n"), h); err != nil {
			return err
		}
		for name, v := range map[string]string{
			PropKeywords:          "Rev",
			PropEntryCommittedRev: "8",
			PropEntryLastAuthor:   "sally",
		} {
			if err := u.ChangeFileProp(f, name, []byte(v)); err != nil {
				return err
			}
		}
		if err := u.CloseFile(f, delta.Checksum([]byte("rev $Rev$\n"))); err != nil {
			return err
		}
		if err := u.DeleteEntry("old", 1, root); err != nil {
			return err
		}
		if err := u.CloseDirectory(root); err != nil {
			return err
		}
		return u.CloseEdit()
	}
	if err := drive(); err != nil {
		t.Fatal(err)
	}

	if got := readWorking(t, w, "sub/n"); got != "rev $Rev: 8 $\n" {
		t.Errorf("sub/n is %q", got)
	}
	n, err := w.Entry("sub/n")
	if err != nil {
		t.Fatal(err)
	}
	if n.CommittedRev != 8 || n.LastAuthor != "sally" {
		t.Errorf("entry props not recorded: %+v", n)
	}
	for _, rel := range []string{"", "keep", "mod", "sub", "sub/f", "sub/n"} {
		e, err := w.Entry(rel)
		if err != nil {
			t.Fatal(err)
		}
		if e.Revision != 9 {
			t.Errorf("%q at %d after update, want 9", rel, e.Revision)
		}
	}
	if got := u.Target(); got != 9 {
		t.Errorf("target %d", got)
	}
}

func TestUpdateEditorConflict(t *testing.T) {
	w := checkout(t)
	os.WriteFile(w.Abs("mod"), []byte("local edit\n"), 0o644)
	u := NewUpdateEditor(w)
	root, _ := u.OpenRoot(1)
	f, err := u.OpenFile("mod", root, 1)
	if err != nil {
		t.Fatal(err)
	}
	h, err := u.ApplyTextDelta(f, delta.Checksum([]byte("line one\nline two\n")))
	if err != nil {
		t.Fatal(err)
	}
	if err := delta.SendWindows([]byte("line one\nline two\n"), []byte("server\n"), h); err != nil {
		t.Fatal(err)
	}
	if err := u.CloseFile(f, ""); !errors.Is(err, ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
	if got := readWorking(t, w, "mod"); got != "local edit\n" {
		t.Errorf("local edit clobbered: %q", got)
	}

	if _, err := u.AddFile("keep", root, "", delta.InvalidRevnum); !errors.Is(err, ErrObstructedUpdate) {
		t.Errorf("got %v, want ErrObstructedUpdate", err)
	}
}
