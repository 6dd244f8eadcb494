package wc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/raedit/delta"
)

// recEditor records the calls it gets and rebuilds the texts it is sent.
type recEditor struct {
	delta.NoopEditor
	ops     []string
	bases   map[string]string
	texts   map[string]string
	decline bool
}

type recBaton string

func newRecEditor() *recEditor {
	return &recEditor{bases: map[string]string{}, texts: map[string]string{}}
}

func (r *recEditor) OpenRoot(delta.Revnum) (delta.Baton, error) {
	return recBaton(""), nil
}

func (r *recEditor) OpenDirectory(p string, _ delta.Baton, _ delta.Revnum) (delta.Baton, error) {
	return recBaton(p), nil
}

func (r *recEditor) AddDirectory(p string, _ delta.Baton, _ string, _ delta.Revnum) (delta.Baton, error) {
	return recBaton(p), nil
}

func (r *recEditor) OpenFile(p string, _ delta.Baton, _ delta.Revnum) (delta.Baton, error) {
	return recBaton(p), nil
}

func (r *recEditor) AddFile(p string, _ delta.Baton, _ string, _ delta.Revnum) (delta.Baton, error) {
	return recBaton(p), nil
}

func (r *recEditor) ApplyTextDelta(b delta.Baton, baseChecksum string) (delta.WindowHandler, error) {
	p := string(b.(recBaton))
	r.ops = append(r.ops, "apply-textdelta "+p+" "+baseChecksum)
	if r.decline {
		return nil, nil
	}
	var buf bytes.Buffer
	a := delta.NewApplier(strings.NewReader(r.bases[p]), &buf)
	return func(w *delta.Window) error {
		if err := a.Handle(w); err != nil {
			return err
		}
		if w == nil {
			r.texts[p] = buf.String()
		}
		return nil
	}, nil
}

func propOp(kind, p, name string, value []byte) string {
	if value == nil {
		return fmt.Sprintf("%s-prop %s %s deleted", kind, p, name)
	}
	return fmt.Sprintf("%s-prop %s %s=%s", kind, p, name, value)
}

func (r *recEditor) ChangeFileProp(b delta.Baton, name string, value []byte) error {
	r.ops = append(r.ops, propOp("file", string(b.(recBaton)), name, value))
	return nil
}

func (r *recEditor) ChangeDirProp(b delta.Baton, name string, value []byte) error {
	r.ops = append(r.ops, propOp("dir", string(b.(recBaton)), name, value))
	return nil
}

func (r *recEditor) CloseFile(b delta.Baton, sum string) error {
	r.ops = append(r.ops, "close-file "+string(b.(recBaton))+" "+sum)
	return nil
}

func TestTransmitTextDeltas(t *testing.T) {
	const (
		base    = "hello\nworld\n"
		working = "hello\r\nthere\r\n"
		text    = "hello\nthere\n"
	)
	setup := func(t *testing.T) *WC {
		w := newWC(t, 3)
		addFile(t, w, "f", 3, base)
		props := Props{PropEOLStyle: []byte("native")}
		w.SetProps("f", props)
		w.SetBaseProps("f", props)
		if err := os.WriteFile(w.Abs("f"), []byte(working), 0o644); err != nil {
			t.Fatal(err)
		}
		return w
	}

	t.Run("against the text base", func(t *testing.T) {
		w := setup(t)
		rec := newRecEditor()
		rec.bases["f"] = base
		tmp, err := TransmitTextDeltas(w, "f", false, rec, recBaton("f"))
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			"apply-textdelta f " + delta.Checksum([]byte(base)),
			"close-file f " + delta.Checksum([]byte(text)),
		}
		if diff := cmp.Diff(want, rec.ops); diff != "" {
			t.Errorf("ops mismatch (-want +got):\n%s", diff)
		}
		if rec.texts["f"] != text {
			t.Errorf("rebuilt %q, want %q", rec.texts["f"], text)
		}
		if tmp != w.TmpTextBasePath("f") {
			t.Errorf("tmp base %q", tmp)
		}
		d, err := os.ReadFile(tmp)
		if err != nil || string(d) != text {
			t.Errorf("tmp base holds %q, %v", d, err)
		}
	})

	t.Run("full text", func(t *testing.T) {
		w := setup(t)
		rec := newRecEditor()
		if _, err := TransmitTextDeltas(w, "f", true, rec, recBaton("f")); err != nil {
			t.Fatal(err)
		}
		if rec.ops[0] != "apply-textdelta f " {
			t.Errorf("full text sent a base checksum: %q", rec.ops[0])
		}
		if rec.texts["f"] != text {
			t.Errorf("rebuilt %q, want %q", rec.texts["f"], text)
		}
	})

	t.Run("declined", func(t *testing.T) {
		w := setup(t)
		rec := newRecEditor()
		rec.decline = true
		tmp, err := TransmitTextDeltas(w, "f", false, rec, recBaton("f"))
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"apply-textdelta f " + delta.Checksum([]byte(base)), "close-file f "}
		if diff := cmp.Diff(want, rec.ops); diff != "" {
			t.Errorf("ops mismatch (-want +got):\n%s", diff)
		}
		if tmp != "" {
			t.Errorf("declined delta made a tmp base %q", tmp)
		}
		if _, err := os.Stat(w.TmpTextBasePath("f")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("tmp base exists: %v", err)
		}
	})

	t.Run("corrupt text base", func(t *testing.T) {
		w := setup(t)
		if err := os.WriteFile(w.TextBasePath("f"), []byte("tampered"), 0o644); err != nil {
			t.Fatal(err)
		}
		rec := newRecEditor()
		_, err := TransmitTextDeltas(w, "f", false, rec, recBaton("f"))
		if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
			t.Fatalf("got %v, want a checksum mismatch", err)
		}
		if len(rec.ops) != 0 {
			t.Errorf("editor called: %v", rec.ops)
		}
	})
}

func TestTransmitPropDeltas(t *testing.T) {
	w := newWC(t, 1)
	addDir(t, w, "d", 1)
	addFile(t, w, "d/f", 1, "")
	for _, rel := range []string{"d", "d/f"} {
		w.SetBaseProps(rel, Props{"same": []byte("1"), "changed": []byte("a"), "dropped": []byte("x")})
		w.SetProps(rel, Props{"same": []byte("1"), "changed": []byte("b"), "added": []byte("y")})
	}

	rec := newRecEditor()
	if err := TransmitPropDeltas(w, "d", delta.KindDir, rec, recBaton("d")); err != nil {
		t.Fatal(err)
	}
	if err := TransmitPropDeltas(w, "d/f", delta.KindFile, rec, recBaton("d/f")); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"dir-prop d added=y",
		"dir-prop d changed=b",
		"dir-prop d dropped deleted",
		"file-prop d/f added=y",
		"file-prop d/f changed=b",
		"file-prop d/f dropped deleted",
	}
	if diff := cmp.Diff(want, rec.ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}

	if err := TransmitPropDeltas(w, "d", delta.KindNone, rec, recBaton("d")); err == nil {
		t.Error("kind none accepted")
	}
}
