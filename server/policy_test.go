package server

import (
	"errors"
	"testing"

	"github.com/signadot/raedit/delta"
)

func TestPolicyAllow(t *testing.T) {
	p, err := CompilePolicy(`author == "admin" || (action != "delete" && !glob("vendor/*", path))`)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		action, path string
		kind         delta.NodeKind
		author       string
		want         bool
	}{
		{"add", "src/a.go", delta.KindFile, "harry", true},
		{"modify", "README", delta.KindFile, "harry", true},
		{"delete", "README", delta.KindUnknown, "harry", false},
		{"add", "vendor/lib", delta.KindDir, "harry", false},
		{"add", "vendor/lib/x.go", delta.KindFile, "harry", true},
		{"delete", "README", delta.KindUnknown, "admin", true},
	}
	for _, tt := range tests {
		got, err := p.Allow(tt.action, tt.path, tt.kind, tt.author)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.action, tt.path, err)
		}
		if got != tt.want {
			t.Errorf("%s %s by %s: got %v, want %v", tt.action, tt.path, tt.author, got, tt.want)
		}
	}
}

func TestPolicyKind(t *testing.T) {
	p, err := CompilePolicy(`action != "add" || kind == "file"`)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := p.Allow("add", "d", delta.KindDir, ""); ok {
		t.Error("directory add allowed")
	}
	if ok, _ := p.Allow("add", "f", delta.KindFile, ""); !ok {
		t.Error("file add denied")
	}
}

// countEditor counts the calls which reach it.
type countEditor struct {
	delta.NoopEditor
	calls int
}

func (e *countEditor) DeleteEntry(string, delta.Revnum, delta.Baton) error {
	e.calls++
	return nil
}

func (e *countEditor) AddFile(string, delta.Baton, string, delta.Revnum) (delta.Baton, error) {
	e.calls++
	return nil, nil
}

func (e *countEditor) OpenFile(string, delta.Baton, delta.Revnum) (delta.Baton, error) {
	e.calls++
	return nil, nil
}

func TestPolicyEditor(t *testing.T) {
	p, err := CompilePolicy(`glob("docs/*", path)`)
	if err != nil {
		t.Fatal(err)
	}
	inner := &countEditor{}
	ed := p.Editor(inner, "harry")

	if _, err := ed.AddFile("docs/new.md", nil, "", delta.InvalidRevnum); err != nil {
		t.Errorf("add in docs: %v", err)
	}
	if _, err := ed.OpenFile("docs/index.md", nil, 1); err != nil {
		t.Errorf("modify in docs: %v", err)
	}
	if _, err := ed.AddFile("main.go", nil, "", delta.InvalidRevnum); !errors.Is(err, ErrDenied) {
		t.Errorf("add outside docs: %v", err)
	}
	if err := ed.DeleteEntry("main.go", 1, nil); !errors.Is(err, ErrDenied) {
		t.Errorf("delete outside docs: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("%d calls reached the editor, want 2", inner.calls)
	}
}
