package delta

import (
	"log/slog"
	"path"
)

// TraceEditor logs every call before passing it to the wrapped editor.
type TraceEditor struct {
	inner Editor
	log   *slog.Logger
}

type traceBaton struct {
	path  string
	inner Baton
}

// NewTraceEditor wraps inner, which may be nil to only log.
func NewTraceEditor(inner Editor, log *slog.Logger) *TraceEditor {
	if inner == nil {
		inner = NoopEditor{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &TraceEditor{inner: inner, log: log}
}

var _ Editor = (*TraceEditor)(nil)

func unwrap(b Baton) (string, Baton) {
	tb, ok := b.(*traceBaton)
	if !ok {
		return "", b
	}
	return tb.path, tb.inner
}

func (t *TraceEditor) SetTargetRevision(rev Revnum) error {
	t.log.Info("set-target-revision", "rev", rev)
	return t.inner.SetTargetRevision(rev)
}

func (t *TraceEditor) OpenRoot(baseRev Revnum) (Baton, error) {
	t.log.Info("open-root", "rev", baseRev)
	b, err := t.inner.OpenRoot(baseRev)
	if err != nil {
		return nil, err
	}
	return &traceBaton{path: "", inner: b}, nil
}

func (t *TraceEditor) DeleteEntry(p string, rev Revnum, parent Baton) error {
	_, pb := unwrap(parent)
	t.log.Info("delete-entry", "path", p, "rev", rev)
	return t.inner.DeleteEntry(p, rev, pb)
}

func (t *TraceEditor) AddDirectory(p string, parent Baton, copyPath string, copyRev Revnum) (Baton, error) {
	_, pb := unwrap(parent)
	t.log.Info("add-dir", "path", p, "copyPath", copyPath, "copyRev", copyRev)
	b, err := t.inner.AddDirectory(p, pb, copyPath, copyRev)
	if err != nil {
		return nil, err
	}
	return &traceBaton{path: p, inner: b}, nil
}

func (t *TraceEditor) OpenDirectory(p string, parent Baton, baseRev Revnum) (Baton, error) {
	_, pb := unwrap(parent)
	t.log.Info("open-dir", "path", p, "rev", baseRev)
	b, err := t.inner.OpenDirectory(p, pb, baseRev)
	if err != nil {
		return nil, err
	}
	return &traceBaton{path: p, inner: b}, nil
}

func (t *TraceEditor) ChangeDirProp(dir Baton, name string, value []byte) error {
	p, b := unwrap(dir)
	t.log.Info("change-dir-prop", "path", p, "name", name, "delete", value == nil)
	return t.inner.ChangeDirProp(b, name, value)
}

func (t *TraceEditor) CloseDirectory(dir Baton) error {
	p, b := unwrap(dir)
	t.log.Info("close-dir", "path", p)
	return t.inner.CloseDirectory(b)
}

func (t *TraceEditor) AddFile(p string, parent Baton, copyPath string, copyRev Revnum) (Baton, error) {
	_, pb := unwrap(parent)
	t.log.Info("add-file", "path", p, "copyPath", copyPath, "copyRev", copyRev)
	b, err := t.inner.AddFile(p, pb, copyPath, copyRev)
	if err != nil {
		return nil, err
	}
	return &traceBaton{path: p, inner: b}, nil
}

func (t *TraceEditor) OpenFile(p string, parent Baton, baseRev Revnum) (Baton, error) {
	_, pb := unwrap(parent)
	t.log.Info("open-file", "path", p, "rev", baseRev)
	b, err := t.inner.OpenFile(p, pb, baseRev)
	if err != nil {
		return nil, err
	}
	return &traceBaton{path: p, inner: b}, nil
}

func (t *TraceEditor) ApplyTextDelta(file Baton, baseChecksum string) (WindowHandler, error) {
	p, b := unwrap(file)
	t.log.Info("apply-textdelta", "path", p, "base", baseChecksum)
	h, err := t.inner.ApplyTextDelta(b, baseChecksum)
	if err != nil || h == nil {
		return h, err
	}
	var windows, bytes int
	return func(w *Window) error {
		if w == nil {
			t.log.Debug("textdelta-end", "file", path.Base(p), "windows", windows, "bytes", bytes)
		} else {
			windows++
			bytes += w.TargetLen
		}
		return h(w)
	}, nil
}

func (t *TraceEditor) ChangeFileProp(file Baton, name string, value []byte) error {
	p, b := unwrap(file)
	t.log.Info("change-file-prop", "path", p, "name", name, "delete", value == nil)
	return t.inner.ChangeFileProp(b, name, value)
}

func (t *TraceEditor) CloseFile(file Baton, textChecksum string) error {
	p, b := unwrap(file)
	t.log.Info("close-file", "path", p, "checksum", textChecksum)
	return t.inner.CloseFile(b, textChecksum)
}

func (t *TraceEditor) CloseEdit() error {
	t.log.Info("close-edit")
	return t.inner.CloseEdit()
}

func (t *TraceEditor) AbortEdit() error {
	t.log.Info("abort-edit")
	return t.inner.AbortEdit()
}
