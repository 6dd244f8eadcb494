package wc

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signadot/raedit/delta"
)

// UpdateEditor applies an update edit to a working copy. Paths in the edit
// are relative to the working copy root.
//
// Incoming text replaces the working file; a file with local text changes
// is a conflict and fails the edit. At CloseEdit every unscheduled entry
// moves to the target revision.
type UpdateEditor struct {
	w      *WC
	log    *slog.Logger
	target delta.Revnum
	scope  string
}

var _ delta.Editor = (*UpdateEditor)(nil)

type updateDir struct {
	path string
}

type updateFile struct {
	path    string
	added   bool
	text    *bytes.Buffer
	applier *delta.Applier
	props   []PropChange
	entry   []PropChange
}

// NewUpdateEditor returns an editor applying an update to w.
func NewUpdateEditor(w *WC) *UpdateEditor {
	return &UpdateEditor{w: w, log: w.log, target: delta.InvalidRevnum}
}

// Scope limits the revision bump at CloseEdit to rel and what lies below
// it.
func (u *UpdateEditor) Scope(rel string) *UpdateEditor {
	u.scope = cleanRel(rel)
	return u
}

// Target returns the revision the edit moves to.
func (u *UpdateEditor) Target() delta.Revnum {
	return u.target
}

func (u *UpdateEditor) SetTargetRevision(rev delta.Revnum) error {
	u.target = rev
	return nil
}

func (u *UpdateEditor) OpenRoot(baseRev delta.Revnum) (delta.Baton, error) {
	return &updateDir{}, nil
}

func dirOf(b delta.Baton) (*updateDir, error) {
	d, ok := b.(*updateDir)
	if !ok {
		return nil, fmt.Errorf("not a directory baton: %T", b)
	}
	return d, nil
}

func fileOf(b delta.Baton) (*updateFile, error) {
	f, ok := b.(*updateFile)
	if !ok {
		return nil, fmt.Errorf("not a file baton: %T", b)
	}
	return f, nil
}

func (u *UpdateEditor) DeleteEntry(p string, rev delta.Revnum, parent delta.Baton) error {
	p = cleanRel(p)
	if _, err := u.w.Entry(p); err != nil {
		return err
	}
	if err := os.RemoveAll(u.w.Abs(p)); err != nil {
		return fmt.Errorf("failed to remove %q: %w", p, err)
	}
	u.log.Info("deleted", "path", p)
	return u.w.RemoveEntry(p)
}

func (u *UpdateEditor) AddDirectory(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	if copyPath != "" {
		return nil, fmt.Errorf("add %q: copies are not supported", p)
	}
	p = cleanRel(p)
	kind, err := u.w.DiskKind(p)
	if err != nil {
		return nil, err
	}
	if kind != delta.KindNone && kind != delta.KindDir {
		return nil, fmt.Errorf("%q is in the way of an added directory: %w", p, ErrObstructedUpdate)
	}
	if err := os.MkdirAll(u.w.Abs(p), 0o755); err != nil {
		return nil, err
	}
	dir, name := splitRel(p)
	pe, err := u.w.Entry(dir)
	if err != nil {
		return nil, err
	}
	e := &Entry{Kind: delta.KindDir, Revision: u.target, CommittedRev: delta.InvalidRevnum}
	if pe.URL != "" {
		e.URL = pe.URL + "/" + name
	}
	if err := u.w.SetEntry(p, e); err != nil {
		return nil, err
	}
	u.log.Info("added", "path", p, "kind", delta.KindDir)
	return &updateDir{path: p}, nil
}

func (u *UpdateEditor) OpenDirectory(p string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	p = cleanRel(p)
	if _, err := u.w.Entry(p); err != nil {
		return nil, err
	}
	return &updateDir{path: p}, nil
}

func (u *UpdateEditor) ChangeDirProp(dir delta.Baton, name string, value []byte) error {
	d, err := dirOf(dir)
	if err != nil {
		return err
	}
	c := PropChange{Name: name, Value: value}
	if strings.HasPrefix(name, PropEntryPrefix) {
		e, err := u.w.Entry(d.path)
		if err != nil {
			return err
		}
		if err := applyEntryProps(e, c); err != nil {
			return err
		}
		return u.w.SetEntry(d.path, e)
	}
	return u.changeProps(d.path, c)
}

// changeProps applies incoming changes to the base and working properties
// of rel.
func (u *UpdateEditor) changeProps(rel string, changes ...PropChange) error {
	base, err := u.w.BaseProps(rel)
	if err != nil {
		return err
	}
	if err := u.w.SetBaseProps(rel, base.Apply(changes...)); err != nil {
		return err
	}
	working, err := u.w.Props(rel)
	if err != nil {
		return err
	}
	return u.w.SetProps(rel, working.Apply(changes...))
}

func applyEntryProps(e *Entry, changes ...PropChange) error {
	for _, c := range changes {
		v := string(c.Value)
		switch c.Name {
		case PropEntryCommittedRev:
			e.CommittedRev = delta.InvalidRevnum
			if c.Value != nil {
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return fmt.Errorf("bad %s %q: %w", c.Name, v, err)
				}
				e.CommittedRev = delta.Revnum(n)
			}
		case PropEntryCommitDate:
			e.CommittedDate = time.Time{}
			if c.Value != nil {
				t, err := time.Parse(time.RFC3339Nano, v)
				if err != nil {
					return fmt.Errorf("bad %s %q: %w", c.Name, v, err)
				}
				e.CommittedDate = t
			}
		case PropEntryLastAuthor:
			e.LastAuthor = v
		}
	}
	return nil
}

func (u *UpdateEditor) CloseDirectory(dir delta.Baton) error {
	_, err := dirOf(dir)
	return err
}

func (u *UpdateEditor) AddFile(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	if copyPath != "" {
		return nil, fmt.Errorf("add %q: copies are not supported", p)
	}
	p = cleanRel(p)
	kind, err := u.w.DiskKind(p)
	if err != nil {
		return nil, err
	}
	if kind != delta.KindNone {
		return nil, fmt.Errorf("%q is in the way of an added file: %w", p, ErrObstructedUpdate)
	}
	return &updateFile{path: p, added: true}, nil
}

func (u *UpdateEditor) OpenFile(p string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	p = cleanRel(p)
	e, err := u.w.Entry(p)
	if err != nil {
		return nil, err
	}
	if e.Kind != delta.KindFile {
		return nil, fmt.Errorf("%q is not a file", p)
	}
	return &updateFile{path: p}, nil
}

func (u *UpdateEditor) ApplyTextDelta(file delta.Baton, baseChecksum string) (delta.WindowHandler, error) {
	f, err := fileOf(file)
	if err != nil {
		return nil, err
	}
	var base []byte
	if !f.added {
		base, err = os.ReadFile(u.w.TextBasePath(f.path))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if baseChecksum != "" {
			if sum := delta.Checksum(base); sum != baseChecksum {
				return nil, fmt.Errorf("checksum mismatch for text base of %q; expected %s, actual %s", f.path, baseChecksum, sum)
			}
		}
	}
	f.text = &bytes.Buffer{}
	f.applier = delta.NewApplier(bytes.NewReader(base), f.text)
	return f.applier.Handle, nil
}

func (u *UpdateEditor) ChangeFileProp(file delta.Baton, name string, value []byte) error {
	f, err := fileOf(file)
	if err != nil {
		return err
	}
	c := PropChange{Name: name, Value: value}
	if strings.HasPrefix(name, PropEntryPrefix) {
		f.entry = append(f.entry, c)
	} else {
		f.props = append(f.props, c)
	}
	return nil
}

func (u *UpdateEditor) CloseFile(file delta.Baton, textChecksum string) error {
	f, err := fileOf(file)
	if err != nil {
		return err
	}
	e := &Entry{Kind: delta.KindFile, Revision: u.target, CommittedRev: delta.InvalidRevnum}
	if !f.added {
		if e, err = u.w.Entry(f.path); err != nil {
			return err
		}
	}
	if err := applyEntryProps(e, f.entry...); err != nil {
		return err
	}

	mod := false
	if !f.added {
		if mod, err = u.w.TextModified(f.path); err != nil {
			return err
		}
	}
	var text []byte
	switch {
	case f.applier != nil:
		if !f.applier.Done() {
			return fmt.Errorf("text delta for %q did not end", f.path)
		}
		if textChecksum != "" && f.applier.Checksum() != textChecksum {
			return fmt.Errorf("checksum mismatch for %q; expected %s, actual %s", f.path, textChecksum, f.applier.Checksum())
		}
		if mod {
			return fmt.Errorf("%q: %w", f.path, ErrConflict)
		}
		text = append([]byte{}, f.text.Bytes()...)
	case f.added:
		text = []byte{}
	}

	if text != nil {
		if e.Checksum, err = u.w.InstallTextBase(f.path, text); err != nil {
			return err
		}
	}
	if err := u.w.SetEntry(f.path, e); err != nil {
		return err
	}
	if len(f.props) != 0 {
		if err := u.changeProps(f.path, f.props...); err != nil {
			return err
		}
	}
	if text == nil {
		if mod || !translationChanged(f.props) {
			return nil
		}
		if text, err = os.ReadFile(u.w.TextBasePath(f.path)); err != nil {
			return err
		}
	}
	if e.TextTime, err = u.w.writeWorking(f.path, text); err != nil {
		return err
	}
	u.log.Info("updated", "path", f.path, "added", f.added)
	return u.w.SetEntry(f.path, e)
}

func translationChanged(changes []PropChange) bool {
	for _, c := range changes {
		if c.Name == PropEOLStyle || c.Name == PropKeywords {
			return true
		}
	}
	return false
}

// CloseEdit moves every unscheduled entry in scope to the target revision.
func (u *UpdateEditor) CloseEdit() error {
	if !u.target.Valid() {
		return nil
	}
	e, err := u.w.Entry(u.scope)
	if errors.Is(err, ErrNotVersioned) {
		// the edit deleted the target.
		return nil
	}
	if err != nil {
		return err
	}
	if e.Kind == delta.KindDir {
		return u.bump(u.scope)
	}
	if e.Schedule != ScheduleNormal || e.Revision == u.target {
		return nil
	}
	e.Revision = u.target
	return u.w.SetEntry(u.scope, e)
}

func (u *UpdateEditor) bump(dir string) error {
	entries, err := u.w.Entries(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Schedule != ScheduleNormal {
			continue
		}
		rel := joinRel(dir, e.Name)
		if e.Kind == delta.KindDir && e.Name != ThisDir {
			if err := u.bump(rel); err != nil {
				return err
			}
			continue
		}
		if e.Revision == u.target {
			continue
		}
		e.Revision = u.target
		if err := u.w.SetEntry(rel, e); err != nil {
			return err
		}
	}
	return nil
}

func (u *UpdateEditor) AbortEdit() error {
	u.log.Warn("update aborted", "target", u.target)
	return nil
}
