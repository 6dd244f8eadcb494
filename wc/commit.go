package wc

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signadot/raedit/delta"
)

// Add schedules the unversioned node rel for addition, with everything
// below it if it is a directory.
func (w *WC) Add(rel string) error {
	rel = cleanRel(rel)
	if _, err := w.Entry(rel); err == nil {
		return fmt.Errorf("%q is already under version control", rel)
	} else if !errors.Is(err, ErrNotVersioned) {
		return err
	}
	kind, err := w.DiskKind(rel)
	if err != nil {
		return err
	}
	switch kind {
	case delta.KindFile:
		return w.SetEntry(rel, &Entry{Kind: delta.KindFile, Schedule: ScheduleAdd, Revision: 0, CommittedRev: delta.InvalidRevnum})
	case delta.KindDir:
	default:
		return fmt.Errorf("cannot add %q: kind %s", rel, kind)
	}
	if err := w.SetEntry(rel, &Entry{Kind: delta.KindDir, Schedule: ScheduleAdd, Revision: 0, CommittedRev: delta.InvalidRevnum}); err != nil {
		return err
	}
	des, err := os.ReadDir(w.Abs(rel))
	if err != nil {
		return err
	}
	for _, de := range des {
		if de.Name() == AdminDir {
			continue
		}
		if err := w.Add(joinRel(rel, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Delete schedules rel for deletion and removes it from disk. A node
// scheduled for addition is simply forgotten.
func (w *WC) Delete(rel string) error {
	rel = cleanRel(rel)
	if rel == "" {
		return fmt.Errorf("cannot delete the working copy root")
	}
	e, err := w.Entry(rel)
	if err != nil {
		return err
	}
	switch e.Schedule {
	case ScheduleAdd:
		return w.RemoveEntry(rel)
	case ScheduleDelete:
		return nil
	}
	e.Schedule = ScheduleDelete
	if err := w.SetEntry(rel, e); err != nil {
		return err
	}
	if err := os.RemoveAll(w.Abs(rel)); err != nil {
		return fmt.Errorf("failed to remove %q: %w", rel, err)
	}
	return nil
}

// TextModified reports whether the working file rel differs from its text
// base. A missing file is not modified.
func (w *WC) TextModified(rel string) (bool, error) {
	e, err := w.Entry(rel)
	if err != nil {
		return false, err
	}
	text, err := w.DetranslatedText(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if e.Checksum != "" {
		return delta.Checksum(text) != e.Checksum, nil
	}
	base, err := os.ReadFile(w.TextBasePath(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !bytes.Equal(base, text), nil
}

// Committable is a node with local changes.
type Committable struct {
	Path     string
	Kind     delta.NodeKind
	Schedule Schedule
	Revision delta.Revnum
	TextMod  bool
	PropMod  bool
}

func (c Committable) String() string {
	flags := []byte("__")
	if c.TextMod {
		flags[0] = 'M'
	}
	if c.PropMod {
		flags[1] = 'M'
	}
	switch c.Schedule {
	case ScheduleAdd:
		flags[0] = 'A'
	case ScheduleDelete:
		flags[0] = 'D'
	case ScheduleReplace:
		flags[0] = 'R'
	}
	return fmt.Sprintf("%s %s", bytes.ReplaceAll(flags, []byte("_"), []byte(" ")), c.Path)
}

// Harvest returns the locally changed nodes of the working copy in
// depth-first order, each directory before its contents.
func (w *WC) Harvest() ([]Committable, error) {
	var res []Committable
	pm, err := w.propsModified("")
	if err != nil {
		return nil, err
	}
	if pm {
		top, err := w.Entry("")
		if err != nil {
			return nil, err
		}
		res = append(res, Committable{Kind: delta.KindDir, Revision: top.Revision, PropMod: true})
	}
	if err := w.harvestDir("", &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (w *WC) propsModified(rel string) (bool, error) {
	changes, err := w.PropChanges(rel)
	if err != nil {
		return false, err
	}
	return len(changes) != 0, nil
}

func (w *WC) harvestDir(dir string, res *[]Committable) error {
	entries, err := w.Entries(dir)
	if err != nil {
		return err
	}
	for _, e := range entries[1:] {
		rel := joinRel(dir, e.Name)
		if e.Kind == delta.KindDir {
			full, err := w.Entry(rel)
			if err != nil {
				return err
			}
			e = full
		}
		c := Committable{Path: rel, Kind: e.Kind, Schedule: e.Schedule, Revision: e.Revision}
		switch e.Schedule {
		case ScheduleDelete:
			*res = append(*res, c)
			continue
		case ScheduleAdd, ScheduleReplace:
			c.TextMod = e.Kind == delta.KindFile
			c.PropMod = true
			*res = append(*res, c)
			if e.Kind == delta.KindDir {
				if err := w.harvestDir(rel, res); err != nil {
					return err
				}
			}
			continue
		}
		if c.PropMod, err = w.propsModified(rel); err != nil {
			return err
		}
		if e.Kind == delta.KindFile {
			if c.TextMod, err = w.TextModified(rel); err != nil {
				return err
			}
		}
		if c.TextMod || c.PropMod {
			*res = append(*res, c)
		}
		if e.Kind == delta.KindDir {
			if err := w.harvestDir(rel, res); err != nil {
				return err
			}
		}
	}
	return nil
}

type openDir struct {
	path  string
	baton delta.Baton
}

type commitDriver struct {
	w      *WC
	editor delta.Editor
	stack  []openDir
	bases  map[string]string
}

// DriveCommit describes items, as returned by Harvest, to editor and
// closes the edit. It returns the temporary text bases made for the
// committed files, by path. On failure the edit is aborted; if aborting
// fails too, the abort error is returned first.
func DriveCommit(w *WC, items []Committable, editor delta.Editor) (map[string]string, error) {
	d := &commitDriver{w: w, editor: editor, bases: map[string]string{}}
	if err := d.drive(items); err != nil {
		for _, tmp := range d.bases {
			os.Remove(tmp)
		}
		if aerr := editor.AbortEdit(); aerr != nil {
			return nil, fmt.Errorf("error aborting commit: %w: %w", aerr, err)
		}
		return nil, err
	}
	return d.bases, nil
}

func (d *commitDriver) drive(items []Committable) error {
	top, err := d.w.Entry("")
	if err != nil {
		return err
	}
	root, err := d.editor.OpenRoot(top.Revision)
	if err != nil {
		return err
	}
	d.stack = append(d.stack, openDir{baton: root})
	for _, it := range items {
		if err := d.commit(it); err != nil {
			return fmt.Errorf("%q: %w", it.Path, err)
		}
	}
	for len(d.stack) > 0 {
		if err := d.pop(); err != nil {
			return err
		}
	}
	return d.editor.CloseEdit()
}

func (d *commitDriver) top() openDir {
	return d.stack[len(d.stack)-1]
}

func (d *commitDriver) pop() error {
	if err := d.editor.CloseDirectory(d.top().baton); err != nil {
		return err
	}
	d.stack = d.stack[:len(d.stack)-1]
	return nil
}

// parent returns the baton of the directory holding p, closing the
// directories left behind and opening the ones on the way.
func (d *commitDriver) parent(p string) (delta.Baton, error) {
	dir, _ := splitRel(p)
	for len(d.stack) > 1 && !within(d.top().path, dir) {
		if err := d.pop(); err != nil {
			return nil, err
		}
	}
	for d.top().path != dir {
		cur := d.top()
		rest := strings.TrimPrefix(strings.TrimPrefix(dir, cur.path), "/")
		name, _, _ := strings.Cut(rest, "/")
		next := joinRel(cur.path, name)
		e, err := d.w.Entry(next)
		if err != nil {
			return nil, err
		}
		b, err := d.editor.OpenDirectory(next, cur.baton, e.Revision)
		if err != nil {
			return nil, err
		}
		d.stack = append(d.stack, openDir{path: next, baton: b})
	}
	return d.top().baton, nil
}

func (d *commitDriver) commit(it Committable) error {
	if it.Path == "" {
		return TransmitPropDeltas(d.w, "", delta.KindDir, d.editor, d.stack[0].baton)
	}
	parent, err := d.parent(it.Path)
	if err != nil {
		return err
	}
	added := false
	switch it.Schedule {
	case ScheduleDelete:
		return d.editor.DeleteEntry(it.Path, it.Revision, parent)
	case ScheduleReplace:
		if err := d.editor.DeleteEntry(it.Path, it.Revision, parent); err != nil {
			return err
		}
		added = true
	case ScheduleAdd:
		added = true
	}

	if it.Kind == delta.KindDir {
		var b delta.Baton
		if added {
			b, err = d.editor.AddDirectory(it.Path, parent, "", delta.InvalidRevnum)
		} else {
			b, err = d.editor.OpenDirectory(it.Path, parent, it.Revision)
		}
		if err != nil {
			return err
		}
		d.stack = append(d.stack, openDir{path: it.Path, baton: b})
		if it.PropMod {
			return TransmitPropDeltas(d.w, it.Path, delta.KindDir, d.editor, b)
		}
		return nil
	}

	var f delta.Baton
	if added {
		f, err = d.editor.AddFile(it.Path, parent, "", delta.InvalidRevnum)
	} else {
		f, err = d.editor.OpenFile(it.Path, parent, it.Revision)
	}
	if err != nil {
		return err
	}
	if it.PropMod {
		if err := TransmitPropDeltas(d.w, it.Path, delta.KindFile, d.editor, f); err != nil {
			return err
		}
	}
	if !it.TextMod {
		return d.editor.CloseFile(f, "")
	}
	tmp, err := TransmitTextDeltas(d.w, it.Path, added, d.editor, f)
	if err != nil {
		return err
	}
	if tmp != "" {
		d.bases[it.Path] = tmp
	}
	return nil
}

// CommitInfo describes a new revision.
type CommitInfo struct {
	Rev    delta.Revnum
	Date   time.Time
	Author string
}

// PostCommit records that rel was committed in ci: its temporary text base
// becomes its text base, its working properties its base properties, and
// its entry moves to the new revision. A node committed as deleted is
// forgotten.
func (w *WC) PostCommit(rel string, ci CommitInfo) error {
	rel = cleanRel(rel)
	e, err := w.Entry(rel)
	if err != nil {
		return err
	}
	if e.Schedule == ScheduleDelete {
		if err := os.RemoveAll(w.Abs(rel)); err != nil {
			return err
		}
		return w.RemoveEntry(rel)
	}

	var text []byte
	if e.Kind == delta.KindFile {
		tmp := w.TmpTextBasePath(rel)
		text, err = os.ReadFile(tmp)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			text = nil
		case err != nil:
			return err
		default:
			if e.Checksum, err = w.InstallTextBase(rel, text); err != nil {
				return err
			}
			os.Remove(tmp)
		}
	}
	props, err := w.Props(rel)
	if err != nil {
		return err
	}
	if err := w.SetBaseProps(rel, props); err != nil {
		return err
	}

	e.Revision = ci.Rev
	e.CommittedRev = ci.Rev
	e.CommittedDate = ci.Date
	e.LastAuthor = ci.Author
	e.Schedule = ScheduleNormal
	if err := w.SetEntry(rel, e); err != nil {
		return err
	}
	if e.Kind != delta.KindFile {
		return nil
	}
	if text != nil {
		if _, ok := props[PropKeywords]; ok {
			// keywords now expand to the new revision.
			if e.TextTime, err = w.writeWorking(rel, text); err != nil {
				return err
			}
			return w.SetEntry(rel, e)
		}
	}
	if mt, err := fileTime(w.Abs(rel)); err == nil {
		e.TextTime = mt
		return w.SetEntry(rel, e)
	}
	return nil
}

// CleanupTmp removes leftover temporary files of the admin area.
func (w *WC) CleanupTmp() error {
	dir := filepath.Join(w.root, AdminDir, tmpDir)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(dir, textBaseDir), 0o755)
}
