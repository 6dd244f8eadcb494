package repos

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/ra"
	"github.com/signadot/raedit/wc"
)

// update computes the edit turning a reported working copy into a target
// revision.
type update struct {
	repo   *Repo
	editor delta.Editor
	to     *Revision
	anchor string
	report map[string]ra.Entry
}

// DriveUpdate drives editor with the changes taking the working copy
// described by report to revision rev, or the head when rev is invalid.
// Report paths are relative to anchor; edit paths are relative to the
// repository root. The first report entry must set the anchor itself.
//
// Files whose node did not change are not sent, so a working copy also
// moves unchanged entries to the target revision when the edit closes.
func (r *Repo) DriveUpdate(anchor string, rev delta.Revnum, report []ra.Entry, editor delta.Editor) error {
	if !rev.Valid() {
		rev = r.Head()
	}
	to, err := r.Revision(rev)
	if err != nil {
		return err
	}
	if len(report) == 0 || report[0].Path != "" || report[0].Deleted {
		return fmt.Errorf("report does not start by setting its anchor")
	}
	u := &update{
		repo:   r,
		editor: editor,
		to:     to,
		anchor: cleanPath(anchor),
		report: make(map[string]ra.Entry, len(report)),
	}
	for _, e := range report {
		u.report[joinPath(u.anchor, e.Path)] = e
	}
	return u.run()
}

func (u *update) run() error {
	ed := u.editor
	if err := ed.SetTargetRevision(u.to.Rev); err != nil {
		return err
	}
	_, anchorRev := u.source(u.anchor)
	root, err := ed.OpenRoot(anchorRev)
	if err != nil {
		return err
	}
	if u.anchor == "" {
		if src, _ := u.source(""); src != nil && src != u.to.tree[""] {
			if err := u.sendProps(root, delta.KindDir, src.Props, u.to.tree[""]); err != nil {
				return err
			}
		}
		if err := u.diffDir("", root); err != nil {
			return err
		}
		if err := ed.CloseDirectory(root); err != nil {
			return err
		}
		return ed.CloseEdit()
	}

	// open the directories above the anchor.
	batons := []delta.Baton{root}
	dir := parentOf(u.anchor)
	var above []string
	for p := dir; p != ""; p = parentOf(p) {
		above = append([]string{p}, above...)
	}
	for _, p := range above {
		if n := u.to.tree[p]; n == nil || n.Kind != delta.KindDir {
			return fmt.Errorf("%q in r%d: %w", p, u.to.Rev, ErrNotDirectory)
		}
		b, err := ed.OpenDirectory(p, batons[len(batons)-1], anchorRev)
		if err != nil {
			return err
		}
		batons = append(batons, b)
	}
	if err := u.diffEntry(u.anchor, batons[len(batons)-1]); err != nil {
		return err
	}
	for i := len(batons) - 1; i >= 0; i-- {
		if err := ed.CloseDirectory(batons[i]); err != nil {
			return err
		}
	}
	return ed.CloseEdit()
}

// source returns the node the working copy holds at p and its revision.
// The nearest reported path at or above p decides.
func (u *update) source(p string) (*Node, delta.Revnum) {
	for q := p; ; q = parentOf(q) {
		if e, ok := u.report[q]; ok {
			if e.Deleted {
				return nil, delta.InvalidRevnum
			}
			rv, err := u.repo.Revision(e.Rev)
			if err != nil {
				return nil, delta.InvalidRevnum
			}
			return rv.tree[p], e.Rev
		}
		if q == u.anchor || q == "" {
			return nil, delta.InvalidRevnum
		}
	}
}

// sourceChildren lists the entries of dir in the working copy.
func (u *update) sourceChildren(dir string) []string {
	n, rev := u.source(dir)
	if n == nil || n.Kind != delta.KindDir {
		return nil
	}
	rv, _ := u.repo.Revision(rev)
	names := map[string]bool{}
	for _, name := range children(rv.tree, dir) {
		names[name] = true
	}
	for p, e := range u.report {
		if p != "" && p != dir && parentOf(p) == dir && !e.Deleted {
			names[path.Base(p)] = true
		}
	}
	return sortedKeys(names)
}

func sortedKeys(m map[string]bool) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

func (u *update) diffDir(dir string, baton delta.Baton) error {
	names := map[string]bool{}
	for _, name := range u.sourceChildren(dir) {
		names[name] = true
	}
	for _, name := range children(u.to.tree, dir) {
		names[name] = true
	}
	for _, name := range sortedKeys(names) {
		if err := u.diffEntry(joinPath(dir, name), baton); err != nil {
			return err
		}
	}
	return nil
}

func (u *update) diffEntry(p string, parent delta.Baton) error {
	ed := u.editor
	src, srcRev := u.source(p)
	tgt := u.to.tree[p]
	switch {
	case src == nil && tgt == nil:
		return nil
	case tgt == nil:
		return ed.DeleteEntry(p, srcRev, parent)
	case src == nil:
		return u.add(p, tgt, parent)
	case src.Kind != tgt.Kind:
		if err := ed.DeleteEntry(p, srcRev, parent); err != nil {
			return err
		}
		return u.add(p, tgt, parent)
	case tgt.Kind == delta.KindDir:
		b, err := ed.OpenDirectory(p, parent, srcRev)
		if err != nil {
			return err
		}
		if src != tgt {
			if err := u.sendProps(b, tgt.Kind, src.Props, tgt); err != nil {
				return err
			}
		}
		if err := u.diffDir(p, b); err != nil {
			return err
		}
		return ed.CloseDirectory(b)
	}
	if src == tgt {
		return nil
	}
	b, err := ed.OpenFile(p, parent, srcRev)
	if err != nil {
		return err
	}
	if err := u.sendProps(b, delta.KindFile, src.Props, tgt); err != nil {
		return err
	}
	if bytes.Equal(src.Text, tgt.Text) {
		return ed.CloseFile(b, "")
	}
	return u.sendText(b, delta.Checksum(src.Text), src.Text, tgt.Text)
}

func (u *update) add(p string, n *Node, parent delta.Baton) error {
	ed := u.editor
	if n.Kind == delta.KindDir {
		b, err := ed.AddDirectory(p, parent, "", delta.InvalidRevnum)
		if err != nil {
			return err
		}
		if err := u.sendProps(b, delta.KindDir, nil, n); err != nil {
			return err
		}
		for _, name := range children(u.to.tree, p) {
			q := joinPath(p, name)
			if err := u.add(q, u.to.tree[q], b); err != nil {
				return err
			}
		}
		return ed.CloseDirectory(b)
	}
	b, err := ed.AddFile(p, parent, "", delta.InvalidRevnum)
	if err != nil {
		return err
	}
	if err := u.sendProps(b, delta.KindFile, nil, n); err != nil {
		return err
	}
	return u.sendText(b, "", nil, n.Text)
}

func (u *update) changeProp(b delta.Baton, kind delta.NodeKind, name string, value []byte) error {
	if kind == delta.KindDir {
		return u.editor.ChangeDirProp(b, name, value)
	}
	return u.editor.ChangeFileProp(b, name, value)
}

// sendProps sends the regular property changes from old to n in name
// order, then the entry properties of the revision which last changed n.
func (u *update) sendProps(b delta.Baton, kind delta.NodeKind, old map[string][]byte, n *Node) error {
	names := map[string]bool{}
	for k := range old {
		names[k] = true
	}
	for k := range n.Props {
		names[k] = true
	}
	for _, name := range sortedKeys(names) {
		v, ok := n.Props[name]
		if ov, had := old[name]; had && ok && bytes.Equal(ov, v) {
			continue
		}
		if !ok {
			v = nil
		} else if v == nil {
			v = []byte{}
		}
		if err := u.changeProp(b, kind, name, v); err != nil {
			return err
		}
	}
	changed, err := u.repo.Revision(n.Rev)
	if err != nil {
		return err
	}
	entry := []struct {
		name, value string
	}{
		{wc.PropEntryCommittedRev, strconv.FormatInt(int64(changed.Rev), 10)},
		{wc.PropEntryCommitDate, changed.Date.Format(time.RFC3339Nano)},
		{wc.PropEntryLastAuthor, changed.Author},
	}
	for _, e := range entry {
		var v []byte
		if e.value != "" {
			v = []byte(e.value)
		}
		if err := u.changeProp(b, kind, e.name, v); err != nil {
			return err
		}
	}
	return nil
}

// sendText sends text as a delta against base, whose checksum is baseSum.
func (u *update) sendText(b delta.Baton, baseSum string, base, text []byte) error {
	ed := u.editor
	h, err := ed.ApplyTextDelta(b, baseSum)
	if err != nil {
		return err
	}
	if h != nil {
		if err := delta.SendWindows(base, text, h); err != nil {
			return err
		}
	}
	return ed.CloseFile(b, delta.Checksum(text))
}
