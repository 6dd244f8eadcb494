package repos

import (
	"bytes"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/wc"
)

// Txn is a commit in progress. It is a delta.Editor: drive it with the
// changes against the head revision it started from. CloseEdit makes the
// new revision; AbortEdit drops it.
type Txn struct {
	repo    *Repo
	log     *slog.Logger
	base    *Revision
	tree    map[string]*Node
	touched map[string]bool
	author  string
	logMsg  string

	result *Revision
	done   bool
}

var _ delta.Editor = (*Txn)(nil)

type txnDir struct {
	path    string
	baseRev delta.Revnum
}

type txnFile struct {
	path    string
	baseRev delta.Revnum
	text    *bytes.Buffer
	applier *delta.Applier
}

// Begin starts a commit against the current head.
func (r *Repo) Begin(author, logMsg string) *Txn {
	base := r.head()
	return &Txn{
		repo:    r,
		log:     r.log.With("base", base.Rev),
		base:    base,
		tree:    maps.Clone(base.tree),
		touched: map[string]bool{},
		author:  author,
		logMsg:  logMsg,
	}
}

// Base returns the revision the transaction started from.
func (t *Txn) Base() delta.Revnum {
	return t.base.Rev
}

// Committed returns the revision made by CloseEdit, or nil.
func (t *Txn) Committed() *Revision {
	return t.result
}

// mutable returns a node at p owned by the transaction.
func (t *Txn) mutable(p string) *Node {
	n := t.tree[p]
	if n == nil {
		return nil
	}
	if !t.touched[p] {
		n = n.clone()
		t.tree[p] = n
		t.touched[p] = true
	}
	return n
}

// touchParent marks the directory of p as changed by an added or deleted
// entry.
func (t *Txn) touchParent(p string) {
	if p != "" {
		t.mutable(parentOf(p))
	}
}

func (t *Txn) check() error {
	if t.done {
		return fmt.Errorf("transaction on r%d already ended", t.base.Rev)
	}
	return nil
}

func dirOf(b delta.Baton) (*txnDir, error) {
	d, ok := b.(*txnDir)
	if !ok {
		return nil, fmt.Errorf("not a directory baton: %T", b)
	}
	return d, nil
}

func fileOf(b delta.Baton) (*txnFile, error) {
	f, ok := b.(*txnFile)
	if !ok {
		return nil, fmt.Errorf("not a file baton: %T", b)
	}
	return f, nil
}

func (t *Txn) SetTargetRevision(delta.Revnum) error {
	return nil
}

func (t *Txn) OpenRoot(baseRev delta.Revnum) (delta.Baton, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return &txnDir{baseRev: baseRev}, nil
}

func (t *Txn) DeleteEntry(p string, rev delta.Revnum, parent delta.Baton) error {
	if err := t.check(); err != nil {
		return err
	}
	p = cleanPath(p)
	n := t.tree[p]
	if n == nil {
		return fmt.Errorf("delete %q: %w", p, ErrNotFound)
	}
	if rev.Valid() && n.Rev > rev {
		return fmt.Errorf("delete %q: changed in r%d after r%d: %w", p, n.Rev, rev, ErrOutOfDate)
	}
	for q := range t.tree {
		if within(p, q) {
			delete(t.tree, q)
			t.touched[q] = true
		}
	}
	t.touchParent(p)
	return nil
}

func (t *Txn) add(p string, parent delta.Baton, kind delta.NodeKind, copyPath string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := dirOf(parent); err != nil {
		return err
	}
	if copyPath != "" {
		return fmt.Errorf("add %q: copies are not supported", p)
	}
	if t.tree[p] != nil {
		return fmt.Errorf("add %q: %w", p, ErrAlreadyExists)
	}
	if d := t.tree[parentOf(p)]; d == nil || d.Kind != delta.KindDir {
		return fmt.Errorf("add %q: parent: %w", p, ErrNotDirectory)
	}
	t.tree[p] = &Node{Kind: kind, Props: map[string][]byte{}}
	t.touched[p] = true
	t.touchParent(p)
	return nil
}

func (t *Txn) AddDirectory(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	p = cleanPath(p)
	if err := t.add(p, parent, delta.KindDir, copyPath); err != nil {
		return nil, err
	}
	return &txnDir{path: p, baseRev: delta.InvalidRevnum}, nil
}

func (t *Txn) OpenDirectory(p string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	p = cleanPath(p)
	n := t.tree[p]
	if n == nil {
		return nil, fmt.Errorf("open %q: %w", p, ErrNotFound)
	}
	if n.Kind != delta.KindDir {
		return nil, fmt.Errorf("open %q: %w", p, ErrNotDirectory)
	}
	return &txnDir{path: p, baseRev: baseRev}, nil
}

func setProp(n *Node, name string, value []byte) {
	if value == nil {
		delete(n.Props, name)
		return
	}
	n.Props[name] = value
}

func isEntryProp(name string) bool {
	return strings.HasPrefix(name, wc.PropEntryPrefix)
}

func (t *Txn) ChangeDirProp(dir delta.Baton, name string, value []byte) error {
	d, err := dirOf(dir)
	if err != nil {
		return err
	}
	if isEntryProp(name) {
		return nil
	}
	n := t.tree[d.path]
	if d.baseRev.Valid() && n.Rev > d.baseRev {
		return fmt.Errorf("property %q on %q: changed in r%d after r%d: %w", name, d.path, n.Rev, d.baseRev, ErrOutOfDate)
	}
	setProp(t.mutable(d.path), name, value)
	return nil
}

func (t *Txn) CloseDirectory(dir delta.Baton) error {
	_, err := dirOf(dir)
	return err
}

func (t *Txn) AddFile(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	p = cleanPath(p)
	if err := t.add(p, parent, delta.KindFile, copyPath); err != nil {
		return nil, err
	}
	return &txnFile{path: p, baseRev: delta.InvalidRevnum}, nil
}

func (t *Txn) OpenFile(p string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	p = cleanPath(p)
	n := t.tree[p]
	if n == nil {
		return nil, fmt.Errorf("open %q: %w", p, ErrNotFound)
	}
	if n.Kind != delta.KindFile {
		return nil, fmt.Errorf("open %q: %w", p, ErrNotFile)
	}
	if baseRev.Valid() && n.Rev > baseRev {
		return nil, fmt.Errorf("%q changed in r%d after r%d: %w", p, n.Rev, baseRev, ErrOutOfDate)
	}
	return &txnFile{path: p, baseRev: baseRev}, nil
}

func (t *Txn) ApplyTextDelta(file delta.Baton, baseChecksum string) (delta.WindowHandler, error) {
	f, err := fileOf(file)
	if err != nil {
		return nil, err
	}
	base := t.tree[f.path].Text
	if baseChecksum != "" {
		if actual := delta.Checksum(base); actual != baseChecksum {
			return nil, fmt.Errorf("checksum mismatch for base of %q; expected %s, actual %s", f.path, baseChecksum, actual)
		}
	}
	f.text = &bytes.Buffer{}
	f.applier = delta.NewApplier(bytes.NewReader(base), f.text)
	return f.applier.Handle, nil
}

func (t *Txn) ChangeFileProp(file delta.Baton, name string, value []byte) error {
	f, err := fileOf(file)
	if err != nil {
		return err
	}
	if isEntryProp(name) {
		return nil
	}
	setProp(t.mutable(f.path), name, value)
	return nil
}

func (t *Txn) CloseFile(file delta.Baton, textChecksum string) error {
	f, err := fileOf(file)
	if err != nil {
		return err
	}
	if f.applier == nil {
		return nil
	}
	if !f.applier.Done() {
		return fmt.Errorf("close %q: text delta not finished", f.path)
	}
	if textChecksum != "" {
		if actual := f.applier.Checksum(); actual != textChecksum {
			return fmt.Errorf("checksum mismatch for %q; expected %s, actual %s", f.path, textChecksum, actual)
		}
	}
	t.mutable(f.path).Text = f.text.Bytes()
	return nil
}

// CloseEdit commits the transaction. It fails with ErrOutOfDate if another
// commit made a new head in the meantime.
func (t *Txn) CloseEdit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	rv, err := t.repo.commit(t)
	if err != nil {
		return err
	}
	t.result = rv
	return nil
}

func (t *Txn) AbortEdit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.log.Info("transaction aborted", "author", t.author)
	return nil
}
