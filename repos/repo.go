// Package repos holds the versioned trees served to working copies.
//
// A Repo is a list of immutable revisions. Each revision maps paths to
// nodes; nodes unchanged between revisions are shared. Commits arrive
// through a Txn, which is a delta.Editor, and updates leave through
// DriveUpdate, which drives any delta.Editor with the difference between
// a reported working copy and a target revision.
package repos

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/signadot/raedit/delta"
)

var (
	ErrNoSuchRevision = errors.New("no such revision")
	ErrNotFound       = errors.New("path not found")
	ErrAlreadyExists  = errors.New("path already exists")
	ErrOutOfDate      = errors.New("out of date")
	ErrNotDirectory   = errors.New("not a directory")
	ErrNotFile        = errors.New("not a file")
)

// Node is a file or directory. Nodes are never modified once part of a
// revision.
type Node struct {
	Kind  delta.NodeKind
	Text  []byte
	Props map[string][]byte
	// Rev is the revision which last changed the node.
	Rev delta.Revnum
}

func (n *Node) clone() *Node {
	c := *n
	c.Props = make(map[string][]byte, len(n.Props))
	for k, v := range n.Props {
		c.Props[k] = v
	}
	return &c
}

// Revision is one committed tree.
type Revision struct {
	Rev    delta.Revnum
	Date   time.Time
	Author string
	Log    string

	tree map[string]*Node
}

// Node returns the node at p, or nil.
func (rv *Revision) Node(p string) *Node {
	return rv.tree[cleanPath(p)]
}

// Children returns the sorted names of the entries of dir.
func (rv *Revision) Children(dir string) []string {
	return children(rv.tree, cleanPath(dir))
}

// Paths returns every path of the revision in sorted order.
func (rv *Revision) Paths() []string {
	res := make([]string, 0, len(rv.tree))
	for p := range rv.tree {
		res = append(res, p)
	}
	sort.Strings(res)
	return res
}

func children(tree map[string]*Node, dir string) []string {
	var res []string
	for p := range tree {
		if p == "" || parentOf(p) != dir {
			continue
		}
		res = append(res, path.Base(p))
	}
	sort.Strings(res)
	return res
}

// Options configures a Repo.
type Options struct {
	Log *slog.Logger
	// Head creates that many empty revisions after revision 0.
	Head delta.Revnum
	// Now stamps new revisions; time.Now when nil.
	Now func() time.Time
}

// Repo is safe for concurrent use.
type Repo struct {
	mu   sync.RWMutex
	revs []*Revision
	log  *slog.Logger
	now  func() time.Time
}

// New returns a repository whose revision 0 is an empty root directory.
func New(opts *Options) *Repo {
	if opts == nil {
		opts = &Options{}
	}
	r := &Repo{log: opts.Log, now: opts.Now}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	tree := map[string]*Node{"": {Kind: delta.KindDir, Props: map[string][]byte{}, Rev: 0}}
	for rev := delta.Revnum(0); rev <= opts.Head; rev++ {
		r.revs = append(r.revs, &Revision{Rev: rev, Date: r.now().UTC(), tree: tree})
	}
	return r
}

// Head returns the youngest revision number.
func (r *Repo) Head() delta.Revnum {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return delta.Revnum(len(r.revs) - 1)
}

// Revision returns revision rev.
func (r *Repo) Revision(rev delta.Revnum) (*Revision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rev < 0 || int(rev) >= len(r.revs) {
		return nil, fmt.Errorf("r%d: %w", rev, ErrNoSuchRevision)
	}
	return r.revs[rev], nil
}

func (r *Repo) head() *Revision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revs[len(r.revs)-1]
}

// commit appends the tree of t as a new revision.
func (r *Repo) commit(t *Txn) (*Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head := r.revs[len(r.revs)-1]
	if head != t.base {
		return nil, fmt.Errorf("transaction based on r%d but head is r%d: %w", t.base.Rev, head.Rev, ErrOutOfDate)
	}
	rev := head.Rev + 1
	for p := range t.touched {
		if n := t.tree[p]; n != nil {
			n.Rev = rev
		}
	}
	rv := &Revision{
		Rev:    rev,
		Date:   r.now().UTC(),
		Author: t.author,
		Log:    t.logMsg,
		tree:   t.tree,
	}
	r.revs = append(r.revs, rv)
	r.log.Info("committed", "rev", rev, "author", t.author, "paths", len(t.touched))
	return rv, nil
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func parentOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if name == "" {
		return dir
	}
	return dir + "/" + name
}

// within reports whether p is dir or lies below it.
func within(dir, p string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}
