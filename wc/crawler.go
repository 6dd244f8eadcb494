package wc

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/signadot/raedit/debug"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/ra"
)

// NotifyAction is what happened to a path during a crawl.
type NotifyAction uint8

const (
	NotifyRestore NotifyAction = iota
)

func (a NotifyAction) String() string {
	switch a {
	case NotifyRestore:
		return "restore"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Notification describes a local change made while crawling.
type Notification struct {
	Path   string
	Action NotifyAction
	Kind   delta.NodeKind
}

// CrawlOptions configures CrawlRevisions.
type CrawlOptions struct {
	// RestoreFiles recreates missing files from their text base.
	RestoreFiles bool
	// Recurse descends into subdirectories.
	Recurse bool
	Notify  func(Notification)
}

type crawler struct {
	w    *WC
	r    ra.Reporter
	opts *CrawlOptions
	log  *slog.Logger
}

// CrawlRevisions reports the revisions of the tree at target to reporter
// and finishes the report. Paths given to reporter are relative to
// target. Only nodes whose revision differs from their parent's are
// reported, along with deleted and obstructed nodes.
//
// Any failure, including one finishing the report, aborts it; if aborting
// fails too, the abort error is returned first. A nil opts recurses without
// restoring files.
func CrawlRevisions(w *WC, target string, reporter ra.Reporter, opts *CrawlOptions) error {
	if opts == nil {
		opts = &CrawlOptions{Recurse: true}
	}
	c := &crawler{w: w, r: reporter, opts: opts, log: w.log.With("crawl", target)}
	err := c.crawl(cleanRel(target))
	if err == nil {
		if err = reporter.FinishReport(); err == nil {
			return nil
		}
	}
	if aerr := reporter.AbortReport(); aerr != nil {
		return fmt.Errorf("error aborting report: %w: %w", aerr, err)
	}
	return err
}

func (c *crawler) setPath(p string, rev delta.Revnum) error {
	if debug.Crawl() {
		c.log.Debug("set-path", "path", p, "rev", rev)
	}
	return c.r.SetPath(p, rev)
}

func (c *crawler) deletePath(p string) error {
	if debug.Crawl() {
		c.log.Debug("delete-path", "path", p)
	}
	return c.r.DeletePath(p)
}

func (c *crawler) crawl(target string) error {
	entry, err := c.w.Entry(target)
	if target != "" && errors.Is(err, ErrNotVersioned) {
		// nothing to compare: report the target absent below its parent.
		parent, err := c.parentEntry(target)
		if err != nil {
			return err
		}
		if err := c.setPath("", parent.Revision); err != nil {
			return err
		}
		return c.deletePath("")
	}
	if err != nil {
		return err
	}

	base := entry.Revision
	if target != "" && (!base.Valid() || entry.Schedule == ScheduleAdd) {
		// an added target has no revision of its own yet.
		parent, err := c.parentEntry(target)
		if err != nil {
			return err
		}
		base = parent.Revision
	}
	if err := c.setPath("", base); err != nil {
		return err
	}

	missing := false
	if entry.Schedule != ScheduleDelete {
		kind, err := c.w.DiskKind(target)
		if err != nil {
			return err
		}
		missing = kind == delta.KindNone
	}

	switch entry.Kind {
	case delta.KindDir:
		if missing {
			// directories cannot be recreated locally.
			return c.deletePath("")
		}
		return c.reportDir(target, "", base)
	case delta.KindFile:
		if missing && c.opts.RestoreFiles {
			if err := c.restore(target); err != nil {
				return err
			}
		}
		// the anchor set-path above already carries the file's revision.
	}
	return nil
}

func (c *crawler) parentEntry(target string) (*Entry, error) {
	dir, _ := splitRel(target)
	return c.w.Entry(dir)
}

// reportDir reports the entries of dir, whose revision is dirRev, under
// the report path rpath.
func (c *crawler) reportDir(dir, rpath string, dirRev delta.Revnum) error {
	entries, err := c.w.Entries(dir)
	if err != nil {
		return err
	}
	dirents, err := readDirents(c.w.Abs(dir))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == ThisDir || e.Schedule != ScheduleNormal {
			continue
		}
		rel, p := joinRel(dir, e.Name), joinRel(rpath, e.Name)
		dk, present := dirents[e.Name]
		if debug.Crawl() {
			c.log.Debug("visit", "path", rel, "kind", e.Kind, "rev", e.Revision, "disk", dk)
		}

		switch e.Kind {
		case delta.KindFile:
			if present && dk != delta.KindFile {
				// the other side sees the obstruction when it adds the
				// file back.
				if err := c.deletePath(p); err != nil {
					return err
				}
				continue
			}
			if !present && c.opts.RestoreFiles {
				if err := c.restore(rel); err != nil {
					return err
				}
			}
			if e.Revision != dirRev {
				if err := c.setPath(p, e.Revision); err != nil {
					return err
				}
			}

		case delta.KindDir:
			if !c.opts.Recurse {
				continue
			}
			if !present {
				if err := c.deletePath(p); err != nil {
					return err
				}
				continue
			}
			if dk != delta.KindDir {
				return fmt.Errorf("%q is no longer a directory; remove the entry before updating: %w", rel, ErrObstructedUpdate)
			}
			sub, err := c.w.Entry(rel)
			if err != nil {
				return err
			}
			if sub.Revision != dirRev {
				if err := c.setPath(p, sub.Revision); err != nil {
					return err
				}
			}
			if err := c.reportDir(rel, p, sub.Revision); err != nil {
				return err
			}
		}
	}
	return nil
}

func readDirents(dir string) (map[string]delta.NodeKind, error) {
	des, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	res := make(map[string]delta.NodeKind, len(des))
	for _, de := range des {
		if de.Name() == AdminDir {
			continue
		}
		res[de.Name()] = modeKind(de.Type())
	}
	return res, nil
}

// restore recreates the working file rel from its text base and notifies.
func (c *crawler) restore(rel string) error {
	if err := c.w.Restore(rel); err != nil {
		return err
	}
	if c.opts.Notify != nil {
		c.opts.Notify(Notification{Path: rel, Action: NotifyRestore, Kind: delta.KindFile})
	}
	return nil
}

// Restore recreates the working file rel from its text base, translated to
// working form.
func (w *WC) Restore(rel string) error {
	rel = cleanRel(rel)
	text, err := os.ReadFile(w.TextBasePath(rel))
	if err != nil {
		return fmt.Errorf("failed to restore %q: %w", rel, err)
	}
	mtime, err := w.writeWorking(rel, text)
	if err != nil {
		return err
	}
	e, err := w.Entry(rel)
	if err != nil {
		return err
	}
	e.TextTime = mtime
	return w.SetEntry(rel, e)
}
