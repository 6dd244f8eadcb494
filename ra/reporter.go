// Package ra carries the report phase of an update: the client describes
// the revisions its working copy holds, the server answers with an edit.
package ra

import (
	"fmt"

	"github.com/signadot/raedit/delta"
)

// Reporter receives a working copy's state. Paths are relative to the
// report anchor; the first call is always SetPath("", rev).
type Reporter interface {
	SetPath(path string, rev delta.Revnum) error
	DeletePath(path string) error
	FinishReport() error
	AbortReport() error
}

// Entry is one reported path.
type Entry struct {
	Path    string
	Rev     delta.Revnum
	Deleted bool
}

func (e Entry) String() string {
	if e.Deleted {
		return fmt.Sprintf("delete %q", e.Path)
	}
	return fmt.Sprintf("set %q@%d", e.Path, e.Rev)
}

// Collector is a Reporter keeping the report in memory.
type Collector struct {
	Entries  []Entry
	Finished bool
	Aborted  bool

	// OnFinish, if set, is called with the entries by FinishReport.
	OnFinish func(entries []Entry) error
}

var _ Reporter = (*Collector)(nil)

func (c *Collector) done() error {
	if c.Finished || c.Aborted {
		return fmt.Errorf("report already ended")
	}
	return nil
}

func (c *Collector) SetPath(path string, rev delta.Revnum) error {
	if err := c.done(); err != nil {
		return err
	}
	c.Entries = append(c.Entries, Entry{Path: path, Rev: rev})
	return nil
}

func (c *Collector) DeletePath(path string) error {
	if err := c.done(); err != nil {
		return err
	}
	c.Entries = append(c.Entries, Entry{Path: path, Deleted: true})
	return nil
}

func (c *Collector) FinishReport() error {
	if err := c.done(); err != nil {
		return err
	}
	c.Finished = true
	if c.OnFinish != nil {
		return c.OnFinish(c.Entries)
	}
	return nil
}

func (c *Collector) AbortReport() error {
	c.Aborted = true
	return nil
}
