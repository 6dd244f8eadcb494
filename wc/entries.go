package wc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/signadot/raedit/delta"
	"github.com/vmihailenco/msgpack/v5"
)

// Schedule is the pending local change recorded for an entry.
type Schedule uint8

const (
	ScheduleNormal Schedule = iota
	ScheduleAdd
	ScheduleDelete
	ScheduleReplace
)

func (s Schedule) String() string {
	switch s {
	case ScheduleNormal:
		return "normal"
	case ScheduleAdd:
		return "add"
	case ScheduleDelete:
		return "delete"
	case ScheduleReplace:
		return "replace"
	default:
		return fmt.Sprintf("schedule(%d)", uint8(s))
	}
}

// ThisDir is the name of a directory's entry for itself.
const ThisDir = ""

// Entry is the recorded state of a versioned node.
//
// A directory's full entry is its ThisDir entry; its parent only keeps the
// kind and schedule.
type Entry struct {
	Name          string         `msgpack:"-"`
	Kind          delta.NodeKind `msgpack:"kind"`
	Revision      delta.Revnum   `msgpack:"rev"`
	Schedule      Schedule       `msgpack:"schedule,omitempty"`
	URL           string         `msgpack:"url,omitempty"`
	CommittedRev  delta.Revnum   `msgpack:"cmt_rev"`
	CommittedDate time.Time      `msgpack:"cmt_date,omitempty"`
	LastAuthor    string         `msgpack:"cmt_author,omitempty"`
	Checksum      string         `msgpack:"checksum,omitempty"`
	TextTime      time.Time      `msgpack:"text_time,omitempty"`
}

func entryPrefix(dir string) []byte {
	return []byte("e\x00" + dir + "\x00")
}

func entryKey(dir, name string) []byte {
	return append(entryPrefix(dir), name...)
}

func getEntry(txn *badger.Txn, dir, name string) (*Entry, error) {
	item, err := txn.Get(entryKey(dir, name))
	if err != nil {
		return nil, err
	}
	e := &Entry{}
	err = item.Value(func(v []byte) error {
		return msgpack.Unmarshal(v, e)
	})
	if err != nil {
		return nil, fmt.Errorf("corrupt entry %q in %q: %w", name, dir, err)
	}
	e.Name = name
	return e, nil
}

func putEntry(txn *badger.Txn, dir, name string, e *Entry) error {
	d, err := msgpack.Marshal(e)
	if err != nil {
		return err
	}
	return txn.Set(entryKey(dir, name), d)
}

// SetEntry records e for rel. A directory entry is written as the
// directory's ThisDir entry plus a stub in its parent. The parent of rel
// must be a versioned directory.
func (w *WC) SetEntry(rel string, e *Entry) error {
	rel = cleanRel(rel)
	dir, name := splitRel(rel)
	return w.db.Update(func(txn *badger.Txn) error {
		if rel != "" {
			parent, err := getEntry(txn, dir, ThisDir)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("parent of %q: %w", rel, ErrNotVersioned)
			}
			if err != nil {
				return err
			}
			if parent.Kind != delta.KindDir {
				return fmt.Errorf("parent of %q is not a directory", rel)
			}
		}
		if e.Kind != delta.KindDir {
			if rel == "" {
				return fmt.Errorf("the working copy root must be a directory")
			}
			return putEntry(txn, dir, name, e)
		}
		if err := putEntry(txn, rel, ThisDir, e); err != nil {
			return err
		}
		if rel == "" {
			return nil
		}
		stub := &Entry{Kind: delta.KindDir, Schedule: e.Schedule, Revision: delta.InvalidRevnum, CommittedRev: delta.InvalidRevnum}
		return putEntry(txn, dir, name, stub)
	})
}

// Entry returns the entry of rel. Directories answer with their ThisDir
// entry.
func (w *WC) Entry(rel string) (*Entry, error) {
	rel = cleanRel(rel)
	var e *Entry
	err := w.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = lookupEntry(txn, rel)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func lookupEntry(txn *badger.Txn, rel string) (*Entry, error) {
	e, err := getEntry(txn, rel, ThisDir)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}
	if rel != "" {
		dir, name := splitRel(rel)
		e, err = getEntry(txn, dir, name)
		if err == nil {
			return inherit(txn, dir, e)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%q: %w", rel, ErrNotVersioned)
}

// inherit fills a file entry's unset revision and URL from its directory.
func inherit(txn *badger.Txn, dir string, e *Entry) (*Entry, error) {
	if e.Kind != delta.KindFile || (e.Revision.Valid() && e.URL != "") {
		return e, nil
	}
	this, err := getEntry(txn, dir, ThisDir)
	if err != nil {
		return nil, err
	}
	return inheritFrom(this, e), nil
}

func inheritFrom(this, e *Entry) *Entry {
	if e.Kind != delta.KindFile {
		return e
	}
	if !e.Revision.Valid() {
		e.Revision = this.Revision
	}
	if e.URL == "" && this.URL != "" {
		e.URL = this.URL + "/" + e.Name
	}
	return e
}

// Entries returns the entries of the directory dir sorted by name, its
// ThisDir entry first.
func (w *WC) Entries(dir string) ([]*Entry, error) {
	dir = cleanRel(dir)
	var res []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		prefix := entryPrefix(dir)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			e := &Entry{Name: string(item.Key()[len(prefix):])}
			err := item.Value(func(v []byte) error {
				return msgpack.Unmarshal(v, e)
			})
			if err != nil {
				return fmt.Errorf("corrupt entry %q in %q: %w", e.Name, dir, err)
			}
			res = append(res, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || res[0].Name != ThisDir {
		return nil, fmt.Errorf("directory %q: %w", dir, ErrNotVersioned)
	}
	for _, e := range res[1:] {
		inheritFrom(res[0], e)
	}
	return res, nil
}

// RemoveEntry forgets rel, everything recorded below it, and their
// properties and text bases.
func (w *WC) RemoveEntry(rel string) error {
	rel = cleanRel(rel)
	if rel == "" {
		return fmt.Errorf("cannot remove the working copy root")
	}
	dir, name := splitRel(rel)
	err := w.db.Update(func(txn *badger.Txn) error {
		keys := [][]byte{entryKey(dir, name), propKey(workingProps, rel), propKey(baseProps, rel)}
		for _, prefix := range [][]byte{
			entryPrefix(rel),
			[]byte("e\x00" + rel + "/"),
			propKey(workingProps, rel+"/"),
			propKey(baseProps, rel+"/"),
		} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove entry %q: %w", rel, err)
	}
	for _, d := range []string{textBaseDir, filepath.Join(tmpDir, textBaseDir)} {
		p := filepath.Join(w.root, AdminDir, d, filepath.FromSlash(rel))
		os.Remove(p + baseExt)
		os.RemoveAll(p)
	}
	return nil
}
