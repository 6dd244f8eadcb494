// Package wc is a working copy: a checked out tree whose administrative
// area records the revision, schedule, properties and pristine text of
// every versioned node.
//
// Paths handed to a WC are relative to its root and use '/' separators;
// "" names the root itself.
package wc

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/signadot/raedit/delta"
)

const (
	// AdminDir is the name of the administrative directory at the root of
	// a working copy.
	AdminDir = ".raedit"

	entriesDir  = "entries"
	textBaseDir = "text-base"
	tmpDir      = "tmp"
	baseExt     = ".base"
)

var (
	ErrNotWorkingCopy   = errors.New("not a working copy")
	ErrNotVersioned     = errors.New("not under version control")
	ErrObstructedUpdate = errors.New("obstructed update")
	ErrConflict         = errors.New("local modifications conflict with update")
)

// Options configures a WC.
type Options struct {
	Log *slog.Logger
}

// WC is an open working copy.
type WC struct {
	root string
	db   *badger.DB
	log  *slog.Logger
}

// Init creates a working copy at root, checked out from url at rev. The
// directory itself may already exist.
func Init(root, url string, rev delta.Revnum, opts *Options) (*WC, error) {
	admin := filepath.Join(root, AdminDir)
	if _, err := os.Stat(admin); err == nil {
		return nil, fmt.Errorf("%s is already a working copy", root)
	}
	for _, d := range []string{textBaseDir, filepath.Join(tmpDir, textBaseDir)} {
		if err := os.MkdirAll(filepath.Join(admin, d), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create admin area: %w", err)
		}
	}
	w, err := open(root, opts)
	if err != nil {
		return nil, err
	}
	top := &Entry{Kind: delta.KindDir, Revision: rev, URL: url, CommittedRev: delta.InvalidRevnum}
	if err := w.SetEntry("", top); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Open opens the working copy at root.
func Open(root string, opts *Options) (*WC, error) {
	fi, err := os.Stat(filepath.Join(root, AdminDir))
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotWorkingCopy)
	}
	return open(root, opts)
}

func open(root string, opts *Options) (*WC, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	bopts := badger.DefaultOptions(filepath.Join(abs, AdminDir, entriesDir))
	bopts.Logger = nil
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open entries: %w", err)
	}
	return &WC{root: abs, db: db, log: log.With("wc", abs)}, nil
}

// Close releases the entries store.
func (w *WC) Close() error {
	return w.db.Close()
}

// Root returns the absolute path of the working copy.
func (w *WC) Root() string {
	return w.root
}

// Abs returns the on-disk path of rel.
func (w *WC) Abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Rel converts an on-disk path inside the working copy to a relative path.
func (w *WC) Rel(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the working copy %s", p, w.root)
	}
	return cleanRel(rel), nil
}

// TextBasePath returns where the pristine text of rel is kept.
func (w *WC) TextBasePath(rel string) string {
	return filepath.Join(w.root, AdminDir, textBaseDir, filepath.FromSlash(cleanRel(rel))+baseExt)
}

// TmpTextBasePath returns where a new pristine text of rel waits for a
// commit to finish.
func (w *WC) TmpTextBasePath(rel string) string {
	return filepath.Join(w.root, AdminDir, tmpDir, textBaseDir, filepath.FromSlash(cleanRel(rel))+baseExt)
}

// DiskKind returns the kind of the node at rel on disk; KindNone if it does
// not exist. Symbolic links are files.
func (w *WC) DiskKind(rel string) (delta.NodeKind, error) {
	fi, err := os.Lstat(w.Abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return delta.KindNone, nil
	}
	if err != nil {
		return delta.KindUnknown, err
	}
	return modeKind(fi.Mode()), nil
}

func modeKind(m fs.FileMode) delta.NodeKind {
	switch {
	case m.IsDir():
		return delta.KindDir
	case m.IsRegular(), m&fs.ModeSymlink != 0:
		return delta.KindFile
	default:
		return delta.KindUnknown
	}
}

// InstallTextBase makes data the pristine text of rel and returns its
// checksum.
func (w *WC) InstallTextBase(rel string, data []byte) (string, error) {
	if err := w.writeAtomic(w.TextBasePath(rel), data); err != nil {
		return "", fmt.Errorf("failed to install text base of %q: %w", rel, err)
	}
	return delta.Checksum(data), nil
}

// writeAtomic writes data to a temp file in the admin area and renames it
// to dst.
func (w *WC) writeAtomic(dst string, data []byte) error {
	tmp := filepath.Join(w.root, AdminDir, tmpDir, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func cleanRel(rel string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
}

func splitRel(rel string) (dir, name string) {
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return "", rel
	}
	return rel[:i], rel[i+1:]
}

func joinRel(dir, name string) string {
	switch {
	case dir == "":
		return name
	case name == "":
		return dir
	}
	return dir + "/" + name
}

// within reports whether p is dir or below it.
func within(dir, p string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}
