package editorp

import (
	"io"
	"log/slog"

	"github.com/signadot/raedit/debug"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/wire"
)

type entryKind uint8

const (
	kindDir entryKind = iota
	kindFile
)

func (k entryKind) String() string {
	if k == kindFile {
		return "file"
	}
	return "dir"
}

// tokenEntry is what a token names on the consuming side.
type tokenEntry struct {
	token string
	kind  entryKind
	baton delta.Baton
	arena *arena

	// set between apply-textdelta and textdelta-end
	stream      io.WriteCloser
	streamArena *arena
}

// tokenTable maps wire tokens to open batons. An entry leaves the table
// when its owning arena is cleared.
type tokenTable struct {
	m   map[string]*tokenEntry
	log *slog.Logger
}

func newTokenTable(log *slog.Logger) *tokenTable {
	return &tokenTable{m: make(map[string]*tokenEntry), log: log}
}

func errBadToken() error {
	return wire.Malformed("invalid file or dir token during edit")
}

func (t *tokenTable) add(token string, kind entryKind, baton delta.Baton, a *arena) (*tokenEntry, error) {
	if _, ok := t.m[token]; ok {
		return nil, wire.Malformed("token %q already in use", token)
	}
	e := &tokenEntry{token: token, kind: kind, baton: baton, arena: a}
	t.m[token] = e
	a.onCleanup(func() {
		if t.m[token] == e {
			t.remove(token)
		}
	})
	if debug.Tokens() {
		t.log.Debug("token added", "token", token, "kind", kind, "size", len(t.m))
	}
	return e, nil
}

func (t *tokenTable) lookup(token string, kind entryKind) (*tokenEntry, error) {
	e, ok := t.m[token]
	if !ok || e.kind != kind {
		return nil, errBadToken()
	}
	return e, nil
}

func (t *tokenTable) remove(token string) {
	delete(t.m, token)
	if debug.Tokens() {
		t.log.Debug("token removed", "token", token, "size", len(t.m))
	}
}

func (t *tokenTable) len() int {
	return len(t.m)
}
