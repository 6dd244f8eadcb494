package wc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	jsonpatch "github.com/evanphx/json-patch"
	"github.com/vmihailenco/msgpack/v5"
)

// Props is a property set. Values are opaque bytes.
type Props map[string][]byte

const (
	workingProps = 'p'
	baseProps    = 'b'
)

// Well known properties.
const (
	PropEOLStyle = "svn:eol-style"
	PropKeywords = "svn:keywords"

	// entry props carry an entry's last commit on an update edit; they
	// are recorded in the entry, never in a property set.
	PropEntryPrefix       = "svn:entry:"
	PropEntryCommittedRev = PropEntryPrefix + "committed-rev"
	PropEntryCommitDate   = PropEntryPrefix + "committed-date"
	PropEntryLastAuthor   = PropEntryPrefix + "last-author"
)

func propKey(kind byte, rel string) []byte {
	return append([]byte{kind, 0}, rel...)
}

// Props returns the working properties of rel.
func (w *WC) Props(rel string) (Props, error) {
	return w.readProps(workingProps, rel)
}

// BaseProps returns the pristine properties of rel.
func (w *WC) BaseProps(rel string) (Props, error) {
	return w.readProps(baseProps, rel)
}

// SetProps replaces the working properties of rel. Nil values are dropped.
func (w *WC) SetProps(rel string, props Props) error {
	return w.writeProps(workingProps, rel, props)
}

// SetBaseProps replaces the pristine properties of rel.
func (w *WC) SetBaseProps(rel string, props Props) error {
	return w.writeProps(baseProps, rel, props)
}

func (w *WC) readProps(kind byte, rel string) (Props, error) {
	props := Props{}
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(propKey(kind, cleanRel(rel)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return msgpack.Unmarshal(v, &props)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %q: %w", rel, err)
	}
	for k, v := range props {
		if v == nil {
			props[k] = []byte{}
		}
	}
	return props, nil
}

func (w *WC) writeProps(kind byte, rel string, props Props) error {
	clean := Props{}
	for k, v := range props {
		if v != nil {
			clean[k] = v
		}
	}
	key := propKey(kind, cleanRel(rel))
	err := w.db.Update(func(txn *badger.Txn) error {
		if len(clean) == 0 {
			return txn.Delete(key)
		}
		d, err := msgpack.Marshal(clean)
		if err != nil {
			return err
		}
		return txn.Set(key, d)
	})
	if err != nil {
		return fmt.Errorf("failed to write properties of %q: %w", rel, err)
	}
	return nil
}

// PropChange is one property difference. A nil Value deletes the
// property.
type PropChange struct {
	Name  string
	Value []byte
}

// DiffProps returns the changes turning base into working, sorted by name.
func DiffProps(base, working Props) ([]PropChange, error) {
	if base == nil {
		base = Props{}
	}
	if working == nil {
		working = Props{}
	}
	orig, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	mod, err := json.Marshal(working)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(orig, mod)
	if err != nil {
		return nil, fmt.Errorf("failed to diff properties: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode property diff: %w", err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	changes := make([]PropChange, 0, len(names))
	for _, name := range names {
		raw := fields[name]
		if string(raw) == "null" {
			changes = append(changes, PropChange{Name: name})
			continue
		}
		var v []byte
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode property %q: %w", name, err)
		}
		if v == nil {
			v = []byte{}
		}
		changes = append(changes, PropChange{Name: name, Value: v})
	}
	return changes, nil
}

// PropChanges returns the local property modifications of rel.
func (w *WC) PropChanges(rel string) ([]PropChange, error) {
	base, err := w.BaseProps(rel)
	if err != nil {
		return nil, err
	}
	working, err := w.Props(rel)
	if err != nil {
		return nil, err
	}
	return DiffProps(base, working)
}

// Apply returns a copy of p with changes applied.
func (p Props) Apply(changes ...PropChange) Props {
	res := make(Props, len(p))
	for k, v := range p {
		res[k] = v
	}
	for _, c := range changes {
		if c.Value == nil {
			delete(res, c.Name)
			continue
		}
		res[c.Name] = c.Value
	}
	return res
}
