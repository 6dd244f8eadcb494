package wc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/signadot/raedit/delta"
)

// TransmitTextDeltas sends the text of the working file rel to file, an
// open file baton of editor, and closes the baton.
//
// The text is sent as a delta against the text base, or against the empty
// text when fulltext is set. The detranslated text is left at the
// returned path, the file's temporary text base, to be installed once the
// commit succeeds. If editor declines the delta, the baton is just closed
// and no temporary base is made.
func TransmitTextDeltas(w *WC, rel string, fulltext bool, editor delta.Editor, file delta.Baton) (string, error) {
	rel = cleanRel(rel)
	var base []byte
	baseSum := ""
	if !fulltext {
		e, err := w.Entry(rel)
		if err != nil {
			return "", err
		}
		base, err = os.ReadFile(w.TextBasePath(rel))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			base = nil
		case err != nil:
			return "", fmt.Errorf("failed to read text base of %q: %w", rel, err)
		default:
			baseSum = delta.Checksum(base)
			if e.Checksum != "" && e.Checksum != baseSum {
				return "", fmt.Errorf("checksum mismatch for text base of %q; expected %s, actual %s", rel, e.Checksum, baseSum)
			}
		}
	}

	h, err := editor.ApplyTextDelta(file, baseSum)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", editor.CloseFile(file, "")
	}

	text, err := w.DetranslatedText(rel)
	if err != nil {
		return "", err
	}
	tmp := w.TmpTextBasePath(rel)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(tmp, text, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temporary text base of %q: %w", rel, err)
	}
	if err := delta.SendWindows(base, text, h); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := editor.CloseFile(file, delta.Checksum(text)); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// TransmitPropDeltas sends the local property changes of rel to baton, a
// directory or file baton of editor according to kind.
func TransmitPropDeltas(w *WC, rel string, kind delta.NodeKind, editor delta.Editor, baton delta.Baton) error {
	changes, err := w.PropChanges(rel)
	if err != nil {
		return err
	}
	for _, c := range changes {
		switch kind {
		case delta.KindDir:
			err = editor.ChangeDirProp(baton, c.Name, c.Value)
		case delta.KindFile:
			err = editor.ChangeFileProp(baton, c.Name, c.Value)
		default:
			return fmt.Errorf("cannot transmit properties of %q: kind %s", rel, kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
