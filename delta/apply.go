package delta

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Applier rebuilds a target text from windows against a source text.
type Applier struct {
	source io.ReaderAt
	target io.Writer
	sum    hash.Hash
	tview  []byte
	n      int64
	done   bool
}

// NewApplier returns an Applier reading source views from source and writing
// the target to target. A nil source means the empty text.
func NewApplier(source io.ReaderAt, target io.Writer) *Applier {
	return &Applier{source: source, target: target, sum: md5.New()}
}

// Handle is a WindowHandler.
func (a *Applier) Handle(w *Window) error {
	if a.done {
		return fmt.Errorf("window after end of delta")
	}
	if w == nil {
		a.done = true
		return nil
	}
	sview := make([]byte, w.SourceLen)
	if w.SourceLen > 0 {
		if a.source == nil {
			return fmt.Errorf("window reads %d source bytes from an empty source", w.SourceLen)
		}
		n, err := a.source.ReadAt(sview, w.SourceOffset)
		if n < len(sview) {
			return fmt.Errorf("failed to read source view at %d: %w", w.SourceOffset, err)
		}
	}
	tview, err := w.Apply(sview, a.tview[:0])
	if err != nil {
		return err
	}
	a.tview = tview
	a.sum.Write(tview)
	a.n += int64(len(tview))
	if a.target == nil {
		return nil
	}
	if _, err := a.target.Write(tview); err != nil {
		return fmt.Errorf("failed to write target view: %w", err)
	}
	return nil
}

// Done reports whether the terminating window was seen.
func (a *Applier) Done() bool {
	return a.done
}

// Len returns the number of target bytes produced so far.
func (a *Applier) Len() int64 {
	return a.n
}

// Checksum returns the hex md5 of the target produced so far.
func (a *Applier) Checksum() string {
	return hex.EncodeToString(a.sum.Sum(nil))
}

// Checksum returns the hex md5 of data, the form used for text checksums.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
